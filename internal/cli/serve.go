package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/placemark/mapsync/internal/httpapi"
	"github.com/placemark/mapsync/internal/server"
	"github.com/placemark/mapsync/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	ConfigPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Start the mapsync server.

The server opens a SQLite database (creating it if it doesn't exist) and
serves the push/pull replication endpoints plus the poke websocket.

Example:
  mapsync serve --addr :8090 --database ./mapsync.db
  mapsync serve --config ./mapsync.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "address to listen on")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg := DefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := LoadConfig(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	// Flags override the config file.
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if cmd.Flags().Changed("database") || cfg.Database == "" {
		cfg.Database = opts.Database
	}
	if cfg.Addr == "" {
		return NewExitError(ExitCommandError, "no listen address configured")
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready")

	hub := httpapi.NewHub(slog.Default())
	proc := server.NewProcessor(st,
		server.WithNotifier(hub),
		server.WithLogger(slog.Default()),
	)
	api := httpapi.NewAPI(st, proc, hub, slog.Default())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "shutdown error", err)
		}
	}

	slog.Info("server stopped")
	return nil
}
