package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/placemark/mapsync/internal/store"
	"github.com/placemark/mapsync/internal/testutil"
)

// UUIDv7Generator mints time-ordered UUIDs. The production id generator
// for maps and session tokens.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// MapsOptions holds flags for the map management commands.
type MapsOptions struct {
	*RootOptions
	Label string

	// IDGen allows overriding the id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGen testutil.IDGenerator
}

func (o *MapsOptions) generator() testutil.IDGenerator {
	if o.IDGen != nil {
		return o.IDGen
	}
	return UUIDv7Generator{}
}

// NewCreateMapCommand creates the create-map command.
func NewCreateMapCommand(rootOpts *RootOptions) *cobra.Command {
	return newCreateMapCommand(&MapsOptions{RootOptions: rootOpts})
}

func newCreateMapCommand(opts *MapsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-map",
		Short: "Create a new map",
		Long: `Create a new map and print its id.

Example:
  mapsync create-map --database ./mapsync.db --label "Field survey"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			id := opts.generator().Generate()
			if err := st.CreateMap(cmd.Context(), id, opts.Label); err != nil {
				return WrapExitError(ExitFailure, "failed to create map", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Label, "label", "", "label for the new map")

	return cmd
}

// NewTokenCommand creates the token command, which mints a session token
// granting access to one map.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return newTokenCommand(&MapsOptions{RootOptions: rootOpts})
}

func newTokenCommand(opts *MapsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <map-id>",
		Short: "Mint a session token for a map",
		Long: `Mint a session token and print it.

Clients present the token as a Bearer credential on every sync request;
the server resolves it to the map it was minted for.

Example:
  mapsync token --database ./mapsync.db 0198a3f2-7c1d-7e52-b19a-2f4a9c8e6d01`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			mapID := args[0]
			if _, err := st.MapMeta(cmd.Context(), mapID); err != nil {
				return WrapExitError(ExitCommandError, "unknown map", err)
			}

			token := opts.generator().Generate()
			if err := st.PutSession(cmd.Context(), token, mapID); err != nil {
				return WrapExitError(ExitFailure, "failed to store session", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	return cmd
}
