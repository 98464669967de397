package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/server"
	"github.com/placemark/mapsync/internal/state"
	"github.com/placemark/mapsync/internal/store"
)

// API serves the sync endpoints for one store.
type API struct {
	store  *store.Store
	proc   *server.Processor
	hub    *Hub
	logger *slog.Logger
}

// NewAPI wires the HTTP layer. hub may be shared with the processor's
// notifier so pokes reach subscribers of the same process.
func NewAPI(st *store.Store, proc *server.Processor, hub *Hub, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: st, proc: proc, hub: hub, logger: logger}
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sync/push", a.authorized(a.handlePush)).Methods(http.MethodPost)
	r.HandleFunc("/sync/pull", a.authorized(a.handlePull)).Methods(http.MethodPost)
	r.HandleFunc("/sync/meta", a.authorized(a.handleGetMeta)).Methods(http.MethodGet)
	r.HandleFunc("/sync/meta", a.authorized(a.handlePutMeta)).Methods(http.MethodPut)
	r.HandleFunc("/sync/poke", a.authorized(a.handlePoke)).Methods(http.MethodGet)
	return r
}

// authorized resolves the bearer token to the single map it grants and
// passes that map id through. An unknown token is rejected before any
// request body is read.
func (a *API) authorized(next func(w http.ResponseWriter, r *http.Request, mapID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		mapID, err := a.store.SessionMap(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				http.Error(w, "unknown session", http.StatusUnauthorized)
				return
			}
			a.internalError(w, "resolve session", err)
			return
		}
		next(w, r, mapID)
	}
}

// bearerToken extracts the session token from the Authorization header,
// falling back to the token query parameter for websocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (a *API) handlePush(w http.ResponseWriter, r *http.Request, mapID string) {
	var req repl.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed push request", http.StatusBadRequest)
		return
	}
	err := a.proc.Push(r.Context(), mapID, req, server.PushOptions{})
	if err != nil {
		a.writeProtocolError(w, "push", err)
		return
	}
	writeJSON(w, repl.PushResponse{})
}

func (a *API) handlePull(w http.ResponseWriter, r *http.Request, mapID string) {
	var req repl.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed pull request", http.StatusBadRequest)
		return
	}
	resp, err := a.proc.Pull(r.Context(), mapID, req)
	if err != nil {
		a.writeProtocolError(w, "pull", err)
		return
	}
	writeJSON(w, resp)
}

func (a *API) handleGetMeta(w http.ResponseWriter, r *http.Request, mapID string) {
	meta, err := a.store.MapMeta(r.Context(), mapID)
	if err != nil {
		if errors.Is(err, store.ErrMapNotFound) {
			http.Error(w, "map not found", http.StatusNotFound)
			return
		}
		a.internalError(w, "read metadata", err)
		return
	}
	writeJSON(w, state.Metadata{
		Label:         meta.Label,
		Description:   meta.Description,
		Symbolization: meta.Symbolization,
	})
}

func (a *API) handlePutMeta(w http.ResponseWriter, r *http.Request, mapID string) {
	var md state.Metadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		http.Error(w, "malformed metadata", http.StatusBadRequest)
		return
	}
	if err := a.store.UpdateMapMeta(r.Context(), mapID, md.Label, md.Description, md.Symbolization); err != nil {
		if errors.Is(err, store.ErrMapNotFound) {
			http.Error(w, "map not found", http.StatusNotFound)
			return
		}
		a.internalError(w, "update metadata", err)
		return
	}
	if a.hub != nil {
		go a.hub.Poke(mapID)
	}
	writeJSON(w, md)
}

func (a *API) handlePoke(w http.ResponseWriter, r *http.Request, mapID string) {
	if a.hub == nil {
		http.Error(w, "poke channel not enabled", http.StatusNotFound)
		return
	}
	a.hub.Subscribe(w, r, mapID)
}

// writeProtocolError maps the push/pull error taxonomy onto status codes:
// authorization failures are retry-blocking 403s, other categorized
// rejections are 400s, anything else is internal.
func (a *API) writeProtocolError(w http.ResponseWriter, op string, err error) {
	switch {
	case server.IsAuthError(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	case server.IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.internalError(w, op, err)
	}
}

func (a *API) internalError(w http.ResponseWriter, op string, err error) {
	a.logger.Error(op+" failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
