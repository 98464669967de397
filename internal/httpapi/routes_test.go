package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/server"
	"github.com/placemark/mapsync/internal/state"
	"github.com/placemark/mapsync/internal/store"
)

func newTestAPI(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateMap(ctx, "m1", "Test map"))
	require.NoError(t, st.PutSession(ctx, "tok-m1", "m1"))

	hub := NewHub(nil)
	proc := server.NewProcessor(st, server.WithNotifier(hub))
	api := NewAPI(st, proc, hub, nil)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func testPush(clientID string, muts ...repl.Mutation) repl.PushRequest {
	return repl.PushRequest{
		ClientID:      clientID,
		SchemaVersion: repl.SchemaVersion,
		PushVersion:   1,
		Mutations:     muts,
	}
}

func featureMutation(t *testing.T, id uint64, featureID string) repl.Mutation {
	t.Helper()
	m, err := repl.NewMutation(repl.NamePutFeatures, repl.PutFeaturesArgs{
		MapID:    "m1",
		Features: []moment.Feature{{ID: featureID, At: "a0", Geometry: json.RawMessage(`{"type":"Point","coordinates":[0,0]}`)}},
	})
	require.NoError(t, err)
	m.ID = id
	return m
}

func TestPushPullRoundTrip(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sync/push", "tok-m1",
		testPush("c1", featureMutation(t, 1, "f1")))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/sync/pull", "tok-m1",
		repl.PullRequest{ClientID: "c2", SchemaVersion: repl.SchemaVersion})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pull repl.PullResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pull))
	assert.Equal(t, int64(1), pull.Cookie)
	require.NotEmpty(t, pull.Patch)
	assert.Equal(t, state.OpClear, pull.Patch[0].Op)
}

func TestMissingTokenRejected(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sync/push", "", testPush("c1"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownTokenRejected(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sync/pull", "stolen-token",
		repl.PullRequest{ClientID: "c1", SchemaVersion: repl.SchemaVersion})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForeignMapPushForbidden(t *testing.T) {
	srv, _ := newTestAPI(t)

	m, err := repl.NewMutation(repl.NamePutFeatures, repl.PutFeaturesArgs{
		MapID: "m2", Features: []moment.Feature{{ID: "f1", At: "a0"}},
	})
	require.NoError(t, err)
	m.ID = 1

	resp := doJSON(t, http.MethodPost, srv.URL+"/sync/push", "tok-m1", testPush("c1", m))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSchemaMismatchIsBadRequest(t *testing.T) {
	srv, _ := newTestAPI(t)

	req := testPush("c1", featureMutation(t, 1, "f1"))
	req.SchemaVersion = 99
	resp := doJSON(t, http.MethodPost, srv.URL+"/sync/push", "tok-m1", req)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	srv, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sync/push", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok-m1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetadataRoundTrip(t *testing.T) {
	srv, st := newTestAPI(t)

	update := state.Metadata{
		Label:         "Harbor",
		Description:   "field survey",
		Symbolization: json.RawMessage(`{"simplestyle":true}`),
	}
	resp := doJSON(t, http.MethodPut, srv.URL+"/sync/meta", "tok-m1", update)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/sync/meta", "tok-m1", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var md state.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	assert.Equal(t, "Harbor", md.Label)
	assert.Equal(t, "field survey", md.Description)
	assert.JSONEq(t, `{"simplestyle":true}`, string(md.Symbolization))

	// Metadata edits advance the map version so pulls pick them up.
	meta, err := st.MapMeta(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.Version)
}

func TestPokeWebsocket(t *testing.T) {
	srv, _ := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync/poke?token=tok-m1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber hears about a committed push.
	resp := doJSON(t, http.MethodPost, srv.URL+"/sync/push", "tok-m1",
		testPush("c1", featureMutation(t, 1, "f1")))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "poke", string(msg))
}

func TestPokeWithoutHubIsNotFound(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateMap(ctx, "m1", "Test map"))
	require.NoError(t, st.PutSession(ctx, "tok-m1", "m1"))

	// No hub: the poke endpoint declines instead of panicking.
	api := NewAPI(st, server.NewProcessor(st), nil, nil)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodGet, srv.URL+"/sync/poke", "tok-m1", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPokeWebsocketRequiresToken(t *testing.T) {
	srv, _ := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync/poke"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
