package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/placemark/mapsync/internal/state"
)

// ErrUnauthorized is returned when the server rejects the session for the
// target map. Unlike transport failures this is retry-blocking: resending
// the same push cannot succeed.
var ErrUnauthorized = errors.New("repl: session not authorized for map")

// PatchSink receives pull patches. Implemented by state.Store.
type PatchSink interface {
	ApplyPatch(ops []state.PatchOp) error
}

// ClientConfig configures a replication Client.
type ClientConfig struct {
	// BaseURL is the sync server root, e.g. "http://localhost:8080".
	BaseURL string
	// Token is the bearer session token authorizing one map.
	Token string
	// ClientID identifies this client's mutation sequence. Must be unique
	// per session; a UUID is fine.
	ClientID string
	// MapID is the single map this client replicates.
	MapID string
	// Sink receives pull patches.
	Sink PatchSink
	// PullInterval is the timer fallback between pulls. The poke channel
	// usually triggers pulls sooner. Defaults to 5s.
	PullInterval time.Duration
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client queues mutations, pushes them in order, and pulls patches.
//
// Enqueue is fire-and-forget from the caller's perspective: the optimistic
// local update has already happened by the time a mutation is enqueued,
// and delivery is retried by the client, never by application code.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending []Mutation
	nextID  uint64 // next mutation sequence number to assign
	cookie  *int64
	lastAck uint64 // highest mutation id the server has confirmed

	wake chan struct{}
	poke chan struct{}
}

// NewClient creates a Client. The first enqueued mutation gets id 1.
func NewClient(cfg ClientConfig) *Client {
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		nextID: 1,
		wake:   make(chan struct{}, 1),
		poke:   make(chan struct{}, 1),
	}
}

// Enqueue assigns sequence numbers to muts and queues them for push.
// Mutations are delivered to the server in exactly this order.
func (c *Client) Enqueue(muts ...Mutation) {
	if len(muts) == 0 {
		return
	}
	c.mu.Lock()
	for _, m := range muts {
		m.ID = c.nextID
		c.nextID++
		c.pending = append(c.pending, m)
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// PendingCount returns the number of mutations awaiting server
// confirmation.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Cookie returns the version watermark of the last fully applied pull,
// nil before the first pull completes.
func (c *Client) Cookie() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookie == nil {
		return nil
	}
	v := *c.cookie
	return &v
}

// PushNow submits every pending mutation in one push request. Mutations
// stay pending until a pull confirms them; resending already-applied ids
// is safe because the server skips anything at or below its watermark.
func (c *Client) PushNow(ctx context.Context) error {
	c.mu.Lock()
	muts := make([]Mutation, len(c.pending))
	copy(muts, c.pending)
	c.mu.Unlock()
	if len(muts) == 0 {
		return nil
	}

	req := PushRequest{
		ClientID:      c.cfg.ClientID,
		SchemaVersion: SchemaVersion,
		PushVersion:   1,
		Mutations:     muts,
	}
	var resp PushResponse
	if err := c.post(ctx, "/sync/push", req, &resp); err != nil {
		return err
	}
	return nil
}

// PullNow fetches and applies the patch since the current cookie, then
// prunes pending mutations the server has confirmed.
func (c *Client) PullNow(ctx context.Context) error {
	c.mu.Lock()
	req := PullRequest{
		ClientID:       c.cfg.ClientID,
		SchemaVersion:  SchemaVersion,
		LastMutationID: c.lastAck,
		Cookie:         c.cookie,
	}
	c.mu.Unlock()

	var resp PullResponse
	if err := c.post(ctx, "/sync/pull", req, &resp); err != nil {
		return err
	}
	if err := c.cfg.Sink.ApplyPatch(resp.Patch); err != nil {
		return fmt.Errorf("repl: apply pull patch: %w", err)
	}

	c.mu.Lock()
	cookie := resp.Cookie
	c.cookie = &cookie
	c.lastAck = resp.LastMutationID
	kept := c.pending[:0]
	for _, m := range c.pending {
		if m.ID > resp.LastMutationID {
			kept = append(kept, m)
		}
	}
	c.pending = kept
	c.mu.Unlock()
	return nil
}

// FetchMetadata reads the map's out-of-band document properties.
func (c *Client) FetchMetadata(ctx context.Context) (state.Metadata, error) {
	var md state.Metadata
	if err := c.do(ctx, http.MethodGet, "/sync/meta", nil, &md); err != nil {
		return state.Metadata{}, err
	}
	return md, nil
}

// PutMetadata replaces the map's document properties. Metadata edits go
// through the same version counter as record mutations, so collaborators
// see them on their next pull.
func (c *Client) PutMetadata(ctx context.Context, md state.Metadata) error {
	return c.do(ctx, http.MethodPut, "/sync/meta", md, nil)
}

// Poke requests an early pull, as the realtime channel does when the
// server announces new data. Coalesced: multiple pokes before the next
// pull collapse into one.
func (c *Client) Poke() {
	select {
	case c.poke <- struct{}{}:
	default:
	}
}

// Run drives the push and pull loops until ctx is done. Transport errors
// are retried with exponential backoff; ErrUnauthorized aborts the run.
func (c *Client) Run(ctx context.Context) error {
	go c.listenPokes(ctx)

	ticker := time.NewTicker(c.cfg.PullInterval)
	defer ticker.Stop()

	// Initial pull bootstraps a fresh client before any pushes happen.
	if err := c.retry(ctx, c.PullNow); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			if err := c.retry(ctx, c.PushNow); err != nil {
				return err
			}
		case <-c.poke:
			if err := c.retry(ctx, c.PullNow); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.retry(ctx, c.PushNow); err != nil {
				return err
			}
			if err := c.retry(ctx, c.PullNow); err != nil {
				return err
			}
		}
	}
}

// retry runs op under the client's backoff policy. Authorization failures
// are permanent; everything else retries until ctx is done.
func (c *Client) retry(ctx context.Context, op func(context.Context) error) error {
	policy := backoff.WithContext(newRetryBackOff(), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if errors.Is(err, ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn("sync attempt failed", "error", err)
		}
		return err
	}, policy)
}

// newRetryBackOff builds the transport retry policy. MaxElapsedTime is
// zeroed so an outage of any length never stops the sync loop; only ctx
// cancellation or an authorization failure ends it.
func newRetryBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return bo
}

// listenPokes keeps a websocket open to the server's poke channel and
// translates each message into an early pull. Purely a latency hint: if
// the socket drops, the pull timer still converges.
func (c *Client) listenPokes(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.listenOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Debug("poke channel closed, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *Client) listenOnce(ctx context.Context) error {
	wsURL, err := pokeURL(c.cfg.BaseURL, c.cfg.MapID)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
		c.Poke()
	}
}

// pokeURL rewrites the http(s) base URL to its ws(s) poke endpoint.
func pokeURL(base, mapID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("repl: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/sync/poke"
	q := u.Query()
	q.Set("mapId", mapID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// post sends a JSON request body and decodes a JSON response body.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do sends a JSON request and decodes a JSON response. A nil body sends no
// payload; a nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("repl: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("repl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("repl: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("repl: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("repl: decode %s response: %w", path, err)
	}
	return nil
}
