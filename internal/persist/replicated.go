package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/state"
)

// Replicated is the persistence variant backed by the sync protocol.
//
// Transact applies the Moment optimistically — local state reflects the
// edit before any network round-trip — and enqueues the equivalent
// mutations on the replication client, which delivers them in order and
// retries on its own. An undo is submitted the same way: one user's undo
// is a normal, visible edit to collaborators, never a hidden rollback of
// state they may have built upon.
type Replicated struct {
	store  *state.Store
	log    *moment.Log
	client *repl.Client
	mapID  string

	mu sync.Mutex
}

var _ Persistence = (*Replicated)(nil)

// NewReplicated creates a Replicated persistence over a fresh store. The
// caller owns running client.Run for delivery.
func NewReplicated(client *repl.Client, mapID string) *Replicated {
	return &Replicated{
		store:  state.NewStore(),
		log:    moment.NewLog(),
		client: client,
		mapID:  mapID,
	}
}

// NewReplicatedWithStore creates a Replicated persistence over an existing
// store, which must be the client's patch sink.
func NewReplicatedWithStore(client *repl.Client, mapID string, store *state.Store) *Replicated {
	return &Replicated{
		store:  store,
		log:    moment.NewLog(),
		client: client,
		mapID:  mapID,
	}
}

// Store returns the live collections.
func (p *Replicated) Store() *state.Store {
	return p.store
}

// Transact applies m optimistically, records the inverse for undo unless
// Quiet, and enqueues the applied Moment for push. The inverse is
// reconstructed from the locally held collections before anything is sent,
// so prior values are captured at call time.
func (p *Replicated) Transact(_ context.Context, m moment.Moment, opts ...TransactOption) error {
	o := applyOptions(opts)
	applied, inverse, err := p.store.Apply(m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if !o.quiet {
		p.log.PushUndo(inverse)
	}
	p.mu.Unlock()
	return p.submit(applied)
}

// HistoryControl performs one undo or redo step and submits the applied
// Moment as a first-class outgoing mutation.
func (p *Replicated) HistoryControl(_ context.Context, dir moment.Direction) error {
	p.mu.Lock()
	m, ok := p.log.Pop(dir)
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	applied, inverse, err := p.store.Apply(m)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.log.PushOpposite(dir, inverse)
	p.mu.Unlock()

	if inverse.IsEmpty() {
		// The step changed nothing; nothing to sync either.
		return nil
	}
	return p.submit(applied)
}

// submit converts an applied Moment into wire mutations and enqueues them.
// Delivery is fire-and-forget: ordering and retries belong to the client.
func (p *Replicated) submit(applied moment.Moment) error {
	if applied.IsEmpty() {
		return nil
	}
	muts, err := repl.MutationsFromMoment(p.mapID, applied)
	if err != nil {
		return fmt.Errorf("persist: build mutations: %w", err)
	}
	p.client.Enqueue(muts...)
	return nil
}

// Metadata reads the document properties from the server.
func (p *Replicated) Metadata(ctx context.Context) (state.Metadata, error) {
	return p.client.FetchMetadata(ctx)
}

// UpdateMetadata replaces the document properties on the server.
func (p *Replicated) UpdateMetadata(ctx context.Context, md state.Metadata) error {
	return p.client.PutMetadata(ctx, md)
}

// PutPresence records presence locally and broadcasts it as a best-effort
// mutation. Never undo-tracked.
func (p *Replicated) PutPresence(_ context.Context, pr state.Presence) error {
	p.store.PutPresence(pr)
	mut, err := repl.NewMutation(repl.NamePutPresence, repl.PutPresenceArgs{MapID: p.mapID, Presence: pr})
	if err != nil {
		return fmt.Errorf("persist: build presence mutation: %w", err)
	}
	p.client.Enqueue(mut)
	return nil
}

// HistoryDepths reports the undo and redo stack depths, for UI affordances.
func (p *Replicated) HistoryDepths() (undo, redo int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Depths()
}
