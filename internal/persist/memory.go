package persist

import (
	"context"
	"sync"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/state"
)

// Memory is the persistence variant for ephemeral sessions: a single
// process, synchronous application, no network. Anonymous/unauthenticated
// editing runs on this; nothing outlives the session.
type Memory struct {
	store *state.Store
	log   *moment.Log

	mu   sync.Mutex
	meta state.Metadata
}

var _ Persistence = (*Memory)(nil)

// NewMemory creates a Memory persistence over a fresh store.
func NewMemory() *Memory {
	return &Memory{
		store: state.NewStore(),
		log:   moment.NewLog(),
	}
}

// Store returns the live collections.
func (p *Memory) Store() *state.Store {
	return p.store
}

// Transact applies m and records its inverse for undo unless Quiet.
func (p *Memory) Transact(_ context.Context, m moment.Moment, opts ...TransactOption) error {
	o := applyOptions(opts)
	_, inverse, err := p.store.Apply(m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !o.quiet {
		p.log.PushUndo(inverse)
	}
	return nil
}

// HistoryControl performs one undo or redo step.
func (p *Memory) HistoryControl(_ context.Context, dir moment.Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.log.Pop(dir)
	if !ok {
		return nil
	}
	_, inverse, err := p.store.Apply(m)
	if err != nil {
		return err
	}
	p.log.PushOpposite(dir, inverse)
	return nil
}

// Metadata returns the session's document properties.
func (p *Memory) Metadata(_ context.Context) (state.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta, nil
}

// UpdateMetadata replaces the session's document properties.
func (p *Memory) UpdateMetadata(_ context.Context, md state.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta = md
	return nil
}

// PutPresence records presence locally; with no collaborators it is only
// ever seen by this session.
func (p *Memory) PutPresence(_ context.Context, pr state.Presence) error {
	p.store.PutPresence(pr)
	return nil
}

// HistoryDepths reports the undo and redo stack depths, for UI affordances.
func (p *Memory) HistoryDepths() (undo, redo int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Depths()
}
