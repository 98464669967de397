// Package persist is the single entry point every editing feature calls
// through to mutate a map.
//
// Two implementations exist: Memory for ephemeral, unauthenticated
// sessions (synchronous, no network) and Replicated, which delegates
// record mutation to the replication client so every edit — including an
// undo — reaches the server as a first-class mutation.
package persist

import (
	"context"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/state"
)

// TransactOption adjusts how a single transaction is recorded.
type TransactOption func(*transactOptions)

type transactOptions struct {
	quiet bool
}

// Quiet marks a transaction as not individually undoable. Used for
// high-frequency ephemeral updates, such as drag-move previews, that
// would otherwise flood the undo stack.
func Quiet() TransactOption {
	return func(o *transactOptions) { o.quiet = true }
}

// Persistence mediates every mutation of a map session.
type Persistence interface {
	// Transact applies a partial Moment to live state (filling omitted
	// mutation lists with empty ones) and records its inverse onto the
	// undo stack unless the transaction is Quiet. The optimistic update
	// is visible to the caller before Transact returns.
	Transact(ctx context.Context, m moment.Moment, opts ...TransactOption) error

	// HistoryControl pops the stack selected by dir, applies the popped
	// Moment, and prepends the resulting inverse to the opposite stack.
	// Popping an empty stack is a no-op; an empty inverse is discarded.
	HistoryControl(ctx context.Context, dir moment.Direction) error

	// Metadata returns the current out-of-band document properties.
	Metadata(ctx context.Context) (state.Metadata, error)

	// UpdateMetadata replaces the document properties.
	UpdateMetadata(ctx context.Context, md state.Metadata) error

	// PutPresence broadcasts this session's cursor/viewport. Best-effort:
	// not undo-tracked and not part of Moment application.
	PutPresence(ctx context.Context, p state.Presence) error

	// Store exposes the live collections for rendering and tests.
	Store() *state.Store
}

func applyOptions(opts []TransactOption) transactOptions {
	var o transactOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
