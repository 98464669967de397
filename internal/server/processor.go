package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/store"
)

// Notifier announces committed pushes to other connected clients of a
// map. Purely a latency hint: pulls are idempotent and run on a timer
// regardless, so a lost poke costs nothing but delay.
type Notifier interface {
	Poke(mapID string)
}

// EffectFunc runs a side-effecting step after feature rows change, e.g. a
// quota quantity recompute. Guarded by the per-client effect watermark so
// a duplicate mutation can never re-run it, even across pushes.
type EffectFunc func(ctx context.Context, mapID string) error

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithNotifier attaches the poke channel.
func WithNotifier(n Notifier) ProcessorOption {
	return func(p *Processor) { p.notifier = n }
}

// WithFeatureEffect attaches the side-effecting step run when a push
// changes feature rows.
func WithFeatureEffect(fn EffectFunc) ProcessorOption {
	return func(p *Processor) { p.effect = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// Processor applies pushes and builds pull responses.
type Processor struct {
	store    *store.Store
	notifier Notifier
	effect   EffectFunc
	logger   *slog.Logger
}

// NewProcessor creates a Processor over st.
func NewProcessor(st *store.Store, opts ...ProcessorOption) *Processor {
	p := &Processor{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PushOptions carries per-request processing switches.
type PushOptions struct {
	// Skip marks mutation ids whose body should not be applied. The
	// watermark still advances past them, so they can never apply later.
	Skip map[uint64]bool
}

// Push applies req's mutations for the session authorized on sessionMapID.
//
// The whole request is rejected before any work when the mutations span
// more than one map or target a map other than the session's. Otherwise
// mutations are walked in order against the client's watermark: ids below
// expected are skipped (replay), an id above expected stops the walk (a
// gap — the push still ends normally with whatever applied so far), and
// the expected id is applied with the version allocated for this push.
// Any failure rolls the entire transaction back.
func (p *Processor) Push(ctx context.Context, sessionMapID string, req repl.PushRequest, opts PushOptions) error {
	if req.SchemaVersion != repl.SchemaVersion {
		return newPushError(CodeSchemaMismatch, "client schema %d, server schema %d", req.SchemaVersion, repl.SchemaVersion)
	}
	if len(req.Mutations) == 0 {
		return nil
	}

	// Decode every payload up front so a malformed or foreign-map
	// mutation rejects the push before anything is written.
	args := make([]repl.Args, len(req.Mutations))
	for i, m := range req.Mutations {
		a, err := repl.DecodeArgs(m)
		if err != nil {
			return newPushError(CodeUnknownMutation, "mutation %d: %v", m.ID, err)
		}
		if a.Map() != sessionMapID {
			if i > 0 {
				return newPushError(CodeMultipleMaps, "push targets maps %q and %q", sessionMapID, a.Map())
			}
			return newPushError(CodeUnauthorized, "session not authorized for map %q", a.Map())
		}
		args[i] = a
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.store.CheckMap(ctx, tx, sessionMapID); err != nil {
		if errors.Is(err, store.ErrMapNotFound) {
			return newPushError(CodeMapNotFound, "map %q does not exist", sessionMapID)
		}
		return err
	}

	client, err := p.store.ClientRow(ctx, tx, req.ClientID, sessionMapID)
	if err != nil {
		return err
	}

	// The version counter is only allocated when a mutation body actually
	// lands. A push that merely advances the watermark (replayed or
	// skipped mutations) leaves record versions alone, so other clients
	// never pull an empty patch for it.
	var version int64
	advanced, wrote := false, false
	for i, m := range req.Mutations {
		expected := client.LastMutationID + 1
		if m.ID < expected {
			// Already applied; the client retried after losing the
			// response.
			continue
		}
		if m.ID > expected {
			// A lower-numbered mutation hasn't arrived. Stop here and
			// let the client retry from the right point.
			p.logger.Debug("push sequence gap",
				"client", req.ClientID, "got", m.ID, "expected", expected)
			break
		}
		if !opts.Skip[m.ID] {
			if !wrote {
				version, err = p.store.IncrementVersion(ctx, tx, sessionMapID)
				if err != nil {
					return err
				}
				wrote = true
			}
			if err := p.applyMutation(ctx, tx, args[i], version); err != nil {
				return err
			}
			if touchesFeatures(m.Name) && m.ID > client.LastEffectID {
				if p.effect != nil {
					if err := p.effect(ctx, sessionMapID); err != nil {
						return fmt.Errorf("feature effect: %w", err)
					}
				}
				client.LastEffectID = m.ID
			}
		}
		client.LastMutationID = expected
		advanced = true
	}

	if !advanced {
		// Pure replay; nothing to record.
		return nil
	}

	if err := p.store.SetClientRow(ctx, tx, client); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit push: %w", err)
	}

	if wrote && p.notifier != nil {
		go p.notifier.Poke(sessionMapID)
	}
	return nil
}

// touchesFeatures reports whether a mutation kind changes feature rows
// and therefore triggers the side-effecting step.
func touchesFeatures(name repl.Name) bool {
	return name == repl.NamePutFeatures || name == repl.NameDeleteFeatures
}

// applyMutation writes one mutation's record changes at the push's
// version. Exhaustive over the mutation kinds; DecodeArgs already
// rejected anything unknown.
func (p *Processor) applyMutation(ctx context.Context, tx *sql.Tx, a repl.Args, version int64) error {
	mapID := a.Map()
	switch args := a.(type) {
	case repl.PutFeaturesArgs:
		for _, f := range args.Features {
			value, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("encode feature %s: %w", f.ID, err)
			}
			row := store.RecordRow{ID: f.ID, FolderID: f.FolderID, At: f.At, Value: value, Version: version}
			if err := p.store.UpsertRecord(ctx, tx, store.Features, mapID, row); err != nil {
				return err
			}
		}
		return nil
	case repl.DeleteFeaturesArgs:
		for _, id := range args.IDs {
			if err := p.store.SoftDeleteRecord(ctx, tx, store.Features, mapID, id, version); err != nil {
				return err
			}
		}
		return nil
	case repl.PutFoldersArgs:
		for _, f := range args.Folders {
			value, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("encode folder %s: %w", f.ID, err)
			}
			row := store.RecordRow{ID: f.ID, FolderID: f.FolderID, At: f.At, Value: value, Version: version}
			if err := p.store.UpsertRecord(ctx, tx, store.Folders, mapID, row); err != nil {
				return err
			}
		}
		return nil
	case repl.DeleteFoldersArgs:
		for _, id := range args.IDs {
			if err := p.store.SoftDeleteRecord(ctx, tx, store.Folders, mapID, id, version); err != nil {
				return err
			}
		}
		return nil
	case repl.PutLayerConfigsArgs:
		for _, l := range args.LayerConfigs {
			value, err := json.Marshal(l)
			if err != nil {
				return fmt.Errorf("encode layer config %s: %w", l.ID, err)
			}
			row := store.RecordRow{ID: l.ID, At: l.At, Value: value, Version: version}
			if err := p.store.UpsertRecord(ctx, tx, store.LayerConfigs, mapID, row); err != nil {
				return err
			}
		}
		return nil
	case repl.DeleteLayerConfigsArgs:
		for _, id := range args.IDs {
			if err := p.store.SoftDeleteRecord(ctx, tx, store.LayerConfigs, mapID, id, version); err != nil {
				return err
			}
		}
		return nil
	case repl.PutPresenceArgs:
		value, err := json.Marshal(args.Presence)
		if err != nil {
			return fmt.Errorf("encode presence: %w", err)
		}
		return p.store.UpsertPresence(ctx, tx, mapID, args.Presence.ClientID, value, version)
	default:
		return newPushError(CodeUnknownMutation, "unhandled mutation args %T", a)
	}
}
