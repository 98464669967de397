package server

import (
	"context"
	"errors"

	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/state"
	"github.com/placemark/mapsync/internal/store"
)

// Pull builds the patch reconstructing sessionMapID's state since the
// request cookie.
//
// A nil cookie marks a fresh client: its patch begins with a clear op and
// contains no tombstones, because a client with no prior state simply
// never sees deleted records. A client with a cookie receives a del for
// every record deleted after it, and puts for everything else that
// changed. Presence rows ride along under their own key prefix.
func (p *Processor) Pull(ctx context.Context, sessionMapID string, req repl.PullRequest) (repl.PullResponse, error) {
	if req.SchemaVersion != repl.SchemaVersion {
		return repl.PullResponse{}, newPushError(CodeSchemaMismatch,
			"client schema %d, server schema %d", req.SchemaVersion, repl.SchemaVersion)
	}

	meta, err := p.store.MapMeta(ctx, sessionMapID)
	if err != nil {
		if errors.Is(err, store.ErrMapNotFound) {
			return repl.PullResponse{}, newPushError(CodeMapNotFound, "map %q does not exist", sessionMapID)
		}
		return repl.PullResponse{}, err
	}

	lastMutationID, err := p.store.LastMutationID(ctx, req.ClientID)
	if err != nil {
		return repl.PullResponse{}, err
	}

	fresh := req.Cookie == nil
	since := int64(-1)
	var patch []state.PatchOp
	if fresh {
		patch = append(patch, state.PatchOp{Op: state.OpClear})
	} else {
		since = *req.Cookie
	}

	collections := []struct {
		c   store.Collection
		key func(id string) string
	}{
		{store.Features, state.FeatureKey},
		{store.Folders, state.FolderKey},
		{store.LayerConfigs, state.LayerConfigKey},
	}
	for _, col := range collections {
		rows, err := p.store.RecordsSince(ctx, col.c, sessionMapID, since)
		if err != nil {
			return repl.PullResponse{}, err
		}
		for _, row := range rows {
			if row.Deleted {
				if !fresh {
					patch = append(patch, state.PatchOp{Op: state.OpDel, Key: col.key(row.ID)})
				}
				continue
			}
			patch = append(patch, state.PatchOp{Op: state.OpPut, Key: col.key(row.ID), Value: row.Value})
		}
	}

	presences, err := p.store.PresenceSince(ctx, sessionMapID, since)
	if err != nil {
		return repl.PullResponse{}, err
	}
	for _, pr := range presences {
		if pr.ClientID == req.ClientID {
			// A client's own cursor echoing back would fight its live one.
			continue
		}
		patch = append(patch, state.PatchOp{Op: state.OpPut, Key: state.PresenceKey(pr.ClientID), Value: pr.Value})
	}

	return repl.PullResponse{
		Cookie:         meta.Version,
		LastMutationID: lastMutationID,
		Patch:          patch,
	}, nil
}
