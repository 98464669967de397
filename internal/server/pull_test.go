package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/state"
)

func pullReq(clientID string, cookie *int64) repl.PullRequest {
	return repl.PullRequest{
		ClientID:      clientID,
		SchemaVersion: repl.SchemaVersion,
		Cookie:        cookie,
	}
}

func cookiePtr(v int64) *int64 { return &v }

func TestPullFreshClientStartsWithClear(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1",
		putFeatureMut(t, 1, "f1", "a0"),
		putFeatureMut(t, 2, "f2", "a1"),
	), PushOptions{}))

	resp, err := p.Pull(ctx, "m1", pullReq("c2", nil))
	require.NoError(t, err)

	assert.Equal(t, int64(1), resp.Cookie)
	assert.Equal(t, uint64(0), resp.LastMutationID, "c2 has pushed nothing")
	require.NotEmpty(t, resp.Patch)
	assert.Equal(t, state.OpClear, resp.Patch[0].Op)

	puts := 0
	for _, op := range resp.Patch[1:] {
		assert.Equal(t, state.OpPut, op.Op)
		puts++
	}
	assert.Equal(t, 2, puts)
}

func TestPullReportsPushersWatermark(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1",
		putFeatureMut(t, 1, "f1", "a0"),
		putFeatureMut(t, 2, "f2", "a1"),
	), PushOptions{}))

	resp, err := p.Pull(ctx, "m1", pullReq("c1", nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.LastMutationID)
}

func TestPullFreshClientNeverSeesTombstones(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1", putFeatureMut(t, 1, "f1", "a0")), PushOptions{}))
	require.NoError(t, p.Push(ctx, "m1", pushReq("c1",
		mut(t, 2, repl.NameDeleteFeatures, repl.DeleteFeaturesArgs{MapID: "m1", IDs: []string{"f1"}}),
	), PushOptions{}))

	resp, err := p.Pull(ctx, "m1", pullReq("c2", nil))
	require.NoError(t, err)

	// A client with no prior state simply never receives deleted records.
	for _, op := range resp.Patch {
		assert.NotEqual(t, state.OpDel, op.Op)
		assert.NotEqual(t, state.FeatureKey("f1"), op.Key)
	}
}

func TestPullWithCookieGetsDels(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1", putFeatureMut(t, 1, "f1", "a0")), PushOptions{}))

	// c2 syncs, then f1 is deleted behind its back.
	first, err := p.Pull(ctx, "m1", pullReq("c2", nil))
	require.NoError(t, err)

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1",
		mut(t, 2, repl.NameDeleteFeatures, repl.DeleteFeaturesArgs{MapID: "m1", IDs: []string{"f1"}}),
	), PushOptions{}))

	resp, err := p.Pull(ctx, "m1", pullReq("c2", cookiePtr(first.Cookie)))
	require.NoError(t, err)

	require.Len(t, resp.Patch, 1)
	assert.Equal(t, state.OpDel, resp.Patch[0].Op)
	assert.Equal(t, state.FeatureKey("f1"), resp.Patch[0].Key)
	assert.Greater(t, resp.Cookie, first.Cookie)
}

func TestPullWithCurrentCookieIsEmpty(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1", putFeatureMut(t, 1, "f1", "a0")), PushOptions{}))

	first, err := p.Pull(ctx, "m1", pullReq("c2", nil))
	require.NoError(t, err)

	resp, err := p.Pull(ctx, "m1", pullReq("c2", cookiePtr(first.Cookie)))
	require.NoError(t, err)
	assert.Empty(t, resp.Patch)
	assert.Equal(t, first.Cookie, resp.Cookie)
}

func TestPullSkipsRequestersOwnPresence(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	for i, clientID := range []string{"c1", "c2"} {
		pres := mut(t, 1, repl.NamePutPresence, repl.PutPresenceArgs{
			MapID:    "m1",
			Presence: state.Presence{ClientID: clientID, CursorLongitude: float64(i)},
		})
		require.NoError(t, p.Push(ctx, "m1", pushReq(clientID, pres), PushOptions{}))
	}

	resp, err := p.Pull(ctx, "m1", pullReq("c1", nil))
	require.NoError(t, err)

	var presenceKeys []string
	for _, op := range resp.Patch {
		if op.Op == state.OpPut && strings.HasPrefix(op.Key, state.KeyPrefixPresence) {
			presenceKeys = append(presenceKeys, op.Key)
		}
	}
	assert.Equal(t, []string{state.PresenceKey("c2")}, presenceKeys)
}

func TestPullSchemaMismatch(t *testing.T) {
	p, _ := newTestProcessor(t)

	req := pullReq("c1", nil)
	req.SchemaVersion = 99
	_, err := p.Pull(context.Background(), "m1", req)

	var pe *PushError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeSchemaMismatch, pe.Code)
}

func TestPullMapNotFound(t *testing.T) {
	p, _ := newTestProcessor(t)

	_, err := p.Pull(context.Background(), "missing", pullReq("c1", nil))

	var pe *PushError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeMapNotFound, pe.Code)
}

func TestPullRoundTripsThroughStateStore(t *testing.T) {
	// A fresh client folding its pull patch into a state.Store ends up
	// with the pushed records.
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1",
		putFeatureMut(t, 1, "f1", "a0"),
		mut(t, 2, repl.NamePutFolders, repl.PutFoldersArgs{
			MapID: "m1", Folders: []moment.Folder{{ID: "d1", At: "a0", Name: "areas", Visibility: true}},
		}),
	), PushOptions{}))

	resp, err := p.Pull(ctx, "m1", pullReq("c2", nil))
	require.NoError(t, err)

	st := state.NewStore()
	require.NoError(t, st.ApplyPatch(resp.Patch))
	_, ok := st.Feature("f1")
	assert.True(t, ok)
	folder, ok := st.Folder("d1")
	require.True(t, ok)
	assert.Equal(t, "areas", folder.Name)
}

func TestPullPatchGolden(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "m1", pushReq("c1",
		putFeatureMut(t, 1, "f1", "a0"),
		mut(t, 2, repl.NamePutFolders, repl.PutFoldersArgs{
			MapID: "m1", Folders: []moment.Folder{{ID: "d1", At: "a1", Name: "areas", Visibility: true}},
		}),
	), PushOptions{}))

	resp, err := p.Pull(ctx, "m1", pullReq("c2", nil))
	require.NoError(t, err)

	data, err := json.MarshalIndent(resp, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "fresh_pull", append(data, '\n'))
}
