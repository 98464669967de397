package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placemark/mapsync/internal/moment"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestApplyPatchPuts(t *testing.T) {
	s := NewStore()

	ops := []PatchOp{
		{Op: OpPut, Key: FeatureKey("f1"), Value: mustJSON(t, feat("f1", "", "a0"))},
		{Op: OpPut, Key: FolderKey("d1"), Value: mustJSON(t, moment.Folder{ID: "d1", At: "a0", Name: "layers", Visibility: true})},
		{Op: OpPut, Key: LayerConfigKey("l1"), Value: mustJSON(t, moment.LayerConfig{ID: "l1", At: "a0", Name: "base", Type: "XYZ", Opacity: 1, Visibility: true})},
		{Op: OpPut, Key: PresenceKey("c1"), Value: mustJSON(t, Presence{ClientID: "c1", UserName: "ada"})},
	}
	require.NoError(t, s.ApplyPatch(ops))

	_, ok := s.Feature("f1")
	assert.True(t, ok)
	_, ok = s.Folder("d1")
	assert.True(t, ok)
	_, ok = s.LayerConfig("l1")
	assert.True(t, ok)
	require.Len(t, s.Presences(), 1)
	assert.Equal(t, "ada", s.Presences()[0].UserName)

	// Patch puts register render ids like local puts do.
	assert.True(t, s.IDs().Has("f1"))
	assert.True(t, s.IDs().Has("d1"))
}

func TestApplyPatchDels(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpPut, Key: FeatureKey("f1"), Value: mustJSON(t, feat("f1", "", "a0"))},
	}))

	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpDel, Key: FeatureKey("f1")},
		{Op: OpDel, Key: FeatureKey("never-existed")},
	}))

	assert.Zero(t, s.FeatureCount())
	assert.False(t, s.IDs().Has("f1"))
}

func TestApplyPatchClear(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpPut, Key: FeatureKey("f1"), Value: mustJSON(t, feat("f1", "", "a0"))},
		{Op: OpPut, Key: FolderKey("d1"), Value: mustJSON(t, moment.Folder{ID: "d1", Name: "x", Visibility: true})},
	}))

	// A fresh pull starts with clear, then rebuilds from the puts after it.
	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpClear},
		{Op: OpPut, Key: FeatureKey("f2"), Value: mustJSON(t, feat("f2", "", "a0"))},
	}))

	assert.Equal(t, 1, s.FeatureCount())
	_, ok := s.Feature("f1")
	assert.False(t, ok)
	_, ok = s.Folder("d1")
	assert.False(t, ok)
	assert.False(t, s.IDs().Has("f1"))
	assert.True(t, s.IDs().Has("f2"))
}

func TestApplyPatchRepairsSelection(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpPut, Key: FeatureKey("f1"), Value: mustJSON(t, feat("f1", "", "a0"))},
	}))
	require.NoError(t, s.Select("f1"))

	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpDel, Key: FeatureKey("f1")},
	}))
	assert.Empty(t, s.Selection())
}

func TestApplyPatchRejectsUnknownOp(t *testing.T) {
	s := NewStore()
	err := s.ApplyPatch([]PatchOp{{Op: "replace", Key: FeatureKey("f1")}})
	assert.Error(t, err)
}

func TestApplyPatchRejectsUnknownKeyPrefix(t *testing.T) {
	s := NewStore()
	err := s.ApplyPatch([]PatchOp{{Op: OpPut, Key: "widget/w1", Value: mustJSON(t, feat("f1", "", "a0"))}})
	assert.Error(t, err)
}

func TestApplyPatchSortOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpPut, Key: FeatureKey("f2"), Value: mustJSON(t, feat("f2", "", "a1"))},
		{Op: OpPut, Key: FeatureKey("f1"), Value: mustJSON(t, feat("f1", "", "a0"))},
		{Op: OpPut, Key: FeatureKey("f3"), Value: mustJSON(t, feat("f3", "", "a2"))},
	}))

	got := s.FeaturesInFolder("")
	require.Len(t, got, 3)
	assert.Equal(t, "f1", got[0].ID)
	assert.Equal(t, "f2", got[1].ID)
	assert.Equal(t, "f3", got[2].ID)

	// Moving a feature between folders re-sorts both views.
	moved := feat("f2", "elsewhere", "a1")
	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpPut, Key: FeatureKey("f2"), Value: mustJSON(t, moved)},
	}))
	assert.Len(t, s.FeaturesInFolder(""), 2)
	assert.Len(t, s.FeaturesInFolder("elsewhere"), 1)
}

func TestApplyPatchNotifiesWatchers(t *testing.T) {
	s := NewStore()
	calls := 0
	s.Watch(func() { calls++ })

	require.NoError(t, s.ApplyPatch([]PatchOp{
		{Op: OpPut, Key: FeatureKey("f1"), Value: mustJSON(t, feat("f1", "", "a0"))},
	}))
	assert.Equal(t, 1, calls)

	// An empty patch is a no-op and does not notify.
	require.NoError(t, s.ApplyPatch(nil))
	assert.Equal(t, 1, calls)
}
