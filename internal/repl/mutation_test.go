package repl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/state"
)

func TestDecodeArgsRoundTrip(t *testing.T) {
	tests := []struct {
		name Name
		args Args
	}{
		{NamePutFeatures, PutFeaturesArgs{MapID: "m1", Features: []moment.Feature{{ID: "f1", At: "a0"}}}},
		{NameDeleteFeatures, DeleteFeaturesArgs{MapID: "m1", IDs: []string{"f1"}}},
		{NamePutFolders, PutFoldersArgs{MapID: "m1", Folders: []moment.Folder{{ID: "d1", Name: "x", Visibility: true}}}},
		{NameDeleteFolders, DeleteFoldersArgs{MapID: "m1", IDs: []string{"d1"}}},
		{NamePutLayerConfigs, PutLayerConfigsArgs{MapID: "m1", LayerConfigs: []moment.LayerConfig{{ID: "l1", Name: "base", Type: "XYZ"}}}},
		{NameDeleteLayerConfigs, DeleteLayerConfigsArgs{MapID: "m1", IDs: []string{"l1"}}},
		{NamePutPresence, PutPresenceArgs{MapID: "m1", Presence: state.Presence{ClientID: "c1"}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			mut, err := NewMutation(tt.name, tt.args)
			require.NoError(t, err)
			assert.Zero(t, mut.ID, "id is assigned at enqueue, not construction")

			got, err := DecodeArgs(mut)
			require.NoError(t, err)
			assert.Equal(t, tt.args, got)
			assert.Equal(t, "m1", got.Map())
		})
	}
}

func TestDecodeArgsUnknownName(t *testing.T) {
	_, err := DecodeArgs(Mutation{Name: "dropTables", Args: []byte(`{}`)})
	assert.Error(t, err)
}

func TestMutationsFromMomentOrder(t *testing.T) {
	m := moment.New("Edit")
	m.PutFeatures = []moment.Feature{{ID: "f1", At: "a0"}}
	m.DeleteFeatures = []string{"f2"}
	m.PutFolders = []moment.Folder{{ID: "d1", Name: "x", Visibility: true}}
	m.DeleteLayerConfigs = []string{"l1"}

	muts, err := MutationsFromMoment("m1", m)
	require.NoError(t, err)
	require.Len(t, muts, 4)

	// Deletes precede puts, mirroring local application order.
	names := make([]Name, len(muts))
	for i, mut := range muts {
		names[i] = mut.Name
	}
	assert.Equal(t, []Name{
		NameDeleteFeatures,
		NameDeleteLayerConfigs,
		NamePutFeatures,
		NamePutFolders,
	}, names)

	for _, mut := range muts {
		args, err := DecodeArgs(mut)
		require.NoError(t, err)
		assert.Equal(t, "m1", args.Map())
	}
}

func TestMutationsFromEmptyMoment(t *testing.T) {
	muts, err := MutationsFromMoment("m1", moment.New("noop"))
	require.NoError(t, err)
	assert.Empty(t, muts)
}
