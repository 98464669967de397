package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/repl"
	"github.com/placemark/mapsync/internal/state"
)

func newReplicated(t *testing.T) (*Replicated, *repl.Client) {
	t.Helper()
	st := state.NewStore()
	client := repl.NewClient(repl.ClientConfig{
		BaseURL:  "http://unused",
		Token:    "tok",
		ClientID: "c1",
		MapID:    "m1",
		Sink:     st,
	})
	return NewReplicatedWithStore(client, "m1", st), client
}

func TestReplicatedTransactEnqueuesMutations(t *testing.T) {
	p, client := newReplicated(t)
	ctx := context.Background()

	require.NoError(t, p.Transact(ctx, drawMoment("f1")))

	// Optimistic: the local store reflects the edit immediately.
	_, ok := p.Store().Feature("f1")
	assert.True(t, ok)
	assert.Equal(t, 1, client.PendingCount())

	undo, _ := p.HistoryDepths()
	assert.Equal(t, 1, undo)
}

func TestReplicatedTransactSubmitsMintedAt(t *testing.T) {
	// The pushed mutation must carry the at value the store actually wrote,
	// not the empty one the caller supplied.
	p, client := newReplicated(t)
	ctx := context.Background()

	m := moment.New("Draw")
	m.PutFeatures = append(m.PutFeatures, moment.Feature{ID: "f1"})
	require.NoError(t, p.Transact(ctx, m))

	require.Equal(t, 1, client.PendingCount())
	f, ok := p.Store().Feature("f1")
	require.True(t, ok)
	assert.NotEmpty(t, f.At)
}

func TestReplicatedQuietTransact(t *testing.T) {
	p, client := newReplicated(t)
	ctx := context.Background()

	require.NoError(t, p.Transact(ctx, drawMoment("f1"), Quiet()))

	// Quiet skips the undo stack but still replicates.
	undo, _ := p.HistoryDepths()
	assert.Zero(t, undo)
	assert.Equal(t, 1, client.PendingCount())
}

func TestReplicatedUndoIsSubmitted(t *testing.T) {
	p, client := newReplicated(t)
	ctx := context.Background()

	require.NoError(t, p.Transact(ctx, drawMoment("f1")))
	require.Equal(t, 1, client.PendingCount())

	// An undo is a first-class edit: it travels to the server like any
	// other mutation instead of rolling anything back silently.
	require.NoError(t, p.HistoryControl(ctx, moment.Undo))
	_, ok := p.Store().Feature("f1")
	assert.False(t, ok)
	assert.Equal(t, 2, client.PendingCount())

	undo, redo := p.HistoryDepths()
	assert.Equal(t, 0, undo)
	assert.Equal(t, 1, redo)
}

func TestReplicatedUndoOnEmptyStack(t *testing.T) {
	p, client := newReplicated(t)
	ctx := context.Background()

	require.NoError(t, p.HistoryControl(ctx, moment.Undo))
	assert.Zero(t, client.PendingCount())
}

func TestReplicatedPutPresence(t *testing.T) {
	p, client := newReplicated(t)
	ctx := context.Background()

	require.NoError(t, p.PutPresence(ctx, state.Presence{ClientID: "c1", CursorLongitude: 13.4}))

	got := p.Store().Presences()
	require.Len(t, got, 1)
	assert.Equal(t, 13.4, got[0].CursorLongitude)
	assert.Equal(t, 1, client.PendingCount())

	undo, _ := p.HistoryDepths()
	assert.Zero(t, undo)
}
