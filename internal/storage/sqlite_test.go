package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cmadac/internal/environment"
	"github.com/copyleftdev/cmadac/internal/tracking"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGetEpisode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ep := Episode{
		ID:            "ep-1",
		Instance:      "sphere",
		BestObjective: 0.25,
		CreatedAt:     time.Unix(1700000000, 0).UTC(),
		States: []environment.Observation{
			{environment.KeyCurrentSigma: {1}},
			{environment.KeyCurrentSigma: {0.2}},
		},
		Transitions: []tracking.Transition{{Action: 0.2, Reward: -0.25}},
	}
	require.NoError(t, store.SaveEpisode(ctx, ep))

	got, ok, err := store.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ep, got)

	_, ok, err = store.GetEpisode(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveEpisodeUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ep := Episode{ID: "ep", Instance: "sphere", BestObjective: 3, CreatedAt: time.Unix(10, 0).UTC()}
	require.NoError(t, store.SaveEpisode(ctx, ep))
	ep.BestObjective = 1
	ep.Transitions = []tracking.Transition{{Action: 1}, {Action: 2, Done: true}}
	require.NoError(t, store.SaveEpisode(ctx, ep))

	list, err := store.ListEpisodes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1.0, list[0].BestObjective)
	assert.Equal(t, 2, list[0].Steps)
}

func TestListEpisodesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveEpisode(ctx, Episode{ID: id, Instance: "rastrigin", CreatedAt: time.Unix(int64(i), 0).UTC()}))
	}

	list, err := store.ListEpisodes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestUninitializedStore(t *testing.T) {
	store := NewSQLiteStore("")
	assert.Error(t, store.Init(context.Background()))

	_, _, err := store.GetEpisode(context.Background(), "x")
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}

func TestEpisodeFromTracker(t *testing.T) {
	tr := tracking.New(nil, 0)
	ep := EpisodeFromTracker("id", "sphere", 2, tr)
	assert.Equal(t, "id", ep.ID)
	assert.Empty(t, ep.States)
	assert.False(t, ep.CreatedAt.IsZero())
}
