package votes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarters/api/internal/ballot"
	"quarters/api/internal/store"
)

func setupVotes(t *testing.T, opts ...Option) (*Store, *store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := store.NewRedisStore("redis://"+mr.Addr(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, opts...), kv, mr
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestFetchAllEmptyNamespace(t *testing.T) {
	votes, _, _ := setupVotes(t)
	all, err := votes.FetchAll(context.Background(), "house")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAppendVoteRequiresIdentity(t *testing.T) {
	votes, _, _ := setupVotes(t)
	_, _, err := votes.AppendVote(context.Background(), "house", "", ballot.Picks("h1"))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestAppendVoteKeepsHistoryAndOrdersTimestamps(t *testing.T) {
	votes, _, _ := setupVotes(t, WithClock(fixedClock(1000)))
	ctx := context.Background()

	for _, ids := range [][]string{{"h1"}, {"h1", "h2"}, {"h2"}} {
		_, wrote, err := votes.AppendVote(ctx, "house", "alexis", ballot.Picks(ids...))
		require.NoError(t, err)
		require.True(t, wrote)
	}

	history, err := votes.History(ctx, "house", "alexis")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"h1"}, history[0].Selection.IDs)
	assert.Equal(t, []string{"h1", "h2"}, history[1].Selection.IDs)
	assert.Equal(t, []string{"h2"}, history[2].Selection.IDs)
	assert.Equal(t, int64(1000), history[0].Timestamp)
	assert.Equal(t, int64(1001), history[1].Timestamp)
	assert.Equal(t, int64(1002), history[2].Timestamp)
}

func TestToggleOffRecordsEmptySnapshot(t *testing.T) {
	votes, _, _ := setupVotes(t)
	ctx := context.Background()
	shape := ballot.Multi(3)
	key := "alexis"

	sel, err := ballot.Toggle(shape.Empty(), ballot.Candidate{ID: "h1"}, shape)
	require.NoError(t, err)
	_, _, err = votes.AppendVote(ctx, "house", key, sel)
	require.NoError(t, err)

	all, err := votes.FetchAll(ctx, "house")
	require.NoError(t, err)
	assert.Equal(t, ballot.Counts{"h1": 1}, ballot.ComputeTally(all, shape).Counts(ballot.SlotAll))

	sel, err = ballot.Toggle(ballot.LatestSelection(all[key], shape), ballot.Candidate{ID: "h1"}, shape)
	require.NoError(t, err)
	require.True(t, sel.IsEmpty())
	_, wrote, err := votes.AppendVote(ctx, "house", key, sel)
	require.NoError(t, err)
	assert.True(t, wrote)

	all, err = votes.FetchAll(ctx, "house")
	require.NoError(t, err)
	assert.Len(t, all[key], 2)
	assert.Empty(t, ballot.ComputeTally(all, shape).Counts(ballot.SlotAll))
}

func TestSkipEmptyPolicy(t *testing.T) {
	votes, _, _ := setupVotes(t, WithSkipEmpty())
	ctx := context.Background()

	_, _, err := votes.AppendVote(ctx, "house", "alexis", ballot.Picks("h1"))
	require.NoError(t, err)
	_, wrote, err := votes.AppendVote(ctx, "house", "alexis", ballot.Picks())
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.True(t, votes.SkipsEmpty())

	history, err := votes.History(ctx, "house", "alexis")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"h1"}, history[0].Selection.IDs)

	_, wrote, err = votes.AppendVote(ctx, "rental", "alexis", ballot.DualSlot(ballot.SlotFive, ballot.SlotSeven, 7).Empty())
	require.NoError(t, err)
	assert.False(t, wrote, "empty dual-slot selections follow the same policy")
}

func TestClearAllIsIdempotent(t *testing.T) {
	votes, _, _ := setupVotes(t)
	ctx := context.Background()

	for _, key := range []string{"alexis", "jay"} {
		_, _, err := votes.AppendVote(ctx, "house", key, ballot.Picks("h1"))
		require.NoError(t, err)
	}
	_, _, err := votes.AppendVote(ctx, "rental", "jay", ballot.Selection{Slots: map[ballot.Slot]string{ballot.SlotFive: "c1"}})
	require.NoError(t, err)

	keys := []string{"alexis", "jay", "eric", ""}
	require.NoError(t, votes.ClearAll(ctx, "house", keys))
	require.NoError(t, votes.ClearAll(ctx, "house", keys))

	house, err := votes.FetchAll(ctx, "house")
	require.NoError(t, err)
	assert.Empty(t, house)

	rental, err := votes.FetchAll(ctx, "rental")
	require.NoError(t, err)
	assert.Len(t, rental, 1, "other ballot types are untouched")
}

func TestFetchAllNormalizesStoredKeys(t *testing.T) {
	votes, kv, _ := setupVotes(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "votes/house/Alexis ", json.RawMessage(`[{"ids":["old"],"timestamp":1}]`)))
	require.NoError(t, kv.Set(ctx, "votes/house/alexis", json.RawMessage(`[{"ids":["new"],"timestamp":5}]`)))
	require.NoError(t, kv.Set(ctx, "votes/house/jay", json.RawMessage(`{"not":"a list"}`)))

	all, err := votes.FetchAll(ctx, "house")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"new"}, all["alexis"][0].Selection.IDs)
	assert.Empty(t, all["jay"])
}

func TestSubscribePushesFullMapping(t *testing.T) {
	votes, _, _ := setupVotes(t)
	ctx := context.Background()

	updates := make(chan map[string]ballot.History, 8)
	unsubscribe, err := votes.Subscribe(ctx, "house", func(all map[string]ballot.History) {
		updates <- all
	})
	require.NoError(t, err)

	assert.Empty(t, <-updates)

	_, _, err = votes.AppendVote(ctx, "house", "jay", ballot.Picks("h2"))
	require.NoError(t, err)

	select {
	case all := <-updates:
		require.Len(t, all["jay"], 1)
		assert.Equal(t, []string{"h2"}, all["jay"][0].Selection.IDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no update pushed")
	}

	unsubscribe()
	unsubscribe()
}

func TestStoreFailureSurfaces(t *testing.T) {
	votes, _, mr := setupVotes(t)
	mr.Close()

	_, _, err := votes.AppendVote(context.Background(), "house", "alexis", ballot.Picks("h1"))
	assert.Error(t, err)
	_, err = votes.FetchAll(context.Background(), "house")
	assert.Error(t, err)
}
