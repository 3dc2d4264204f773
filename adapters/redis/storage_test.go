package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/core"
	"progresskit/engine"
)

// newTestStore spins up a miniredis server and returns a Store plus cleanup.
func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewWithClient(client)
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return store, cleanup
}

func putWithXP(t *testing.T, store *Store, user core.UserID, xp int64) {
	t.Helper()
	prog := core.NewProgression(user)
	prog.XP = xp
	prog.Level = core.LevelFromXP(xp)
	require.NoError(t, store.PutProgression(context.Background(), user, prog, 0))
}

func TestStore_GetProgression_Fresh(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	prog, version, err := store.GetProgression(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)
	assert.Equal(t, core.UserID("nobody"), prog.UserID)
	assert.Zero(t, prog.XP)
	assert.Equal(t, int64(1), prog.Level)
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	prog := core.NewProgression("alice")
	prog.XP = 120
	prog.Level = 1
	prog.StreakCount = 3
	prog.Badges["welcome"] = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutProgression(ctx, "alice", prog, 0))

	got, version, err := store.GetProgression(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, int64(120), got.XP)
	assert.Equal(t, int64(3), got.StreakCount)
	assert.True(t, got.HasBadge("welcome"))
}

func TestStore_PutProgression_VersionConflict(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	prog := core.NewProgression("alice")
	require.NoError(t, store.PutProgression(ctx, "alice", prog, 0))

	// A second write with the stale token must not land.
	prog.XP = 999
	err := store.PutProgression(ctx, "alice", prog, 0)
	assert.ErrorIs(t, err, engine.ErrVersionConflict)

	got, version, err := store.GetProgression(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Zero(t, got.XP)

	// The current token still works.
	prog.XP = 50
	require.NoError(t, store.PutProgression(ctx, "alice", prog, 1))
}

func TestStore_AppendEvent_Idempotent(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ev := core.XPEvent{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50, Time: time.Now().UTC()}

	accepted, err := store.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = store.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, accepted)

	events, err := store.ListEvents(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_ListEvents_Paging(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		_, err := store.AppendEvent(ctx, core.XPEvent{ID: id, UserID: "alice", Action: core.ActionLessonComplete, XP: 25})
		require.NoError(t, err)
	}

	page1, err := store.ListEvents(ctx, "alice", 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "e", page1[0].ID)
	assert.Equal(t, "d", page1[1].ID)

	page3, err := store.ListEvents(ctx, "alice", 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "a", page3[0].ID)

	page4, err := store.ListEvents(ctx, "alice", 4, 2)
	require.NoError(t, err)
	assert.Empty(t, page4)
}

func TestStore_ScanTopByXP(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	putWithXP(t, store, "alice", 2000)
	putWithXP(t, store, "carol", 1500)
	putWithXP(t, store, "bob", 1500)
	putWithXP(t, store, "dave", 100)

	progs, err := store.ScanTopByXP(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, progs, 3)
	assert.Equal(t, core.UserID("alice"), progs[0].UserID)
	assert.Equal(t, core.UserID("bob"), progs[1].UserID)
	assert.Equal(t, core.UserID("carol"), progs[2].UserID)
}

func TestStore_ScanTopByXP_BoundaryTie(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	// Three users tied at the cutoff; the ascending-ID rule picks which
	// two survive a limit of 2.
	putWithXP(t, store, "zed", 500)
	putWithXP(t, store, "amy", 500)
	putWithXP(t, store, "meg", 500)

	progs, err := store.ScanTopByXP(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, progs, 2)
	assert.Equal(t, core.UserID("amy"), progs[0].UserID)
	assert.Equal(t, core.UserID("meg"), progs[1].UserID)
}

func TestStore_CountHigherXP(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	putWithXP(t, store, "alice", 2000)
	putWithXP(t, store, "bob", 1500)
	putWithXP(t, store, "carol", 1500)

	count, err := store.CountHigherXP(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.CountHigherXP(ctx, 2000)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.CountHigherXP(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "localhost:6379", config.Addr)
	assert.Equal(t, "", config.Password)
	assert.Equal(t, 0, config.DB)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, 2, config.MinIdleConns)
	assert.Equal(t, 5*time.Second, config.DialTimeout)
	assert.Equal(t, 3*time.Second, config.ReadTimeout)
	assert.Equal(t, 3*time.Second, config.WriteTimeout)
}

func TestStore_CommitAward_Atomic(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	prog := core.NewProgression("alice")
	prog.XP = 60
	prog.Level = 1
	events := []core.XPEvent{
		{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50},
		{ID: "ev-1:streak", UserID: "alice", Action: core.ActionStreakBonus, XP: 10, RelatedRef: "ev-1"},
	}
	accepted, err := store.CommitAward(ctx, "alice", prog, 0, events)
	require.NoError(t, err)
	require.True(t, accepted)

	got, version, err := store.GetProgression(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, int64(60), got.XP)

	list, err := store.ListEvents(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	top, err := store.ScanTopByXP(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(60), top[0].XP)
}

func TestStore_CommitAward_ReplayLeavesStateAlone(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	prog := core.NewProgression("alice")
	prog.XP = 50
	events := []core.XPEvent{{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50}}
	accepted, err := store.CommitAward(ctx, "alice", prog, 0, events)
	require.NoError(t, err)
	require.True(t, accepted)

	prog.XP = 999
	accepted, err = store.CommitAward(ctx, "alice", prog, 1, events)
	require.NoError(t, err)
	assert.False(t, accepted)

	got, version, err := store.GetProgression(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, int64(50), got.XP)
}

func TestStore_CommitAward_StaleVersionWritesNothing(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	putWithXP(t, store, "alice", 0)

	prog := core.NewProgression("alice")
	prog.XP = 50
	events := []core.XPEvent{{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50}}
	accepted, err := store.CommitAward(ctx, "alice", prog, 0, events)
	assert.False(t, accepted)
	require.ErrorIs(t, err, engine.ErrVersionConflict)

	list, err := store.ListEvents(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	accepted, err = store.CommitAward(ctx, "alice", prog, 1, events)
	require.NoError(t, err)
	assert.True(t, accepted)
}
