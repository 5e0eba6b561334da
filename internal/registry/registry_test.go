package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragment-arena/internal/bus"
)

func newTestRegistry(b bus.Bus) *Registry {
	return New(b, 30*time.Second, 4, 8)
}

func TestRegisterAndCapacity(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	r1 := newTestRegistry(b)
	require.NoError(t, r1.Register(ctx, "w1", 8, false))
	r2 := newTestRegistry(b)
	require.NoError(t, r2.Register(ctx, "w2", 8, true))

	assert.Equal(t, 8, newTestRegistry(b).MatchCapacity(ctx), "two executors at 4 each")

	active, err := r1.ActiveExecutors(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestCapacityFallsBackWhenEmpty(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	r := newTestRegistry(b)
	assert.Equal(t, 8, r.MatchCapacity(context.Background()))
}

func TestStaleExecutorEvictedDuringScan(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	// A record whose heartbeat is far in the past.
	old := time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, b.HSet(ctx, bus.ExecutorKey("dead"), map[string]string{
		"hostname":             "gone",
		"concurrency":          "8",
		"matches_per_executor": "4",
		"last_heartbeat":       old,
		"started_at":           old,
		"is_external":          "false",
	}))
	require.NoError(t, b.SAdd(ctx, bus.ExecutorActiveSet, "dead"))

	r := newTestRegistry(b)
	require.NoError(t, r.Register(ctx, "alive", 8, false))

	active, err := r.ActiveExecutors(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alive", active[0].WorkerID)

	// Eviction removed the stale entry from the set and the hash.
	members, err := b.SMembers(ctx, bus.ExecutorActiveSet)
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, members)
	_, err = b.HGetAll(ctx, bus.ExecutorKey("dead"))
	assert.ErrorIs(t, err, bus.ErrNotFound)

	assert.Equal(t, 4, r.MatchCapacity(ctx))
}

func TestDeregisterRemovesRecord(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	r := newTestRegistry(b)
	require.NoError(t, r.Register(ctx, "w1", 8, false))
	require.NoError(t, r.Deregister(ctx))

	assert.Equal(t, 8, r.MatchCapacity(ctx), "back to fallback")
}

func TestHeartbeatKeepsExecutorAlive(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	r := New(b, 50*time.Millisecond, 4, 8)
	require.NoError(t, r.Register(ctx, "w1", 8, false))

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, r.Heartbeat(ctx))

	active, err := r.ActiveExecutors(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
