package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPubSub(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "reply:abc")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "reply:abc", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "reply:other", []byte("ignored")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "reply:abc", msg.Channel)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message on %s", msg.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusPatternSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.PSubscribe(ctx, MoveRequestPattern)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, MoveRequestChannel("agent-1"), []byte("req")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "requests:agent-1", msg.Channel)
		assert.Equal(t, MoveRequestPattern, msg.Pattern)
	case <-time.After(time.Second):
		t.Fatal("pattern subscription missed message")
	}
}

func TestMemoryBusHashAndExpiry(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.HSet(ctx, "executors:w1", map[string]string{"hostname": "h", "concurrency": "2"}))
	got, err := b.HGetAll(ctx, "executors:w1")
	require.NoError(t, err)
	assert.Equal(t, "h", got["hostname"])

	require.NoError(t, b.Expire(ctx, "executors:w1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err = b.HGetAll(ctx, "executors:w1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBusSets(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.SAdd(ctx, ExecutorActiveSet, "w1", "w2"))
	require.NoError(t, b.SRem(ctx, ExecutorActiveSet, "w1"))

	members, err := b.SMembers(ctx, ExecutorActiveSet)
	require.NoError(t, err)
	assert.Equal(t, []string{"w2"}, members)
}

func TestMemoryBusQueue(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.QueuePush(ctx, PendingMatchQueue, "m1"))
	require.NoError(t, b.QueuePush(ctx, PendingMatchQueue, "m2"))

	v, ok, err := b.QueuePop(ctx, PendingMatchQueue, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", v)

	v, ok, err = b.QueuePop(ctx, PendingMatchQueue, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m2", v)

	_, ok, err = b.QueuePop(ctx, PendingMatchQueue, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
