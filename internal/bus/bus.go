// Package bus is the shared coordination fabric between workers and
// gateways: pub/sub channels for move routing plus small TTL-governed
// keys for presence, executor records and the pending-match queue.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HGetAll when the key does not exist.
var ErrNotFound = errors.New("bus: key not found")

// Message is one delivery from a subscription.
type Message struct {
	Channel string
	Pattern string // set for pattern subscriptions
	Payload []byte
}

// Subscription is a live channel or pattern subscription. Close releases it;
// the Messages channel is closed afterwards.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is the pub/sub + small-KV surface shared by all workers and gateways.
// The Redis implementation is authoritative; the in-memory implementation
// serves single-process runs and tests.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// QueuePush appends to a work queue; QueuePop blocks up to timeout for
	// the oldest entry. ok is false when the wait expired empty.
	QueuePush(ctx context.Context, queue, value string) error
	QueuePop(ctx context.Context, queue string, timeout time.Duration) (value string, ok bool, err error)

	Close() error
}
