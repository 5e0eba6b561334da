package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on a Redis server. All cross-process coordination
// (move routing, presence, executor records, the pending-match queue) goes
// through here in deployment.
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisBus{rdb: rdb}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }

func (b *RedisBus) newSubscription(pubsub *redis.PubSub) Subscription {
	sub := &redisSubscription{pubsub: pubsub, out: make(chan Message, 64)}
	go func() {
		defer close(sub.out)
		for msg := range pubsub.Channel() {
			sub.out <- Message{
				Channel: msg.Channel,
				Pattern: msg.Pattern,
				Payload: []byte(msg.Payload),
			}
		}
	}()
	return sub
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channels...)
	// Force the subscribe round-trip so callers never race their own publish.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return b.newSubscription(pubsub), nil
}

func (b *RedisBus) PSubscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	pubsub := b.rdb.PSubscribe(ctx, patterns...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to psubscribe: %w", err)
	}
	return b.newSubscription(pubsub), nil
}

func (b *RedisBus) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return b.rdb.HSet(ctx, key, args...).Err()
}

func (b *RedisBus) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (b *RedisBus) SAdd(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return b.rdb.SAdd(ctx, key, vals...).Err()
}

func (b *RedisBus) SRem(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return b.rdb.SRem(ctx, key, vals...).Err()
}

func (b *RedisBus) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.rdb.SMembers(ctx, key).Result()
}

func (b *RedisBus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBus) Get(ctx context.Context, key string) (string, error) {
	v, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (b *RedisBus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.rdb.Expire(ctx, key, ttl).Err()
}

func (b *RedisBus) Del(ctx context.Context, keys ...string) error {
	return b.rdb.Del(ctx, keys...).Err()
}

func (b *RedisBus) QueuePush(ctx context.Context, queue, value string) error {
	return b.rdb.LPush(ctx, queue, value).Err()
}

func (b *RedisBus) QueuePop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	res, err := b.rdb.BRPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BRPOP returns [key, value].
	return res[1], true, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
