package bus

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryBus is a process-local Bus for single-node runs and tests. Semantics
// match the Redis implementation: fan-out pub/sub, glob patterns, lazy key
// expiry, FIFO queues.
type MemoryBus struct {
	mu       sync.Mutex
	subs     map[*memorySubscription]struct{}
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	strings  map[string]string
	expiries map[string]time.Time
	queues   map[string]chan string
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:     make(map[*memorySubscription]struct{}),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		strings:  make(map[string]string),
		expiries: make(map[string]time.Time),
		queues:   make(map[string]chan string),
	}
}

type memorySubscription struct {
	bus      *MemoryBus
	channels map[string]struct{}
	patterns []string
	out      chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.out) })
	return nil
}

func (s *memorySubscription) deliver(msg Message) {
	if _, ok := s.channels[msg.Channel]; ok {
		select {
		case s.out <- msg:
		default:
		}
		return
	}
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, msg.Channel); ok {
			msg.Pattern = p
			select {
			case s.out <- msg:
			default:
			}
			return
		}
	}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.deliver(Message{Channel: channel, Payload: payload})
	}
	return nil
}

func (b *MemoryBus) addSub(channels, patterns []string) Subscription {
	sub := &memorySubscription{
		bus:      b,
		channels: make(map[string]struct{}, len(channels)),
		patterns: patterns,
		out:      make(chan Message, 64),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	return b.addSub(channels, nil), nil
}

func (b *MemoryBus) PSubscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	return b.addSub(nil, patterns), nil
}

// expired reports and reaps a lapsed key. Caller holds the lock.
func (b *MemoryBus) expired(key string) bool {
	exp, ok := b.expiries[key]
	if !ok || time.Now().Before(exp) {
		return false
	}
	delete(b.expiries, key)
	delete(b.hashes, key)
	delete(b.sets, key)
	delete(b.strings, key)
	return true
}

func (b *MemoryBus) HSet(ctx context.Context, key string, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired(key)
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (b *MemoryBus) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return nil, ErrNotFound
	}
	h, ok := b.hashes[key]
	if !ok || len(h) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBus) SAdd(ctx context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired(key)
	s, ok := b.sets[key]
	if !ok {
		s = make(map[string]struct{})
		b.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (b *MemoryBus) SRem(ctx context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sets[key]; ok {
		for _, m := range members {
			delete(s, m)
		}
	}
	return nil
}

func (b *MemoryBus) SMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return nil, nil
	}
	s := b.sets[key]
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	return out, nil
}

func (b *MemoryBus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strings[key] = value
	if ttl > 0 {
		b.expiries[key] = time.Now().Add(ttl)
	} else {
		delete(b.expiries, key)
	}
	return nil
}

func (b *MemoryBus) Get(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return "", ErrNotFound
	}
	v, ok := b.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (b *MemoryBus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiries[key] = time.Now().Add(ttl)
	return nil
}

func (b *MemoryBus) Del(ctx context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.hashes, key)
		delete(b.sets, key)
		delete(b.strings, key)
		delete(b.expiries, key)
	}
	return nil
}

func (b *MemoryBus) queue(name string) chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan string, 1024)
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBus) QueuePush(ctx context.Context, queue, value string) error {
	select {
	case b.queue(queue) <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) QueuePop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-b.queue(queue):
		return v, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.once.Do(func() { close(sub.out) })
	}
	return nil
}
