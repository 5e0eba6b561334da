// Package registry tracks live worker processes on the bus and derives the
// total match capacity the matchmaker may fill. Records expire on their own;
// scans evict anything whose heartbeat lapsed early.
package registry

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"fragment-arena/internal/bus"
)

// Executor is one live worker's record.
type Executor struct {
	WorkerID           string
	Hostname           string
	Concurrency        int
	MatchesPerExecutor int
	IsExternal         bool
	LastHeartbeat      time.Time
	StartedAt          time.Time
}

type Registry struct {
	bus                bus.Bus
	staleThreshold     time.Duration
	fallbackCapacity   int
	matchesPerExecutor int
	workerID           string
	stopCh             chan struct{}
}

func New(b bus.Bus, staleThreshold time.Duration, matchesPerExecutor, fallbackCapacity int) *Registry {
	return &Registry{
		bus:                b,
		staleThreshold:     staleThreshold,
		fallbackCapacity:   fallbackCapacity,
		matchesPerExecutor: matchesPerExecutor,
		stopCh:             make(chan struct{}),
	}
}

// recordTTL keeps records a little past staleness so the set scan, not the
// TTL, is the usual eviction path.
func (r *Registry) recordTTL() time.Duration {
	return r.staleThreshold + 10*time.Second
}

// Register writes this worker's executor record and adds it to the active
// set. Re-registering overwrites.
func (r *Registry) Register(ctx context.Context, workerID string, concurrency int, isExternal bool) error {
	r.workerID = workerID
	hostname, _ := os.Hostname()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	key := bus.ExecutorKey(workerID)
	err := r.bus.HSet(ctx, key, map[string]string{
		"hostname":             hostname,
		"concurrency":          strconv.Itoa(concurrency),
		"matches_per_executor": strconv.Itoa(r.matchesPerExecutor),
		"last_heartbeat":       now,
		"started_at":           now,
		"is_external":          strconv.FormatBool(isExternal),
	})
	if err != nil {
		return err
	}
	if err := r.bus.SAdd(ctx, bus.ExecutorActiveSet, workerID); err != nil {
		return err
	}
	if err := r.bus.Expire(ctx, key, r.recordTTL()); err != nil {
		return err
	}

	log.Printf("[Registry] Registered executor %s (concurrency=%d, matches_per=%d, external=%v)",
		workerID, concurrency, r.matchesPerExecutor, isExternal)
	return nil
}

// Heartbeat refreshes this worker's record and TTL.
func (r *Registry) Heartbeat(ctx context.Context) error {
	if r.workerID == "" {
		return nil
	}
	key := bus.ExecutorKey(r.workerID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.bus.HSet(ctx, key, map[string]string{"last_heartbeat": now}); err != nil {
		return err
	}
	if err := r.bus.Expire(ctx, key, r.recordTTL()); err != nil {
		return err
	}
	// Re-add in case a scan evicted us while the record survived.
	return r.bus.SAdd(ctx, bus.ExecutorActiveSet, r.workerID)
}

// Deregister removes this worker's record on shutdown.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.workerID == "" {
		return nil
	}
	if err := r.bus.Del(ctx, bus.ExecutorKey(r.workerID)); err != nil {
		return err
	}
	if err := r.bus.SRem(ctx, bus.ExecutorActiveSet, r.workerID); err != nil {
		return err
	}
	log.Printf("[Registry] Deregistered executor %s", r.workerID)
	return nil
}

// ActiveExecutors lists workers whose heartbeat is within the stale
// threshold, evicting lapsed entries as it scans.
func (r *Registry) ActiveExecutors(ctx context.Context) ([]Executor, error) {
	ids, err := r.bus.SMembers(ctx, bus.ExecutorActiveSet)
	if err != nil {
		return nil, err
	}

	var active []Executor
	var stale []string
	now := time.Now()

	for _, id := range ids {
		info, err := r.bus.HGetAll(ctx, bus.ExecutorKey(id))
		if err != nil {
			stale = append(stale, id)
			continue
		}

		hb, err := time.Parse(time.RFC3339Nano, info["last_heartbeat"])
		if err != nil || now.Sub(hb) > r.staleThreshold {
			stale = append(stale, id)
			continue
		}

		concurrency, _ := strconv.Atoi(info["concurrency"])
		matchesPer, _ := strconv.Atoi(info["matches_per_executor"])
		if matchesPer == 0 {
			matchesPer = r.matchesPerExecutor
		}
		started, _ := time.Parse(time.RFC3339Nano, info["started_at"])

		active = append(active, Executor{
			WorkerID:           id,
			Hostname:           info["hostname"],
			Concurrency:        concurrency,
			MatchesPerExecutor: matchesPer,
			IsExternal:         info["is_external"] == "true",
			LastHeartbeat:      hb,
			StartedAt:          started,
		})
	}

	if len(stale) > 0 {
		for _, id := range stale {
			if err := r.bus.SRem(ctx, bus.ExecutorActiveSet, id); err == nil {
				_ = r.bus.Del(ctx, bus.ExecutorKey(id))
			}
		}
		log.Printf("[Registry] Evicted %d stale executors", len(stale))
	}

	return active, nil
}

// MatchCapacity sums matches_per_executor over active workers. An empty
// registry and a bus failure both fall back to the configured constant.
func (r *Registry) MatchCapacity(ctx context.Context) int {
	executors, err := r.ActiveExecutors(ctx)
	if err != nil {
		log.Printf("[Registry] Capacity query failed, using fallback %d: %v", r.fallbackCapacity, err)
		return r.fallbackCapacity
	}
	if len(executors) == 0 {
		return r.fallbackCapacity
	}

	total := 0
	for _, e := range executors {
		total += e.MatchesPerExecutor
	}
	return total
}

// StartHeartbeat runs the periodic heartbeat until Stop.
func (r *Registry) StartHeartbeat(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := r.Heartbeat(ctx); err != nil {
					log.Printf("[Registry] Heartbeat failed: %v", err)
				}
				cancel()
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Registry) Stop() {
	close(r.stopCh)
}
