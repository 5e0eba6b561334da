// Package scheduler keeps the arena busy: it pairs agents into matchmaking
// games against executor capacity, dispatches requested exhibition matches,
// and sweeps matches that died mid-run.
package scheduler

import (
	"context"
	crand "crypto/rand"
	"log"
	"math/rand"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/clock"
	"fragment-arena/internal/config"
	"fragment-arena/internal/db"
	"fragment-arena/internal/models"
	"fragment-arena/internal/registry"
)

const (
	matchmakingInterval = 5 * time.Second
	exhibitionInterval  = 10 * time.Second
	stuckSweepInterval  = 60 * time.Second

	// stuckThreshold is how long a match may sit in_progress before the
	// sweep declares its worker dead.
	stuckThreshold = 5 * time.Minute

	// heartbeatFreshness gates local agents out of matchmaking when their
	// gateway heartbeat goes quiet.
	heartbeatFreshness = 30 * time.Second

	// maxSchedulesPerTick bounds pairings per tick so one tick never
	// floods the queue.
	maxSchedulesPerTick = 3

	// Progressively widened rating windows for pairing.
	eloRange = 200
)

var eloRangeMultipliers = []int{1, 2, 3}

type Scheduler struct {
	db       *db.MongoDB
	bus      bus.Bus
	registry *registry.Registry
	clock    *clock.Clock

	perLocalCap int
	rng         *rand.Rand

	kickCh chan struct{}
	stopCh chan struct{}
}

func New(database *db.MongoDB, b bus.Bus, reg *registry.Registry, clk *clock.Clock, cfg *config.Config) *Scheduler {
	return &Scheduler{
		db:          database,
		bus:         b,
		registry:    reg,
		clock:       clk,
		perLocalCap: cfg.Arena.PerLocalCap,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		kickCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Kick requests an immediate matchmaking pass, coalescing with any pass
// already requested.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// Start runs the scheduling loops until Stop.
func (s *Scheduler) Start() {
	go func() {
		matchmaking := time.NewTicker(matchmakingInterval)
		exhibitions := time.NewTicker(exhibitionInterval)
		stuck := time.NewTicker(stuckSweepInterval)
		defer matchmaking.Stop()
		defer exhibitions.Stop()
		defer stuck.Stop()

		for {
			select {
			case <-matchmaking.C:
				s.runMatchmaking()
			case <-s.kickCh:
				s.runMatchmaking()
			case <-exhibitions.C:
				s.runExhibitions()
			case <-stuck.C:
				s.runStuckSweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runMatchmaking() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.ScheduleMatchmaking(ctx); err != nil {
		log.Printf("[Scheduler] Matchmaking pass failed: %v", err)
	}
}

func (s *Scheduler) runExhibitions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.DispatchExhibitions(ctx); err != nil {
		log.Printf("[Scheduler] Exhibition dispatch failed: %v", err)
	}
}

func (s *Scheduler) runStuckSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.CleanupStuckMatches(ctx); err != nil {
		log.Printf("[Scheduler] Stuck match sweep failed: %v", err)
	}
}

// DispatchExhibitions queues the oldest pending exhibition matches. The
// runner's claim step makes re-queueing across ticks harmless.
func (s *Scheduler) DispatchExhibitions(ctx context.Context) error {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(5)
	cursor, err := s.db.Matches().Find(ctx, bson.M{
		"matchType": models.TypeExhibition,
		"status":    models.MatchPending,
	}, opts)
	if err != nil {
		return err
	}
	var pending []models.Match
	if err := cursor.All(ctx, &pending); err != nil {
		return err
	}

	for _, match := range pending {
		log.Printf("[Scheduler] Queueing exhibition match %s", match.ID)
		if err := s.bus.QueuePush(ctx, bus.PendingMatchQueue, match.ID); err != nil {
			return err
		}
	}
	return nil
}

// CleanupStuckMatches errors out matches that have been in_progress longer
// than the stuck threshold, then re-kicks matchmaking if any of them held a
// matchmaking slot.
func (s *Scheduler) CleanupStuckMatches(ctx context.Context) error {
	cutoff := time.Now().Add(-stuckThreshold)
	cursor, err := s.db.Matches().Find(ctx, bson.M{
		"status":    models.MatchInProgress,
		"startedAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return err
	}
	var stuck []models.Match
	if err := cursor.All(ctx, &stuck); err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stuck))
	hadMatchmaking := false
	for _, match := range stuck {
		ids = append(ids, match.ID)
		if match.MatchType == models.TypeMatchmaking {
			hadMatchmaking = true
		}
	}

	_, err = s.db.Matches().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{
			"status":      models.MatchError,
			"termination": models.TermStuckTimeout,
			"completedAt": time.Now(),
		}},
	)
	if err != nil {
		return err
	}
	log.Printf("[Scheduler] STUCK_TIMEOUT: cleaned up %d stuck matches: %v", len(stuck), ids)

	if hadMatchmaking {
		s.Kick()
	}
	return nil
}

// coinFlip uses the system entropy source so color assignment cannot be
// steered by the process PRNG state.
func coinFlip() bool {
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()%2 == 0
	}
	return b[0]%2 == 0
}

func sortByLoad(cands []*candidate, rng *rand.Rand) {
	for _, c := range cands {
		c.tiebreak = rng.Float64()
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].active != cands[j].active {
			return cands[i].active < cands[j].active
		}
		return cands[i].tiebreak < cands[j].tiebreak
	})
}
