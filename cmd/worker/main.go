package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"fragment-arena/internal/bridge"
	"fragment-arena/internal/bus"
	"fragment-arena/internal/clock"
	"fragment-arena/internal/config"
	"fragment-arena/internal/db"
	"fragment-arena/internal/elo"
	"fragment-arena/internal/registry"
	"fragment-arena/internal/runner"
	"fragment-arena/internal/scheduler"
	"fragment-arena/internal/tournament"
	"fragment-arena/internal/validation"
)

const ratingBackfillInterval = 10 * time.Minute

func main() {
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	workerID := uuid.NewString()
	log.Printf("Starting arena worker %s in %s mode", workerID, cfg.Environment)

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()
	log.Printf("Connected to MongoDB database: %s", cfg.MongoDB.Database)

	b, err := newBus(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to bus: %v", err)
	}
	defer b.Close()

	clk := clock.New(cfg.TournamentStart())

	// Register this worker's executor capacity and keep it alive.
	reg := registry.New(b, cfg.StaleThreshold(), cfg.Arena.MatchesPerExecutor, cfg.Arena.FallbackCapacity)
	regCtx, regCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := reg.Register(regCtx, workerID, cfg.Arena.ExecutorConcurrency, false); err != nil {
		regCancel()
		log.Fatalf("Failed to register executor: %v", err)
	}
	regCancel()
	reg.StartHeartbeat(time.Duration(cfg.Arena.HeartbeatInterval) * time.Second)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Deregister(ctx)
		reg.Stop()
	}()

	eloUpdater := elo.NewUpdater(mongodb)
	eloUpdater.StartBackfill(ratingBackfillInterval)
	defer eloUpdater.Stop()

	sched := scheduler.New(mongodb, b, reg, clk, cfg)
	sched.Start()
	defer sched.Stop()

	tour := tournament.New(mongodb, b, clk)
	tour.Start()
	defer tour.Stop()

	validator := validation.New(mongodb, cfg.AgentTimeout())
	validator.Start()
	defer validator.Stop()

	br := bridge.New(b, cfg.AgentTimeout(), cfg.MoveTimeout())
	run := runner.New(mongodb, br, eloUpdater, clk, cfg, sched.Kick)
	consumer := runner.NewConsumer(b, run, cfg.Arena.ExecutorConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		cancel()
	}()

	consumer.Run(ctx)
	log.Println("Worker stopped")
}

// newBus connects to Redis, or falls back to the in-process bus when no URL
// is configured (single-node local mode).
func newBus(cfg *config.Config) (bus.Bus, error) {
	if cfg.Redis.URL == "" {
		log.Println("No Redis URL configured, using in-memory bus (single-node mode)")
		return bus.NewMemoryBus(), nil
	}
	return bus.NewRedisBus(cfg.Redis.URL)
}
