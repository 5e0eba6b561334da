package runner

import (
	"context"
	"log"
	"time"

	"fragment-arena/internal/bus"
)

// Consumer pops match IDs off the shared pending queue and runs them with
// bounded concurrency. Every worker runs one consumer; the queue gives
// cluster-wide work distribution for free.
type Consumer struct {
	bus         bus.Bus
	runner      *Runner
	concurrency int
}

func NewConsumer(b bus.Bus, r *Runner, concurrency int) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{bus: b, runner: r, concurrency: concurrency}
}

// Run blocks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	sem := make(chan struct{}, c.concurrency)
	log.Printf("[Runner] Consuming match queue with concurrency %d", c.concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		matchID, ok, err := c.bus.QueuePop(ctx, bus.PendingMatchQueue, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Runner] Queue pop failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		sem <- struct{}{}
		go func(id string) {
			defer func() { <-sem }()
			if err := c.runner.RunMatch(ctx, id); err != nil {
				log.Printf("[Runner] Match %s failed: %v", id, err)
			}
		}(matchID)
	}
}
