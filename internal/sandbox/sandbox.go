package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"fragment-arena/internal/game"
)

// Runner executes strategies in a bounded goroutine with a hard timeout.
type Runner struct {
	timeout time.Duration
}

func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

type moveResult struct {
	move *game.Move
	err  error
}

// Execute runs the strategy against a board copy. On timeout it returns
// (nil, timeout, true): the agent burned its full budget, so the reported
// elapsed time is the budget itself.
func (r *Runner) Execute(ctx context.Context, strategy Strategy, b *game.Board, player game.Player, rng *rand.Rand) (move *game.Move, elapsed time.Duration, timedOut bool, err error) {
	start := time.Now()
	resultCh := make(chan moveResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- moveResult{err: fmt.Errorf("agent panicked: %v", rec)}
			}
		}()
		// Strategies get a clone; a misbehaving one cannot corrupt the
		// authoritative board.
		resultCh <- moveResult{move: strategy(b.Clone(), player, rng)}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, time.Since(start), false, res.err
		}
		return res.move, time.Since(start), false, nil
	case <-timer.C:
		return nil, r.timeout, true, nil
	case <-ctx.Done():
		return nil, time.Since(start), false, ctx.Err()
	}
}
