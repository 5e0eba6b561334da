// Package sandbox executes server agents inside the worker under a hard
// per-move timeout. A server agent's code blob is a strategy directive
// resolved to one of the built-in engines; process-level isolation for
// arbitrary user code is out of scope here.
package sandbox

import (
	"fmt"
	"math/rand"
	"strings"

	"fragment-arena/internal/game"
)

// Strategy picks a move for player on the given board. Returning nil means
// the strategy found no move, which the runner treats as a forfeit.
type Strategy func(b *game.Board, player game.Player, rng *rand.Rand) *game.Move

// ResolveStrategy parses a code blob into a built-in strategy. Accepted
// forms: a bare name, or a "strategy: <name>" line anywhere in the blob.
func ResolveStrategy(codeBlob string) (Strategy, error) {
	name := strings.TrimSpace(codeBlob)
	for _, line := range strings.Split(codeBlob, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "strategy:"); ok {
			name = strings.TrimSpace(rest)
			break
		}
	}

	switch name {
	case "random":
		return RandomStrategy, nil
	case "greedy":
		return GreedyStrategy, nil
	case "minimax":
		return MinimaxStrategy, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// RandomStrategy plays a uniformly random legal move.
func RandomStrategy(b *game.Board, player game.Player, rng *rand.Rand) *game.Move {
	moves := b.LegalMoves(player)
	if len(moves) == 0 {
		return nil
	}
	return &moves[rng.Intn(len(moves))]
}

// GreedyStrategy maximizes the immediate material balance, breaking ties
// randomly.
func GreedyStrategy(b *game.Board, player game.Player, rng *rand.Rand) *game.Move {
	moves := b.LegalMoves(player)
	if len(moves) == 0 {
		return nil
	}

	sign := 1
	if player == game.Black {
		sign = -1
	}

	best := -infinity
	var candidates []game.Move
	for _, m := range moves {
		next := b.Clone()
		next.Apply(m)
		score := sign * game.Evaluate(next)
		if score > best {
			best = score
			candidates = candidates[:0]
		}
		if score == best {
			candidates = append(candidates, m)
		}
	}
	return &candidates[rng.Intn(len(candidates))]
}
