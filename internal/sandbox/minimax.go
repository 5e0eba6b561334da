package sandbox

import (
	"math/rand"

	"fragment-arena/internal/game"
)

const (
	infinity  = 999999
	mateScore = 100000
)

// randomnessThreshold is the material window within which moves count as
// equally good, adding variety without sacrificing quality.
const randomnessThreshold = 0

const searchDepth = 2

// MinimaxStrategy runs a 2-ply alpha-beta search over material balance.
// Among moves scoring within randomnessThreshold of the best, one is chosen
// at random.
func MinimaxStrategy(b *game.Board, player game.Player, rng *rand.Rand) *game.Move {
	moves := b.LegalMoves(player)
	if len(moves) == 0 {
		return nil
	}

	type scoredMove struct {
		move  game.Move
		score int
	}
	scored := make([]scoredMove, 0, len(moves))

	bestScore := -infinity
	alpha := -infinity
	beta := infinity

	for _, m := range moves {
		next := b.Clone()
		next.Apply(m)
		score := -alphaBeta(next, player.Opponent(), searchDepth-1, -beta, -alpha)

		scored = append(scored, scoredMove{move: m, score: score})
		if score > bestScore {
			bestScore = score
		}
		if score > alpha {
			alpha = score
		}
	}

	var candidates []game.Move
	for _, sm := range scored {
		if sm.score >= bestScore-randomnessThreshold {
			candidates = append(candidates, sm.move)
		}
	}
	return &candidates[rng.Intn(len(candidates))]
}

// alphaBeta scores the position from toMove's perspective (negamax).
func alphaBeta(b *game.Board, toMove game.Player, depth, alpha, beta int) int {
	moves := b.LegalMoves(toMove)
	if len(moves) == 0 {
		if b.InCheck(toMove) {
			return -mateScore - depth // mated; prefer later mates
		}
		return 0 // stalemate
	}

	if depth == 0 {
		return perspectiveEval(b, toMove)
	}

	best := -infinity
	for _, m := range moves {
		next := b.Clone()
		next.Apply(m)
		score := -alphaBeta(next, toMove.Opponent(), depth-1, -beta, -alpha)

		if score > best {
			best = score
		}
		if score > alpha {
			alpha = score
		}
		if alpha >= beta {
			break // beta cutoff
		}
	}
	return best
}

func perspectiveEval(b *game.Board, player game.Player) int {
	eval := game.Evaluate(b)
	if player == game.Black {
		eval = -eval
	}
	return eval
}
