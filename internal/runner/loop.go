package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fragment-arena/internal/bridge"
	"fragment-arena/internal/game"
	"fragment-arena/internal/models"
	"fragment-arena/internal/sandbox"
)

// maxPlies caps runaway games; hitting it is a draw.
const maxPlies = 500

// lateBuffer is the grace on top of the agent budget before a returned move
// still counts as a timeout.
const lateBuffer = time.Second

type contender struct {
	agent      *models.Agent
	player     game.Player
	local      bool
	strategy   sandbox.Strategy
	resolveErr error
}

type matchResult struct {
	winner      string
	termination string
	moves       int
	reason      string
}

type moveVerdict int

const (
	verdictOK moveVerdict = iota
	verdictTimeout
	verdictInvalid
	verdictError
	verdictCancelled
)

// runGame plays the match to termination on the given board, persisting one
// game state per applied ply (plus synthetic plies for forfeits).
func (r *Runner) runGame(ctx context.Context, matchID string, white, black *contender, board *game.Board, rng *rand.Rand, persist func(models.GameState)) matchResult {
	start := time.Now()

	for ply := 1; ply <= maxPlies; ply++ {
		mover := white
		if ply%2 == 0 {
			mover = black
		}

		if time.Since(start) > r.gameBudget {
			return matchResult{
				winner:      models.WinnerDraw,
				termination: models.TermStuckTimeout,
				moves:       ply - 1,
				reason:      "game time budget exceeded",
			}
		}

		// Terminal positions are caught right after the previous move; this
		// only fires for a board that starts without moves.
		if len(board.LegalMoves(mover.player)) == 0 {
			return r.terminalResult(board, mover.player, ply-1)
		}

		mv, elapsed, verdict, reason := r.acquireMove(ctx, matchID, mover, board, rng, ply)
		switch verdict {
		case verdictCancelled:
			return matchResult{termination: models.TermCancelled, moves: ply - 1, reason: reason}

		case verdictTimeout:
			persist(r.syntheticState(matchID, ply, board, int(r.agentTimeout.Milliseconds()),
				fmt.Sprintf("TIMEOUT(%s)", mover.player)))
			return matchResult{
				winner:      string(mover.player.Opponent()),
				termination: models.TermTimeout,
				moves:       ply,
				reason:      reason,
			}

		case verdictError:
			return matchResult{
				winner:      string(mover.player.Opponent()),
				termination: errTermination(mover.player),
				moves:       ply - 1,
				reason:      reason,
			}

		case verdictInvalid:
			return r.invalidForfeit(matchID, ply, board, mover.player, elapsed, reason, persist)
		}

		if problem := moveProblem(board, mover.player, mv); problem != "" {
			return r.invalidForfeit(matchID, ply, board, mover.player, elapsed, problem, persist)
		}

		piece := board.At(mv.From)
		board.Apply(*mv)
		r.bridge.Cache().Append(matchID, game.MoveJSON{From: mv.From, To: mv.To, Piece: game.PieceName(piece)})

		persist(models.GameState{
			MatchID:    matchID,
			MoveNumber: ply,
			BoardState: board.Marshal(),
			MoveTimeMs: int(elapsed.Milliseconds()),
			Notation:   game.Notation(piece, mv.To),
			Evaluation: game.Evaluate(board),
			CreatedAt:  time.Now(),
		})

		if outcome := board.Result(mover.player.Opponent()); outcome.Over {
			return outcomeResult(outcome, ply)
		}
	}

	return matchResult{winner: models.WinnerDraw, termination: models.TermMaxMoves, moves: maxPlies}
}

// acquireMove gets the mover's choice from the sandbox or, for local
// agents, over the bridge.
func (r *Runner) acquireMove(ctx context.Context, matchID string, c *contender, board *game.Board, rng *rand.Rand, ply int) (*game.Move, time.Duration, moveVerdict, string) {
	if !c.local {
		if c.resolveErr != nil {
			return nil, 0, verdictError, c.resolveErr.Error()
		}
		mv, elapsed, timedOut, err := r.sandbox.Execute(ctx, c.strategy, board, c.player, rng)
		if err != nil {
			return nil, elapsed, verdictError, err.Error()
		}
		if timedOut {
			return nil, elapsed, verdictTimeout, "agent exceeded its move budget"
		}
		if mv == nil {
			return nil, elapsed, verdictInvalid, "strategy returned no move"
		}
		return mv, elapsed, verdictOK, ""
	}

	md, elapsed, explicitTimeout, err := r.bridge.RequestMove(ctx, c.agent.ID, matchID, c.player, ply)
	var disc *bridge.AgentDisconnectedError
	if errors.As(err, &disc) {
		return nil, elapsed, verdictCancelled, disc.Error()
	}
	if err != nil {
		return nil, elapsed, verdictError, err.Error()
	}
	if explicitTimeout {
		return nil, elapsed, verdictTimeout, "agent reported a timeout"
	}
	if md == nil {
		return nil, elapsed, verdictError, "agent returned an error"
	}
	if elapsed > r.agentTimeout+lateBuffer {
		// A move that arrives after the budget still forfeits on time.
		return nil, elapsed, verdictTimeout, fmt.Sprintf("move arrived after %v", elapsed)
	}
	return &game.Move{From: md.PiecePosition, To: md.MovePosition}, elapsed, verdictOK, ""
}

// moveProblem validates a move, returning an empty string when it is legal.
func moveProblem(board *game.Board, player game.Player, mv *game.Move) string {
	if !mv.From.InBounds() || !mv.To.InBounds() {
		return "move out of bounds"
	}
	piece := board.At(mv.From)
	if piece == 0 {
		return "no piece at origin square"
	}
	if game.PieceOwner(piece) != player {
		return "attempted to move the opponent's piece"
	}
	if !board.IsLegal(player, *mv) {
		return "illegal move"
	}
	return ""
}

func (r *Runner) invalidForfeit(matchID string, ply int, board *game.Board, player game.Player, elapsed time.Duration, reason string, persist func(models.GameState)) matchResult {
	persist(r.syntheticState(matchID, ply, board, int(elapsed.Milliseconds()),
		fmt.Sprintf("INVALID(%s)", player)))

	termination := models.TermWhiteInvalid
	if player == game.Black {
		termination = models.TermBlackInvalid
	}
	return matchResult{
		winner:      string(player.Opponent()),
		termination: termination,
		moves:       ply,
		reason:      reason,
	}
}

// syntheticState records a forfeit ply: the board is unchanged, the
// notation carries the verdict.
func (r *Runner) syntheticState(matchID string, ply int, board *game.Board, moveTimeMs int, notation string) models.GameState {
	return models.GameState{
		MatchID:    matchID,
		MoveNumber: ply,
		BoardState: board.Marshal(),
		MoveTimeMs: moveTimeMs,
		Notation:   notation,
		Evaluation: game.Evaluate(board),
		CreatedAt:  time.Now(),
	}
}

func (r *Runner) terminalResult(board *game.Board, toMove game.Player, moves int) matchResult {
	if outcome := board.Result(toMove); outcome.Over {
		return outcomeResult(outcome, moves)
	}
	return matchResult{
		winner:      string(toMove.Opponent()),
		termination: models.TermGameOver,
		moves:       moves,
	}
}

func outcomeResult(o game.Outcome, moves int) matchResult {
	res := matchResult{winner: models.WinnerDraw, termination: o.Termination, moves: moves}
	if o.Winner != "" {
		res.winner = string(o.Winner)
	}
	return res
}

func errTermination(player game.Player) string {
	if player == game.White {
		return models.TermWhiteError
	}
	return models.TermBlackError
}
