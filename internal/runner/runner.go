// Package runner executes matches end to end: load the pairing, pick a
// board, drive the ply loop against sandboxed or live agents, persist game
// states, and settle the match row. One runner goroutine owns a match for
// its whole life.
package runner

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"fragment-arena/internal/bridge"
	"fragment-arena/internal/clock"
	"fragment-arena/internal/config"
	"fragment-arena/internal/db"
	"fragment-arena/internal/elo"
	"fragment-arena/internal/game"
	"fragment-arena/internal/models"
	"fragment-arena/internal/sandbox"
)

// exhibitionDelay paces persisted plies of exhibition matches so spectators
// see the game unfold.
const exhibitionDelay = 1500 * time.Millisecond

type Runner struct {
	db      *db.MongoDB
	bridge  *bridge.Bridge
	sandbox *sandbox.Runner
	elo     *elo.Updater
	clock   *clock.Clock

	agentTimeout time.Duration
	gameBudget   time.Duration

	// kickMatchmaking reschedules matchmaking after a slot frees up.
	// Optional; nil on workers that do not host the scheduler.
	kickMatchmaking func()
}

func New(database *db.MongoDB, br *bridge.Bridge, eloUpdater *elo.Updater, clk *clock.Clock, cfg *config.Config, kickMatchmaking func()) *Runner {
	return &Runner{
		db:              database,
		bridge:          br,
		sandbox:         sandbox.NewRunner(cfg.AgentTimeout()),
		elo:             eloUpdater,
		clock:           clk,
		agentTimeout:    cfg.AgentTimeout(),
		gameBudget:      cfg.GameBudget(),
		kickMatchmaking: kickMatchmaking,
	}
}

// RunMatch executes one match to completion.
func (r *Runner) RunMatch(ctx context.Context, matchID string) error {
	var match models.Match
	err := r.db.Matches().FindOne(ctx, bson.M{"_id": matchID}).Decode(&match)
	if err == mongo.ErrNoDocuments {
		log.Printf("[Runner] Match %s does not exist, skipping", matchID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load match %s: %w", matchID, err)
	}

	// Claim the match atomically. Exhibition dispatch re-queues pending
	// matches every tick, so the same ID can be popped more than once.
	claim, err := r.db.Matches().UpdateOne(ctx,
		bson.M{"_id": matchID, "status": models.MatchPending},
		bson.M{"$set": bson.M{"status": models.MatchInProgress, "startedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to claim match %s: %w", matchID, err)
	}
	if claim.ModifiedCount == 0 {
		log.Printf("[Runner] Match %s already claimed (status %s), skipping", matchID, match.Status)
		return nil
	}

	white, err := r.loadContender(ctx, match.WhiteAgentID, game.White)
	if err == nil {
		var black *contender
		black, err = r.loadContender(ctx, match.BlackAgentID, game.Black)
		if err == nil {
			return r.execute(ctx, &match, white, black)
		}
	}

	log.Printf("[Runner] SYSTEM_ERROR for match %s: %v", matchID, err)
	r.markSystemError(ctx, matchID)
	return err
}

func (r *Runner) loadContender(ctx context.Context, agentID string, player game.Player) (*contender, error) {
	var agent models.Agent
	if err := r.db.Agents().FindOne(ctx, bson.M{"_id": agentID}).Decode(&agent); err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}

	c := &contender{agent: &agent, player: player}
	if agent.ExecutionMode == models.ExecutionModeLocal {
		c.local = true
		return c, nil
	}
	c.strategy, c.resolveErr = sandbox.ResolveStrategy(agent.CodeBlob)
	return c, nil
}

func (r *Runner) execute(ctx context.Context, match *models.Match, white, black *contender) error {
	now := time.Now()
	rng := rand.New(rand.NewSource(now.UnixNano()))
	board, boardType := r.pickBoard(match, rng)
	log.Printf("[Runner] Match %s using board type %s", match.ID, boardType)

	r.insertState(ctx, models.GameState{
		MatchID:    match.ID,
		MoveNumber: 0,
		BoardState: board.Marshal(),
		Notation:   "Starting position",
		Evaluation: game.Evaluate(board),
		CreatedAt:  now,
	})

	r.bridge.Cache().Init(match.ID, board)
	defer r.bridge.Cache().Clear(match.ID)

	for _, c := range []*contender{white, black} {
		if c.local {
			r.bridge.NotifyGameStart(ctx, c.agent.ID, match.ID, white.agent.Name, black.agent.Name)
		}
	}

	// Tournament matches persist live so spectators can follow in real
	// time; everything else batches at the end.
	live := match.MatchType == models.TypeTournament
	var batch []models.GameState
	persist := func(st models.GameState) {
		if live {
			r.insertState(ctx, st)
		} else {
			batch = append(batch, st)
		}
	}

	res := r.runGame(ctx, match.ID, white, black, board, rng, persist)

	for _, c := range []*contender{white, black} {
		if c.local {
			r.bridge.NotifyGameEnd(ctx, c.agent.ID, match.ID, res.termination, res.winner)
		}
	}

	return r.settle(ctx, match, res, batch)
}

// settle applies the post-game bookkeeping: deletion of worthless games,
// batch persistence, the final match update, and rating/scheduling kicks.
func (r *Runner) settle(ctx context.Context, match *models.Match, res matchResult, batch []models.GameState) error {
	kick := func() {
		if match.MatchType == models.TypeMatchmaking && !r.clock.IsTournamentTime() && r.kickMatchmaking != nil {
			r.kickMatchmaking()
		}
	}

	if res.termination == models.TermCancelled {
		log.Printf("[Runner] Match %s cancelled: %s", match.ID, res.reason)
		r.deleteMatch(ctx, match.ID)
		kick()
		return nil
	}

	isError := res.termination == models.TermWhiteError ||
		res.termination == models.TermBlackError ||
		res.termination == models.TermStuckTimeout
	if isError && res.moves < models.MinRecordedMoves {
		log.Printf("[Runner] Match %s errored after only %d move(s) (%s), deleting", match.ID, res.moves, res.reason)
		r.deleteMatch(ctx, match.ID)
		kick()
		return nil
	}

	for _, st := range batch {
		r.insertState(ctx, st)
		if match.MatchType == models.TypeExhibition {
			select {
			case <-time.After(exhibitionDelay):
			case <-ctx.Done():
			}
		}
	}

	if res.moves < models.MinRecordedMoves {
		log.Printf("[Runner] Match %s too short (%d move(s)), deleting", match.ID, res.moves)
		r.deleteMatch(ctx, match.ID)
		kick()
		return nil
	}

	completedAt := time.Now()
	_, err := r.db.Matches().UpdateOne(ctx,
		bson.M{"_id": match.ID},
		bson.M{"$set": bson.M{
			"status":      models.MatchCompleted,
			"winner":      res.winner,
			"moves":       res.moves,
			"termination": res.termination,
			"completedAt": completedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to complete match %s: %w", match.ID, err)
	}
	log.Printf("[Runner] Match %s completed: winner=%s termination=%s moves=%d",
		match.ID, res.winner, res.termination, res.moves)

	if match.MatchType == models.TypeMatchmaking || match.MatchType == models.TypeTournament {
		if err := r.elo.UpdateMatchRatings(ctx, match.ID); err != nil {
			log.Printf("[Runner] Rating update failed for match %s: %v", match.ID, err)
		}
	}
	kick()
	return nil
}

// pickBoard chooses the starting position. Tournament matches always play a
// canonical sample, chosen deterministically so reruns agree; the rest mix
// in random symmetric boards.
func (r *Runner) pickBoard(match *models.Match, rng *rand.Rand) (*game.Board, string) {
	samples := game.SampleBoards()
	canonical := func() (*game.Board, string) {
		idx := int(matchHash(match.ID) % uint32(len(samples)))
		return samples[idx], fmt.Sprintf("sample%d", idx)
	}

	if match.MatchType == models.TypeTournament {
		return canonical()
	}
	if rng.Float64() < 0.60 {
		return canonical()
	}
	return game.GenerateRandomBoard(rng), "random"
}

func matchHash(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32()
}

func (r *Runner) insertState(ctx context.Context, st models.GameState) {
	if _, err := r.db.GameStates().InsertOne(ctx, st); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return
		}
		log.Printf("[Runner] Failed to insert game state %s/%d: %v", st.MatchID, st.MoveNumber, err)
	}
}

func (r *Runner) deleteMatch(ctx context.Context, matchID string) {
	if _, err := r.db.GameStates().DeleteMany(ctx, bson.M{"matchId": matchID}); err != nil {
		log.Printf("[Runner] Failed to delete game states for match %s: %v", matchID, err)
	}
	if _, err := r.db.Matches().DeleteOne(ctx, bson.M{"_id": matchID}); err != nil {
		log.Printf("[Runner] Failed to delete match %s: %v", matchID, err)
	}
}

func (r *Runner) markSystemError(ctx context.Context, matchID string) {
	_, err := r.db.Matches().UpdateOne(ctx,
		bson.M{"_id": matchID},
		bson.M{"$set": bson.M{
			"status":      models.MatchError,
			"termination": models.TermSystemError,
			"completedAt": time.Now(),
		}},
	)
	if err != nil {
		log.Printf("[Runner] Failed to mark match %s as system error: %v", matchID, err)
	}
}
