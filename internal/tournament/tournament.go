// Package tournament runs the Swiss bracket competition. When the tournament
// window opens the controller freezes the field into three rating brackets,
// cancels everything else on the schedule, and then drives each bracket
// round by round until every entrant has played its full Swiss schedule.
package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/clock"
	"fragment-arena/internal/db"
	"fragment-arena/internal/models"
)

const (
	tickInterval = 5 * time.Second

	// bracketSnapshotTTL bounds how long a stale snapshot can outlive a
	// crashed tournament.
	bracketSnapshotTTL = 24 * time.Hour
)

type Controller struct {
	db    *db.MongoDB
	bus   bus.Bus
	clock *clock.Clock

	mu          sync.Mutex
	rng         *rand.Rand
	initialized bool

	stopCh chan struct{}
}

func New(database *db.MongoDB, b bus.Bus, clk *clock.Clock) *Controller {
	return &Controller{
		db:     database,
		bus:    b,
		clock:  clk,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh: make(chan struct{}),
	}
}

// Start ticks the controller until Stop. Outside the tournament window the
// tick is a no-op, so the controller can run for the process's whole life.
func (c *Controller) Start() {
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.clock.IsTournamentTime() {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := c.ScheduleAllBrackets(ctx); err != nil {
					log.Printf("[Tournament] Scheduling pass failed: %v", err)
				}
				cancel()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Controller) Stop() {
	close(c.stopCh)
}

// ScheduleAllBrackets initializes the tournament if needed and advances each
// bracket with at least two members.
func (c *Controller) ScheduleAllBrackets(ctx context.Context) error {
	if err := c.initialize(ctx); err != nil {
		return err
	}

	brackets, err := c.brackets(ctx)
	if err != nil {
		return err
	}

	for _, id := range bracketIDs {
		if len(brackets[id]) < 2 {
			continue
		}
		if err := c.scheduleBracket(ctx, id, brackets[id]); err != nil {
			log.Printf("[Tournament] Bracket %s scheduling failed: %v", id, err)
		}
	}
	return nil
}

// initialize performs the one-time switchover into tournament mode: cancel
// all non-tournament matches still on the board, bench local agents, and
// freeze the bracket membership.
func (c *Controller) initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	// A snapshot left by a previous process means the switchover already
	// happened; adopt it instead of re-freezing.
	if cached, err := c.cachedBrackets(ctx); err != nil {
		return err
	} else if cached != nil {
		c.initialized = true
		return nil
	}

	res, err := c.db.Matches().UpdateMany(ctx,
		bson.M{
			"matchType": bson.M{"$ne": models.TypeTournament},
			"status":    bson.M{"$in": []string{models.MatchPending, models.MatchInProgress}},
		},
		bson.M{"$set": bson.M{"status": models.MatchCancelled, "completedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to cancel non-tournament matches: %w", err)
	}
	if res.ModifiedCount > 0 {
		log.Printf("[Tournament] Cancelled %d non-tournament matches", res.ModifiedCount)
	}

	// Local agents cannot be trusted to stay connected for a whole
	// tournament, so they sit it out.
	if _, err := c.db.Agents().UpdateMany(ctx,
		bson.M{"executionMode": models.ExecutionModeLocal, "active": true},
		bson.M{"$set": bson.M{"active": false}},
	); err != nil {
		return fmt.Errorf("failed to deactivate local agents: %w", err)
	}

	sortedIDs, err := c.eligibleAgentIDs(ctx)
	if err != nil {
		return err
	}
	brackets := splitBrackets(sortedIDs)

	payload, err := json.Marshal(brackets)
	if err != nil {
		return err
	}
	if err := c.bus.Set(ctx, bus.TournamentBracketsKey, string(payload), bracketSnapshotTTL); err != nil {
		return fmt.Errorf("failed to store bracket snapshot: %w", err)
	}

	log.Printf("[Tournament] Initialized: challenger=%d contender=%d elite=%d",
		len(brackets[BracketChallenger]), len(brackets[BracketContender]), len(brackets[BracketElite]))
	c.initialized = true
	return nil
}

// eligibleAgentIDs returns the IDs of active server agents that have played
// at least one rated game, sorted by rating ascending.
func (c *Controller) eligibleAgentIDs(ctx context.Context) ([]string, error) {
	cursor, err := c.db.Agents().Find(ctx, bson.M{
		"active":        true,
		"executionMode": models.ExecutionModeServer,
	})
	if err != nil {
		return nil, err
	}
	var agents []models.Agent
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, err
	}

	rankings, err := c.loadRankings(ctx)
	if err != nil {
		return nil, err
	}

	type rated struct {
		id     string
		rating int
	}
	var field []rated
	for _, a := range agents {
		r, ok := rankings[a.ID]
		if !ok || r.GamesPlayed == 0 {
			continue
		}
		field = append(field, rated{id: a.ID, rating: r.Rating})
	}
	sort.Slice(field, func(i, j int) bool { return field[i].rating < field[j].rating })

	ids := make([]string, len(field))
	for i, f := range field {
		ids[i] = f.id
	}
	return ids, nil
}

// brackets returns the frozen bracket membership. Membership is only ever
// read from the snapshot; before initialization (or after its TTL) every
// bracket is empty.
func (c *Controller) brackets(ctx context.Context) (map[string][]string, error) {
	cached, err := c.cachedBrackets(ctx)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return map[string][]string{}, nil
	}
	return cached, nil
}

func (c *Controller) cachedBrackets(ctx context.Context) (map[string][]string, error) {
	raw, err := c.bus.Get(ctx, bus.TournamentBracketsKey)
	if err == bus.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var brackets map[string][]string
	if err := json.Unmarshal([]byte(raw), &brackets); err != nil {
		return nil, fmt.Errorf("corrupt bracket snapshot: %w", err)
	}
	return brackets, nil
}

// scheduleBracket advances one bracket: waits out the round barrier, pairs
// the next round, and creates matches up to the bracket's concurrency cap.
func (c *Controller) scheduleBracket(ctx context.Context, bracketID string, memberIDs []string) error {
	matches, err := c.bracketMatches(ctx, memberIDs)
	if err != nil {
		return err
	}

	active := 0
	completed := make([]models.Match, 0, len(matches))
	for _, m := range matches {
		switch m.Status {
		case models.MatchPending, models.MatchInProgress:
			active++
		case models.MatchCompleted:
			completed = append(completed, m)
		}
	}

	standings := computeStandings(memberIDs, completed)
	total := totalRounds(len(memberIDs))
	if bracketComplete(standings, total) {
		return nil
	}

	// Round barrier: the next round only pairs once the board is clear.
	if active > 0 {
		return nil
	}

	entrants, err := c.loadEntrants(ctx, memberIDs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	pairings := swissPairing(entrants, standings, c.rng)
	c.mu.Unlock()
	if len(pairings) == 0 {
		return nil
	}

	slots := bracketConcurrency(bracketID)
	created := 0
	for _, pair := range pairings {
		if created >= slots {
			break
		}
		white, black := pair[0], pair[1]

		// The pairing ran against a snapshot of the standings; make sure a
		// concurrent pass has not already created this pairing.
		played, err := c.pairPlayed(ctx, white.ID, black.ID)
		if err != nil {
			return err
		}
		if played {
			continue
		}

		matchID := uuid.NewString()
		_, err = c.db.Matches().InsertOne(ctx, models.Match{
			ID:           matchID,
			WhiteAgentID: white.ID,
			BlackAgentID: black.ID,
			MatchType:    models.TypeTournament,
			Status:       models.MatchPending,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to create tournament match: %w", err)
		}
		if err := c.bus.QueuePush(ctx, bus.PendingMatchQueue, matchID); err != nil {
			return fmt.Errorf("failed to queue tournament match %s: %w", matchID, err)
		}

		created++
		log.Printf("[Tournament] %s round %d/%d: %s vs %s",
			bracketID, currentRound(standings, total), total, white.Name, black.Name)
	}
	return nil
}

// pairPlayed reports whether a tournament match between the two agents
// already exists in either color order.
func (c *Controller) pairPlayed(ctx context.Context, a, b string) (bool, error) {
	count, err := c.db.Matches().CountDocuments(ctx, bson.M{
		"matchType": models.TypeTournament,
		"status":    bson.M{"$ne": models.MatchCancelled},
		"$or": []bson.M{
			{"whiteAgentId": a, "blackAgentId": b},
			{"whiteAgentId": b, "blackAgentId": a},
		},
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// bracketMatches loads the tournament matches where both sides belong to the
// bracket.
func (c *Controller) bracketMatches(ctx context.Context, memberIDs []string) ([]models.Match, error) {
	cursor, err := c.db.Matches().Find(ctx, bson.M{
		"matchType":    models.TypeTournament,
		"whiteAgentId": bson.M{"$in": memberIDs},
		"blackAgentId": bson.M{"$in": memberIDs},
	})
	if err != nil {
		return nil, err
	}
	var matches []models.Match
	if err := cursor.All(ctx, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func (c *Controller) loadEntrants(ctx context.Context, memberIDs []string) ([]entrant, error) {
	cursor, err := c.db.Agents().Find(ctx, bson.M{"_id": bson.M{"$in": memberIDs}})
	if err != nil {
		return nil, err
	}
	var agents []models.Agent
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, err
	}
	rankings, err := c.loadRankings(ctx)
	if err != nil {
		return nil, err
	}

	entrants := make([]entrant, 0, len(agents))
	for _, a := range agents {
		rating := models.InitialRating
		if r, ok := rankings[a.ID]; ok {
			rating = r.Rating
		}
		entrants = append(entrants, entrant{ID: a.ID, Name: a.Name, Rating: rating})
	}
	return entrants, nil
}

func (c *Controller) loadRankings(ctx context.Context) (map[string]models.Ranking, error) {
	cursor, err := c.db.Rankings().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var list []models.Ranking
	if err := cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	rankings := make(map[string]models.Ranking, len(list))
	for _, r := range list {
		rankings[r.AgentID] = r
	}
	return rankings, nil
}

// BracketStatus summarizes one bracket for the operator API.
type BracketStatus struct {
	Agents       int  `json:"agents"`
	Pending      int  `json:"pending"`
	InProgress   int  `json:"inProgress"`
	Completed    int  `json:"completed"`
	CurrentRound int  `json:"currentRound"`
	TotalRounds  int  `json:"totalRounds"`
	Complete     bool `json:"complete"`
}

// Status reports per-bracket progress.
func (c *Controller) Status(ctx context.Context) (map[string]BracketStatus, error) {
	brackets, err := c.brackets(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]BracketStatus, len(bracketIDs))
	for _, id := range bracketIDs {
		memberIDs := brackets[id]
		status := BracketStatus{Agents: len(memberIDs)}

		if len(memberIDs) >= 2 {
			matches, err := c.bracketMatches(ctx, memberIDs)
			if err != nil {
				return nil, err
			}
			completed := make([]models.Match, 0, len(matches))
			for _, m := range matches {
				switch m.Status {
				case models.MatchPending:
					status.Pending++
				case models.MatchInProgress:
					status.InProgress++
				case models.MatchCompleted:
					status.Completed++
					completed = append(completed, m)
				}
			}
			standings := computeStandings(memberIDs, completed)
			status.TotalRounds = totalRounds(len(memberIDs))
			status.CurrentRound = currentRound(standings, status.TotalRounds)
			status.Complete = bracketComplete(standings, status.TotalRounds)
		}
		out[id] = status
	}
	return out, nil
}
