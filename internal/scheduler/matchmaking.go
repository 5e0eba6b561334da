package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/models"
)

// candidate is one agent eligible for pairing this tick.
type candidate struct {
	id       string
	name     string
	mode     string
	rating   int
	active   int
	tiebreak float64
}

// ScheduleMatchmaking runs one pairing pass: compute free executor slots,
// collect eligible agents, and create up to maxSchedulesPerTick pairings
// preferring close ratings and lightly loaded agents.
func (s *Scheduler) ScheduleMatchmaking(ctx context.Context) error {
	if s.clock.IsTournamentTime() {
		return nil
	}

	capacity := s.registry.MatchCapacity(ctx)

	activeMatches, err := s.activeMatchmakingMatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active matches: %w", err)
	}

	agents, err := s.loadAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	activeCounts := make(map[string]int)
	current := 0
	for _, match := range activeMatches {
		activeCounts[match.WhiteAgentID]++
		activeCounts[match.BlackAgentID]++
		// Local-vs-local runs on the agents' own machines and holds no
		// executor slot.
		if !(agents[match.WhiteAgentID] != nil && agents[match.WhiteAgentID].ExecutionMode == models.ExecutionModeLocal &&
			agents[match.BlackAgentID] != nil && agents[match.BlackAgentID].ExecutionMode == models.ExecutionModeLocal) {
			current++
		}
	}

	candidates, err := s.eligibleCandidates(ctx, agents, activeCounts)
	if err != nil {
		return err
	}
	if len(candidates) < 2 {
		return nil
	}

	slots := capacity - current
	log.Printf("[Scheduler] Active matches: %d/%d, eligible agents: %d", current, capacity, len(candidates))
	if slots <= 0 {
		return nil
	}

	scheduled := 0
	attempts := maxSchedulesPerTick
	if slots < attempts {
		attempts = slots
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if len(candidates) < 2 || slots <= 0 {
			break
		}

		sortByLoad(candidates, s.rng)
		first, second := pairByRating(candidates)

		white, black := first, second
		if coinFlip() {
			white, black = second, first
		}

		bothLocal := white.mode == models.ExecutionModeLocal && black.mode == models.ExecutionModeLocal
		if !bothLocal && slots <= 0 {
			break
		}

		matchID := uuid.NewString()
		_, err := s.db.Matches().InsertOne(ctx, models.Match{
			ID:           matchID,
			WhiteAgentID: white.id,
			BlackAgentID: black.id,
			MatchType:    models.TypeMatchmaking,
			Status:       models.MatchPending,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to create match: %w", err)
		}
		if err := s.bus.QueuePush(ctx, bus.PendingMatchQueue, matchID); err != nil {
			return fmt.Errorf("failed to queue match %s: %w", matchID, err)
		}

		if !bothLocal {
			slots--
		}
		white.active++
		black.active++
		scheduled++
		log.Printf("[Scheduler] Scheduled %s (rating %d, %s) vs %s (rating %d, %s)",
			white.name, white.rating, white.mode, black.name, black.rating, black.mode)

		// Local agents at their cap leave the pool for this tick.
		candidates = pruneSaturated(candidates, s.perLocalCap)
	}

	if scheduled > 0 {
		log.Printf("[Scheduler] Total games scheduled this pass: %d", scheduled)
	}
	return nil
}

// pairByRating picks the first pair inside progressively wider rating
// windows of the load-sorted candidate list, falling back to the two least
// loaded agents.
func pairByRating(cands []*candidate) (*candidate, *candidate) {
	for _, mult := range eloRangeMultipliers {
		window := eloRange * mult
		for i := range cands {
			for j := i + 1; j < len(cands); j++ {
				diff := cands[i].rating - cands[j].rating
				if diff < 0 {
					diff = -diff
				}
				if diff <= window {
					return cands[i], cands[j]
				}
			}
		}
	}
	return cands[0], cands[1]
}

func pruneSaturated(cands []*candidate, perLocalCap int) []*candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.mode == models.ExecutionModeLocal && c.active >= perLocalCap {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Scheduler) activeMatchmakingMatches(ctx context.Context) ([]models.Match, error) {
	cursor, err := s.db.Matches().Find(ctx, bson.M{
		"matchType": models.TypeMatchmaking,
		"status":    bson.M{"$in": []string{models.MatchPending, models.MatchInProgress}},
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

func (s *Scheduler) loadAgents(ctx context.Context) (map[string]*models.Agent, error) {
	cursor, err := s.db.Agents().Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, err
	}
	var list []models.Agent
	if err := cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	agents := make(map[string]*models.Agent, len(list))
	for i := range list {
		agents[list[i].ID] = &list[i]
	}
	return agents, nil
}

// eligibleCandidates filters agents into the pairing pool. Server agents
// are always eligible; local agents need a live, non-draining gateway
// session with a fresh heartbeat and spare per-agent capacity.
func (s *Scheduler) eligibleCandidates(ctx context.Context, agents map[string]*models.Agent, activeCounts map[string]int) ([]*candidate, error) {
	ratings, err := s.loadRatings(ctx)
	if err != nil {
		return nil, err
	}
	connections, err := s.latestConnections(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-heartbeatFreshness)
	var out []*candidate
	for _, agent := range agents {
		active := activeCounts[agent.ID]

		if agent.ExecutionMode == models.ExecutionModeLocal {
			conn, ok := connections[agent.ID]
			if !ok {
				continue
			}
			if conn.Status == models.ConnDraining || conn.Status == models.ConnDisconnected {
				continue
			}
			if conn.LastHeartbeat.Before(cutoff) {
				continue
			}
			if active >= s.perLocalCap {
				continue
			}
		}

		rating := models.InitialRating
		if r, ok := ratings[agent.ID]; ok {
			rating = r
		}
		out = append(out, &candidate{
			id:     agent.ID,
			name:   agent.Name,
			mode:   agent.ExecutionMode,
			rating: rating,
			active: active,
		})
	}
	return out, nil
}

func (s *Scheduler) loadRatings(ctx context.Context) (map[string]int, error) {
	cursor, err := s.db.Rankings().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var list []models.Ranking
	if err := cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	ratings := make(map[string]int, len(list))
	for _, r := range list {
		ratings[r.AgentID] = r.Rating
	}
	return ratings, nil
}

// latestConnections returns each agent's most recent connection row.
func (s *Scheduler) latestConnections(ctx context.Context) (map[string]models.LocalAgentConnection, error) {
	opts := options.Find().SetSort(bson.D{{Key: "connectedAt", Value: -1}})
	cursor, err := s.db.LocalAgentConnections().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var rows []models.LocalAgentConnection
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	latest := make(map[string]models.LocalAgentConnection)
	for _, row := range rows {
		if _, ok := latest[row.AgentID]; !ok {
			latest[row.AgentID] = row
		}
	}
	return latest, nil
}
