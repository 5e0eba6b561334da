package elo

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fragment-arena/internal/db"
	"fragment-arena/internal/models"
)

// Updater applies rating changes for completed matches and runs a periodic
// backfill over matches whose update was missed (worker died between commit
// and rating write).
type Updater struct {
	db         *db.MongoDB
	calculator *Calculator
	stopCh     chan struct{}
}

func NewUpdater(database *db.MongoDB) *Updater {
	return &Updater{
		db:         database,
		calculator: NewCalculator(),
		stopCh:     make(chan struct{}),
	}
}

// UpdateMatchRatings applies Elo, win/loss tallies and rolling average move
// times for one completed match. Ranking rows are updated in canonical
// agent-ID order so concurrent pair updates cannot deadlock.
func (u *Updater) UpdateMatchRatings(ctx context.Context, matchID string) error {
	var match models.Match
	err := u.db.Matches().FindOne(ctx, bson.M{
		"_id":    matchID,
		"status": models.MatchCompleted,
	}).Decode(&match)
	if err == mongo.ErrNoDocuments {
		log.Printf("[Elo] Match %s not found or not completed", matchID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load match: %w", err)
	}
	if match.RatingApplied {
		return nil
	}

	whiteAvg, blackAvg, err := u.averageMoveTimes(ctx, matchID)
	if err != nil {
		return err
	}

	whiteResult, blackResult := GetGameResultFromWinner(match.Winner)

	var white, black models.Ranking
	if err := u.db.Rankings().FindOne(ctx, bson.M{"_id": match.WhiteAgentID}).Decode(&white); err != nil {
		return fmt.Errorf("failed to load white ranking: %w", err)
	}
	if err := u.db.Rankings().FindOne(ctx, bson.M{"_id": match.BlackAgentID}).Decode(&black); err != nil {
		return fmt.Errorf("failed to load black ranking: %w", err)
	}

	whiteChange := u.calculator.CalculateRatingChange(white.Rating, black.Rating, whiteResult, white.GamesPlayed)
	blackChange := u.calculator.CalculateRatingChange(black.Rating, white.Rating, blackResult, black.GamesPlayed)

	type pending struct {
		agentID string
		ranking *models.Ranking
		change  int
		result  GameResult
		avgMs   int
	}
	updates := []pending{
		{match.WhiteAgentID, &white, whiteChange, whiteResult, whiteAvg},
		{match.BlackAgentID, &black, blackChange, blackResult, blackAvg},
	}
	// Canonical order: both sides of any concurrent pair touch rankings in
	// the same sequence.
	sort.Slice(updates, func(i, j int) bool { return updates[i].agentID < updates[j].agentID })

	for _, up := range updates {
		set := bson.M{
			"rating":      up.ranking.Rating + up.change,
			"lastUpdated": time.Now(),
		}
		inc := bson.M{"gamesPlayed": 1}
		switch up.result {
		case Win:
			inc["wins"] = 1
		case Loss:
			inc["losses"] = 1
		case Draw:
			inc["draws"] = 1
		}
		if up.avgMs > 0 {
			set["avgMoveTimeMs"] = rollAverage(up.ranking.AvgMoveTimeMs, up.ranking.GamesPlayed, up.avgMs)
		}

		_, err := u.db.Rankings().UpdateOne(ctx,
			bson.M{"_id": up.agentID},
			bson.M{"$set": set, "$inc": inc})
		if err != nil {
			return fmt.Errorf("failed to update ranking for %s: %w", up.agentID, err)
		}
	}

	_, err = u.db.Matches().UpdateOne(ctx,
		bson.M{"_id": matchID},
		bson.M{"$set": bson.M{"ratingApplied": true}})
	if err != nil {
		return fmt.Errorf("failed to mark ratings applied: %w", err)
	}

	log.Printf("[Elo] Updated ratings for match %s: white %+d, black %+d", matchID, whiteChange, blackChange)
	return nil
}

// averageMoveTimes splits per-ply times by color: white played the odd move
// numbers, black the even ones (move 0 is the starting position).
func (u *Updater) averageMoveTimes(ctx context.Context, matchID string) (whiteAvg, blackAvg int, err error) {
	cursor, err := u.db.GameStates().Find(ctx,
		bson.M{"matchId": matchID, "moveNumber": bson.M{"$gte": 1}})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load game states: %w", err)
	}
	defer cursor.Close(ctx)

	var whiteSum, whiteN, blackSum, blackN int
	for cursor.Next(ctx) {
		var gs models.GameState
		if err := cursor.Decode(&gs); err != nil {
			continue
		}
		if gs.MoveTimeMs <= 0 {
			continue
		}
		if gs.MoveNumber%2 == 1 {
			whiteSum += gs.MoveTimeMs
			whiteN++
		} else {
			blackSum += gs.MoveTimeMs
			blackN++
		}
	}
	if whiteN > 0 {
		whiteAvg = whiteSum / whiteN
	}
	if blackN > 0 {
		blackAvg = blackSum / blackN
	}
	return whiteAvg, blackAvg, nil
}

func rollAverage(current, games, sample int) int {
	if current == 0 {
		return sample
	}
	return (current*games + sample) / (games + 1)
}

// StartBackfill sweeps recent completed matches whose rating update never
// landed. Runs until Stop.
func (u *Updater) StartBackfill(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				u.backfill()
			case <-u.stopCh:
				return
			}
		}
	}()
	log.Printf("[Elo] Backfill started (interval: %v)", interval)
}

func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) backfill() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-24 * time.Hour)
	cursor, err := u.db.Matches().Find(ctx, bson.M{
		"status":      models.MatchCompleted,
		"matchType":   bson.M{"$in": []string{models.TypeMatchmaking, models.TypeTournament}},
		"completedAt": bson.M{"$gt": cutoff},
		"ratingApplied": bson.M{"$ne": true},
	}, options.Find().SetSort(bson.D{{Key: "completedAt", Value: 1}}).SetLimit(100))
	if err != nil {
		log.Printf("[Elo] Backfill query failed: %v", err)
		return
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		var match models.Match
		if err := cursor.Decode(&match); err != nil {
			continue
		}
		if err := u.UpdateMatchRatings(ctx, match.ID); err != nil {
			log.Printf("[Elo] Backfill update failed for %s: %v", match.ID, err)
			continue
		}
		count++
	}
	if count > 0 {
		log.Printf("[Elo] Backfilled ratings for %d matches", count)
	}
}
