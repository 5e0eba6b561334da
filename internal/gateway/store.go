package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"fragment-arena/internal/db"
	"fragment-arena/internal/models"
)

// Store is what the session manager needs from persistence: credential
// lookup, connection row transitions, and liveness checks for games.
type Store interface {
	// AuthenticateLocalAgent returns the agent matching the token digest,
	// or nil when credentials do not match an active local agent.
	AuthenticateLocalAgent(ctx context.Context, agentID, tokenHash string) (*models.Agent, error)
	RecordConnect(ctx context.Context, agentID, transport, remoteAddr string) error
	RecordStatus(ctx context.Context, agentID, status string) error
	RecordHeartbeat(ctx context.Context, agentID string) error
	RecordDisconnect(ctx context.Context, agentID string) error
	// MatchActive reports whether the match is still pending or in progress.
	MatchActive(ctx context.Context, matchID string) (bool, error)
}

type mongoStore struct {
	db *db.MongoDB
}

// NewStore wraps the shared MongoDB handle in the gateway's Store contract.
func NewStore(database *db.MongoDB) Store {
	return &mongoStore{db: database}
}

func (s *mongoStore) AuthenticateLocalAgent(ctx context.Context, agentID, tokenHash string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.Agents().FindOne(ctx, bson.M{
		"_id":                 agentID,
		"connectionTokenHash": tokenHash,
		"executionMode":       models.ExecutionModeLocal,
		"active":              true,
	}).Decode(&agent)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *mongoStore) RecordConnect(ctx context.Context, agentID, transport, remoteAddr string) error {
	now := time.Now()

	// One live row per agent: force any lingering rows to disconnected
	// before inserting the new one.
	_, err := s.db.LocalAgentConnections().UpdateMany(ctx,
		bson.M{"agentId": agentID, "status": bson.M{"$ne": models.ConnDisconnected}},
		bson.M{"$set": bson.M{"status": models.ConnDisconnected, "disconnectedAt": now}},
	)
	if err != nil {
		return err
	}

	_, err = s.db.LocalAgentConnections().InsertOne(ctx, models.LocalAgentConnection{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		Transport:     transport,
		Status:        models.ConnConnected,
		ConnectedAt:   now,
		LastHeartbeat: now,
		RemoteAddr:    remoteAddr,
	})
	return err
}

func (s *mongoStore) RecordStatus(ctx context.Context, agentID, status string) error {
	_, err := s.db.LocalAgentConnections().UpdateMany(ctx,
		bson.M{"agentId": agentID, "status": bson.M{"$ne": models.ConnDisconnected}},
		bson.M{"$set": bson.M{"status": status, "lastHeartbeat": time.Now()}},
	)
	return err
}

func (s *mongoStore) RecordHeartbeat(ctx context.Context, agentID string) error {
	_, err := s.db.LocalAgentConnections().UpdateMany(ctx,
		bson.M{"agentId": agentID, "status": bson.M{"$ne": models.ConnDisconnected}},
		bson.M{"$set": bson.M{"lastHeartbeat": time.Now()}},
	)
	return err
}

func (s *mongoStore) RecordDisconnect(ctx context.Context, agentID string) error {
	_, err := s.db.LocalAgentConnections().UpdateMany(ctx,
		bson.M{"agentId": agentID, "status": bson.M{"$ne": models.ConnDisconnected}},
		bson.M{"$set": bson.M{"status": models.ConnDisconnected, "disconnectedAt": time.Now()}},
	)
	return err
}

func (s *mongoStore) MatchActive(ctx context.Context, matchID string) (bool, error) {
	var match models.Match
	err := s.db.Matches().FindOne(ctx, bson.M{"_id": matchID}).Decode(&match)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		// Fail open: a flaky lookup should not swallow a disconnect signal
		// for a game that may well be running.
		return true, err
	}
	return match.Status == models.MatchPending || match.Status == models.MatchInProgress, nil
}
