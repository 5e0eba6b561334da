package models

import "time"

// Execution modes for agents.
const (
	ExecutionModeServer = "server"
	ExecutionModeLocal  = "local"
)

// Agent is a competitor. Server agents run inside the worker sandbox; local
// agents connect through the gateway and answer move requests over the bus.
// Immutable after creation except Active and version bumps.
type Agent struct {
	ID                  string    `json:"id" bson:"_id"`
	OwnerID             string    `json:"ownerId" bson:"ownerId"`
	Name                string    `json:"name" bson:"name"`
	Version             int       `json:"version" bson:"version"`
	CodeBlob            string    `json:"-" bson:"codeBlob"`
	CodeHash            string    `json:"codeHash" bson:"codeHash"`
	ExecutionMode       string    `json:"executionMode" bson:"executionMode"`
	Active              bool      `json:"active" bson:"active"`
	ConnectionTokenHash string    `json:"-" bson:"connectionTokenHash,omitempty"`
	CreatedAt           time.Time `json:"createdAt" bson:"createdAt"`
}

// Ranking stores Elo and aggregate stats for one agent. Created at agent
// birth with rating 1500.
type Ranking struct {
	AgentID       string    `json:"agentId" bson:"_id"`
	Rating        int       `json:"rating" bson:"rating"`
	GamesPlayed   int       `json:"gamesPlayed" bson:"gamesPlayed"`
	Wins          int       `json:"wins" bson:"wins"`
	Losses        int       `json:"losses" bson:"losses"`
	Draws         int       `json:"draws" bson:"draws"`
	AvgMoveTimeMs int       `json:"avgMoveTimeMs" bson:"avgMoveTimeMs,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

const InitialRating = 1500
