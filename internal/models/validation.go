package models

import "time"

// Validation queue statuses.
const (
	ValidationPending = "pending"
	ValidationTesting = "testing"
	ValidationPassed  = "passed"
	ValidationFailed  = "failed"
)

// ValidationQueueEntry is a submitted agent awaiting its smoke test. On pass
// an Agent plus Ranking are created and AgentID points at them; on fail no
// Agent row is ever created and Error carries a sanitized message.
type ValidationQueueEntry struct {
	ID             string    `json:"id" bson:"_id"`
	OwnerID        string    `json:"ownerId" bson:"ownerId"`
	Name           string    `json:"name" bson:"name"`
	Version        int       `json:"version" bson:"version"`
	CodeBlob       string    `json:"-" bson:"codeBlob"`
	CodeHash       string    `json:"codeHash" bson:"codeHash"`
	ExecutionMode  string    `json:"executionMode" bson:"executionMode"`
	Status         string    `json:"status" bson:"status"`
	Error          string    `json:"error,omitempty" bson:"error,omitempty"`
	TestDurationMs int       `json:"testDurationMs,omitempty" bson:"testDurationMs,omitempty"`
	AgentID        string    `json:"agentId,omitempty" bson:"agentId,omitempty"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}
