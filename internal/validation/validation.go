// Package validation processes submitted agents before they may compete. An
// agent only gets an Agent row (and a 1500 ranking) after its queue entry
// passes the smoke test; failed submissions keep their code in the queue
// entry alone and never become agents.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fragment-arena/internal/db"
	"fragment-arena/internal/game"
	"fragment-arena/internal/models"
	"fragment-arena/internal/sandbox"
)

const (
	pollInterval = 10 * time.Second
	batchSize    = 5
)

type Processor struct {
	db      *db.MongoDB
	sandbox *sandbox.Runner
	timeout time.Duration

	stopCh chan struct{}
}

func New(database *db.MongoDB, timeout time.Duration) *Processor {
	return &Processor{
		db:      database,
		sandbox: sandbox.NewRunner(timeout),
		timeout: timeout,
		stopCh:  make(chan struct{}),
	}
}

// Start polls the queue until Stop.
func (p *Processor) Start() {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*p.timeout+30*time.Second)
				if err := p.ProcessPending(ctx); err != nil {
					log.Printf("[Validator] Poll failed: %v", err)
				}
				cancel()
			case <-p.stopCh:
				return
			}
		}
	}()
}

func (p *Processor) Stop() {
	close(p.stopCh)
}

// ProcessPending claims and tests the oldest pending entries.
func (p *Processor) ProcessPending(ctx context.Context) error {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(batchSize)
	cursor, err := p.db.ValidationQueue().Find(ctx, bson.M{"status": models.ValidationPending}, opts)
	if err != nil {
		return err
	}
	var entries []models.ValidationQueueEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return err
	}

	for _, entry := range entries {
		// Claim so a second validator cannot test the same entry.
		claim, err := p.db.ValidationQueue().UpdateOne(ctx,
			bson.M{"_id": entry.ID, "status": models.ValidationPending},
			bson.M{"$set": bson.M{"status": models.ValidationTesting, "updatedAt": time.Now()}},
		)
		if err != nil {
			return err
		}
		if claim.ModifiedCount == 0 {
			continue
		}
		p.processEntry(ctx, &entry)
	}
	return nil
}

func (p *Processor) processEntry(ctx context.Context, entry *models.ValidationQueueEntry) {
	log.Printf("[Validator] Testing agent %s v%d (entry %s)", entry.Name, entry.Version, entry.ID)

	codeHash := entry.CodeHash
	if codeHash == "" {
		codeHash = CodeHash(entry.CodeBlob)
	}

	// The same code may only ever produce one agent.
	dup, err := p.duplicateAgent(ctx, codeHash)
	if err != nil {
		log.Printf("[Validator] Duplicate check failed for entry %s: %v", entry.ID, err)
		p.fail(ctx, entry, "internal validation error", 0)
		return
	}
	if dup {
		p.fail(ctx, entry, "an agent with identical code already exists", 0)
		return
	}

	failure, duration := p.smokeTest(ctx, entry)
	if failure != "" {
		log.Printf("[Validator] FAILED: %s v%d - %s", entry.Name, entry.Version, failure)
		p.fail(ctx, entry, failure, duration)
		return
	}

	agentID := uuid.NewString()
	now := time.Now()
	_, err = p.db.Agents().InsertOne(ctx, models.Agent{
		ID:            agentID,
		OwnerID:       entry.OwnerID,
		Name:          entry.Name,
		Version:       entry.Version,
		CodeBlob:      entry.CodeBlob,
		CodeHash:      codeHash,
		ExecutionMode: entry.ExecutionMode,
		Active:        true,
		CreatedAt:     now,
	})
	if err != nil {
		log.Printf("[Validator] Failed to create agent for entry %s: %v", entry.ID, err)
		p.fail(ctx, entry, "internal validation error", duration)
		return
	}
	if _, err := p.db.Rankings().InsertOne(ctx, models.Ranking{
		AgentID:     agentID,
		Rating:      models.InitialRating,
		LastUpdated: now,
	}); err != nil {
		log.Printf("[Validator] Failed to create ranking for agent %s: %v", agentID, err)
	}

	_, err = p.db.ValidationQueue().UpdateOne(ctx,
		bson.M{"_id": entry.ID},
		bson.M{"$set": bson.M{
			"status":         models.ValidationPassed,
			"agentId":        agentID,
			"codeHash":       codeHash,
			"testDurationMs": duration,
			"updatedAt":      time.Now(),
		}},
	)
	if err != nil {
		log.Printf("[Validator] Failed to mark entry %s passed: %v", entry.ID, err)
		return
	}
	log.Printf("[Validator] PASSED: %s v%d (%dms), agent %s created", entry.Name, entry.Version, duration, agentID)
}

// smokeTest runs one move on the canonical board under the agent timeout.
// Returns ("", duration) on success, (sanitizedError, duration) on failure.
// Local agents skip the sandbox run: their code never executes on the
// server, and their real gate is the connection token at the gateway.
func (p *Processor) smokeTest(ctx context.Context, entry *models.ValidationQueueEntry) (string, int) {
	if entry.ExecutionMode == models.ExecutionModeLocal {
		if strings.TrimSpace(entry.Name) == "" {
			return "agent name is required", 0
		}
		return "", 0
	}

	start := time.Now()
	strategy, err := sandbox.ResolveStrategy(entry.CodeBlob)
	if err != nil {
		return sanitize(err), int(time.Since(start).Milliseconds())
	}

	board := game.Sample0()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	move, _, timedOut, err := p.sandbox.Execute(ctx, strategy, board, game.White, rng)
	duration := int(time.Since(start).Milliseconds())

	if timedOut {
		return fmt.Sprintf("agent exceeded the %.0f second timeout", p.timeout.Seconds()), duration
	}
	if err != nil {
		return sanitize(err), duration
	}
	if move == nil {
		return "agent returned no move when legal moves were available", duration
	}
	if problem := legality(board, *move); problem != "" {
		return problem, duration
	}
	return "", duration
}

func legality(b *game.Board, m game.Move) string {
	for _, legal := range b.LegalMoves(game.White) {
		if legal == m {
			return ""
		}
	}
	return "agent returned an illegal move"
}

// sanitize strips internals from errors before they are shown to the
// submitter.
func sanitize(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "unknown strategy") {
		return msg
	}
	if strings.Contains(msg, "panicked") {
		return "agent crashed while computing a move"
	}
	return "agent failed to produce a move"
}

func (p *Processor) fail(ctx context.Context, entry *models.ValidationQueueEntry, message string, duration int) {
	_, err := p.db.ValidationQueue().UpdateOne(ctx,
		bson.M{"_id": entry.ID},
		bson.M{"$set": bson.M{
			"status":         models.ValidationFailed,
			"error":          message,
			"testDurationMs": duration,
			"updatedAt":      time.Now(),
		}},
	)
	if err != nil {
		log.Printf("[Validator] Failed to mark entry %s failed: %v", entry.ID, err)
	}
}

func (p *Processor) duplicateAgent(ctx context.Context, codeHash string) (bool, error) {
	err := p.db.Agents().FindOne(ctx, bson.M{"codeHash": codeHash}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CodeHash hashes the blob after stripping comment lines and surrounding
// whitespace, so trivial reformatting does not produce a "new" agent.
func CodeHash(code string) string {
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
