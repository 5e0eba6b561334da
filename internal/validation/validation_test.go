package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fragment-arena/internal/models"
	"fragment-arena/internal/sandbox"
)

func newTestProcessor(timeout time.Duration) *Processor {
	return &Processor{
		sandbox: sandbox.NewRunner(timeout),
		timeout: timeout,
	}
}

func TestCodeHashIgnoresCommentsAndWhitespace(t *testing.T) {
	a := "strategy: greedy"
	b := "  strategy: greedy   # our best agent\n\n"
	c := "strategy: random"

	assert.Equal(t, CodeHash(a), CodeHash(b))
	assert.NotEqual(t, CodeHash(a), CodeHash(c))
}

func TestSmokeTestPassesBuiltinStrategy(t *testing.T) {
	p := newTestProcessor(5 * time.Second)
	entry := &models.ValidationQueueEntry{
		Name:          "greedy-bot",
		CodeBlob:      "strategy: greedy",
		ExecutionMode: models.ExecutionModeServer,
	}

	failure, _ := p.smokeTest(context.Background(), entry)
	assert.Empty(t, failure)
}

func TestSmokeTestRejectsUnknownStrategy(t *testing.T) {
	p := newTestProcessor(5 * time.Second)
	entry := &models.ValidationQueueEntry{
		Name:          "mystery",
		CodeBlob:      "strategy: quantum",
		ExecutionMode: models.ExecutionModeServer,
	}

	failure, _ := p.smokeTest(context.Background(), entry)
	assert.Contains(t, failure, "unknown strategy")
}

func TestSmokeTestLocalAgentSkipsSandbox(t *testing.T) {
	p := newTestProcessor(5 * time.Second)

	entry := &models.ValidationQueueEntry{
		Name:          "remote-bot",
		ExecutionMode: models.ExecutionModeLocal,
	}
	failure, duration := p.smokeTest(context.Background(), entry)
	assert.Empty(t, failure)
	assert.Zero(t, duration)

	unnamed := &models.ValidationQueueEntry{ExecutionMode: models.ExecutionModeLocal}
	failure, _ = p.smokeTest(context.Background(), unnamed)
	assert.Equal(t, "agent name is required", failure)
}

func TestSanitizeNeverLeaksInternals(t *testing.T) {
	assert.Equal(t, "agent crashed while computing a move",
		sanitize(errors.New(`agent panicked: runtime error: index out of range [7]`)))
	assert.Equal(t, "agent failed to produce a move",
		sanitize(errors.New("read tcp 10.0.0.3:6379: connection reset")))
	assert.Contains(t, sanitize(errors.New(`unknown strategy "quantum"`)), "unknown strategy")
}
