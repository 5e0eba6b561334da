package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTournamentTime(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	fixed := func(at time.Time) func() time.Time {
		return func() time.Time { return at }
	}

	c := NewAt(start, fixed(start.Add(-time.Minute)))
	assert.False(t, c.IsTournamentTime())

	c = NewAt(start, fixed(start))
	assert.True(t, c.IsTournamentTime())

	c = NewAt(start, fixed(start.Add(time.Hour)))
	assert.True(t, c.IsTournamentTime())
}

func TestZeroStartNeverActivates(t *testing.T) {
	c := New(time.Time{})
	assert.False(t, c.IsTournamentTime())
}
