// Package clock decides which scheduling regime is active. Tournament mode
// is a pure function of wall clock versus a configured start time; no flag
// is stored anywhere, so every consumer re-asks at each decision point.
package clock

import "time"

type Clock struct {
	tournamentStart time.Time
	now             func() time.Time
}

// New builds a clock with the given tournament start. The zero time means
// tournament mode never activates.
func New(tournamentStart time.Time) *Clock {
	return &Clock{tournamentStart: tournamentStart, now: time.Now}
}

// NewAt is New with an injectable time source.
func NewAt(tournamentStart time.Time, now func() time.Time) *Clock {
	return &Clock{tournamentStart: tournamentStart, now: now}
}

func (c *Clock) Now() time.Time {
	return c.now()
}

// IsTournamentTime reports whether the tournament window has opened.
func (c *Clock) IsTournamentTime() bool {
	if c.tournamentStart.IsZero() {
		return false
	}
	return !c.now().Before(c.tournamentStart)
}
