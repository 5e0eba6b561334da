package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragment-arena/internal/models"
)

func TestPairByRatingPrefersNarrowWindow(t *testing.T) {
	cands := []*candidate{
		{id: "a", rating: 1500},
		{id: "b", rating: 2200},
		{id: "c", rating: 1550},
	}

	first, second := pairByRating(cands)
	got := map[string]bool{first.id: true, second.id: true}
	assert.True(t, got["a"] && got["c"], "closest ratings should pair first, got %s vs %s", first.id, second.id)
}

func TestPairByRatingWidensThenFallsBack(t *testing.T) {
	// 450 apart: outside the 200 window, inside 600.
	wide := []*candidate{
		{id: "a", rating: 1500},
		{id: "b", rating: 1950},
	}
	first, second := pairByRating(wide)
	assert.Equal(t, "a", first.id)
	assert.Equal(t, "b", second.id)

	// 1000 apart: outside every window, fallback still pairs them.
	extreme := []*candidate{
		{id: "a", rating: 1000},
		{id: "b", rating: 2000},
	}
	first, second = pairByRating(extreme)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.id, second.id)
}

func TestSortByLoadOrdersByActiveMatches(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cands := []*candidate{
		{id: "busy", active: 3},
		{id: "idle", active: 0},
		{id: "medium", active: 1},
	}
	sortByLoad(cands, rng)
	assert.Equal(t, "idle", cands[0].id)
	assert.Equal(t, "medium", cands[1].id)
	assert.Equal(t, "busy", cands[2].id)
}

func TestPruneSaturatedDropsCappedLocals(t *testing.T) {
	cands := []*candidate{
		{id: "server-busy", mode: models.ExecutionModeServer, active: 10},
		{id: "local-free", mode: models.ExecutionModeLocal, active: 2},
		{id: "local-capped", mode: models.ExecutionModeLocal, active: 4},
	}

	out := pruneSaturated(cands, 4)
	require.Len(t, out, 2)
	assert.Equal(t, "server-busy", out[0].id)
	assert.Equal(t, "local-free", out[1].id)
}

func TestCoinFlipIsNotConstant(t *testing.T) {
	seen := map[bool]bool{}
	for i := 0; i < 200 && len(seen) < 2; i++ {
		seen[coinFlip()] = true
	}
	assert.Len(t, seen, 2)
}
