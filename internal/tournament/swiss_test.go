package tournament

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragment-arena/internal/models"
)

func TestTotalRounds(t *testing.T) {
	assert.Equal(t, 0, totalRounds(0))
	assert.Equal(t, 0, totalRounds(1))
	assert.Equal(t, 1, totalRounds(2), "two players can only meet once")
	assert.Equal(t, 3, totalRounds(4), "floor of three rounds")
	assert.Equal(t, 3, totalRounds(8))
	assert.Equal(t, 4, totalRounds(16))
	assert.Equal(t, 5, totalRounds(20))
}

func TestSplitBracketsSmallFieldStaysTogether(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	brackets := splitBrackets(ids)
	assert.Empty(t, brackets[BracketChallenger])
	assert.Equal(t, ids, brackets[BracketContender])
	assert.Empty(t, brackets[BracketElite])
}

func TestSplitBracketsQuartersLargeField(t *testing.T) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("agent-%02d", i)
	}
	brackets := splitBrackets(ids)

	// Rating ascending: bottom quarter is the challenger bracket.
	assert.Equal(t, ids[:3], brackets[BracketChallenger])
	assert.Equal(t, ids[3:9], brackets[BracketContender])
	assert.Equal(t, ids[9:], brackets[BracketElite])

	total := len(brackets[BracketChallenger]) + len(brackets[BracketContender]) + len(brackets[BracketElite])
	assert.Equal(t, len(ids), total)
}

func completedMatch(white, black, winner string) models.Match {
	return models.Match{
		ID:           white + "-" + black,
		WhiteAgentID: white,
		BlackAgentID: black,
		MatchType:    models.TypeTournament,
		Status:       models.MatchCompleted,
		Winner:       winner,
	}
}

func TestComputeStandings(t *testing.T) {
	members := []string{"a", "b", "c"}
	matches := []models.Match{
		completedMatch("a", "b", models.WinnerWhite),
		completedMatch("b", "c", models.WinnerDraw),
		completedMatch("c", "a", models.WinnerBlack),
	}

	standings := computeStandings(members, matches)
	require.Len(t, standings, 3)

	assert.Equal(t, 2.0, standings["a"].Points)
	assert.Equal(t, 0.5, standings["b"].Points)
	assert.Equal(t, 0.5, standings["c"].Points)
	assert.Equal(t, 2, standings["a"].MatchesPlayed)
	assert.ElementsMatch(t, []string{"b", "c"}, standings["a"].Opponents)

	// Buchholz: sum of opponents' points.
	assert.Equal(t, 1.0, standings["a"].Buchholz)
	assert.Equal(t, 2.5, standings["b"].Buchholz)
	assert.Equal(t, 2.5, standings["c"].Buchholz)
}

func TestComputeStandingsIgnoresOutsiders(t *testing.T) {
	members := []string{"a", "b"}
	matches := []models.Match{
		completedMatch("a", "outsider", models.WinnerWhite),
		completedMatch("a", "b", models.WinnerWhite),
	}

	standings := computeStandings(members, matches)
	assert.Equal(t, 1.0, standings["a"].Points)
	assert.Equal(t, 1, standings["a"].MatchesPlayed)
}

func TestCurrentRoundAdvancesOnLevelStandings(t *testing.T) {
	standings := map[string]*standing{
		"a": {MatchesPlayed: 1},
		"b": {MatchesPlayed: 1},
	}
	assert.Equal(t, 2, currentRound(standings, 3), "level field means the next round is starting")

	standings["b"].MatchesPlayed = 2
	assert.Equal(t, 2, currentRound(standings, 3), "uneven field means a round is in flight")

	standings["a"].MatchesPlayed = 3
	standings["b"].MatchesPlayed = 3
	assert.Equal(t, 3, currentRound(standings, 3), "never exceeds the total")
}

func TestBracketComplete(t *testing.T) {
	standings := map[string]*standing{
		"a": {MatchesPlayed: 3},
		"b": {MatchesPlayed: 2},
	}
	assert.False(t, bracketComplete(standings, 3))

	standings["b"].MatchesPlayed = 3
	assert.True(t, bracketComplete(standings, 3))

	assert.False(t, bracketComplete(map[string]*standing{}, 3))
}

func TestSwissPairingAvoidsRematches(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entrants := []entrant{
		{ID: "a", Rating: 1800},
		{ID: "b", Rating: 1700},
		{ID: "c", Rating: 1600},
		{ID: "d", Rating: 1500},
	}
	standings := map[string]*standing{
		"a": {Points: 1, Opponents: []string{"b"}, MatchesPlayed: 1},
		"b": {Points: 0, Opponents: []string{"a"}, MatchesPlayed: 1},
		"c": {Points: 1, Opponents: []string{"d"}, MatchesPlayed: 1},
		"d": {Points: 0, Opponents: []string{"c"}, MatchesPlayed: 1},
	}

	pairings := swissPairing(entrants, standings, rng)
	require.Len(t, pairings, 2)

	for _, pair := range pairings {
		s := standings[pair[0].ID]
		assert.False(t, s.hasPlayed(pair[1].ID), "%s should not replay %s", pair[0].ID, pair[1].ID)
	}
}

func TestSwissPairingPrefersEqualScores(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	entrants := []entrant{
		{ID: "leader1", Rating: 1500},
		{ID: "leader2", Rating: 1500},
		{ID: "tail1", Rating: 1500},
		{ID: "tail2", Rating: 1500},
	}
	standings := map[string]*standing{
		"leader1": {Points: 2},
		"leader2": {Points: 2},
		"tail1":   {Points: 0},
		"tail2":   {Points: 0},
	}

	pairings := swissPairing(entrants, standings, rng)
	require.Len(t, pairings, 2)

	for _, pair := range pairings {
		p0 := standings[pair[0].ID].Points
		p1 := standings[pair[1].ID].Points
		assert.Equal(t, p0, p1, "pairing should stay inside a score group")
	}
}

func TestSwissPairingExcludesFinishedEntrants(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	entrants := []entrant{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}
	// a has already faced everyone.
	standings := map[string]*standing{
		"a": {Opponents: []string{"b", "c"}},
		"b": {Opponents: []string{"a"}},
		"c": {Opponents: []string{"a"}},
	}

	pairings := swissPairing(entrants, standings, rng)
	require.Len(t, pairings, 1)
	got := map[string]bool{pairings[0][0].ID: true, pairings[0][1].ID: true}
	assert.True(t, got["b"] && got["c"])
}

func TestSwissPairingTooFewEntrants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Nil(t, swissPairing([]entrant{{ID: "a"}}, map[string]*standing{"a": {}}, rng))
}

func TestBracketConcurrency(t *testing.T) {
	assert.Equal(t, 3, bracketConcurrency(BracketContender))
	assert.Equal(t, 2, bracketConcurrency(BracketChallenger))
	assert.Equal(t, 2, bracketConcurrency(BracketElite))
}
