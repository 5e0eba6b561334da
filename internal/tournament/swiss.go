package tournament

import (
	"math"
	"math/rand"
	"sort"

	"fragment-arena/internal/models"
)

// Bracket identifiers. Challenger is the bottom quarter by rating,
// contender the middle half, elite the top quarter.
const (
	BracketChallenger = "challenger"
	BracketContender  = "contender"
	BracketElite      = "elite"
)

var bracketIDs = []string{BracketChallenger, BracketContender, BracketElite}

// minBracketSplit is the smallest field worth splitting; below it everyone
// plays one combined contender bracket.
const minBracketSplit = 8

// entrant is one tournament participant.
type entrant struct {
	ID     string
	Name   string
	Rating int
}

// standing is one entrant's Swiss record, computed in memory from the
// completed tournament matches rather than a dedicated table.
type standing struct {
	Points        float64
	MatchesPlayed int
	Opponents     []string
	Buchholz      float64
}

func (s *standing) hasPlayed(opponentID string) bool {
	for _, id := range s.Opponents {
		if id == opponentID {
			return true
		}
	}
	return false
}

// computeStandings folds completed matches between bracket members into
// points (1/0.5/0), opponent lists, and Buchholz (sum of opponents' points).
func computeStandings(memberIDs []string, matches []models.Match) map[string]*standing {
	standings := make(map[string]*standing, len(memberIDs))
	for _, id := range memberIDs {
		standings[id] = &standing{}
	}

	for _, m := range matches {
		white, wok := standings[m.WhiteAgentID]
		black, bok := standings[m.BlackAgentID]
		if !wok || !bok {
			continue
		}

		if !white.hasPlayed(m.BlackAgentID) {
			white.Opponents = append(white.Opponents, m.BlackAgentID)
			white.MatchesPlayed++
		}
		if !black.hasPlayed(m.WhiteAgentID) {
			black.Opponents = append(black.Opponents, m.WhiteAgentID)
			black.MatchesPlayed++
		}

		switch m.Winner {
		case models.WinnerWhite:
			white.Points += 1.0
		case models.WinnerBlack:
			black.Points += 1.0
		default:
			white.Points += 0.5
			black.Points += 0.5
		}
	}

	for _, s := range standings {
		s.Buchholz = 0
		for _, oppID := range s.Opponents {
			if opp, ok := standings[oppID]; ok {
				s.Buchholz += opp.Points
			}
		}
	}
	return standings
}

// totalRounds is ceil(log2(n)) clamped to [3, n-1].
func totalRounds(numAgents int) int {
	if numAgents < 2 {
		return 0
	}
	logRounds := int(math.Ceil(math.Log2(float64(numAgents))))
	rounds := logRounds
	if rounds < 3 {
		rounds = 3
	}
	if max := numAgents - 1; rounds > max {
		rounds = max
	}
	return rounds
}

// currentRound derives the round number from matches played: when everyone
// is level the next round is starting, otherwise the round in flight.
func currentRound(standings map[string]*standing, total int) int {
	if len(standings) == 0 {
		return 1
	}
	minPlayed, maxPlayed := math.MaxInt, 0
	for _, s := range standings {
		if s.MatchesPlayed < minPlayed {
			minPlayed = s.MatchesPlayed
		}
		if s.MatchesPlayed > maxPlayed {
			maxPlayed = s.MatchesPlayed
		}
	}
	round := maxPlayed
	if minPlayed == maxPlayed {
		round = maxPlayed + 1
	}
	if round > total {
		round = total
	}
	return round
}

// bracketComplete reports whether every entrant has played all rounds.
func bracketComplete(standings map[string]*standing, total int) bool {
	if len(standings) == 0 {
		return false
	}
	for _, s := range standings {
		if s.MatchesPlayed < total {
			return false
		}
	}
	return true
}

// swissPairing produces the next round's pairings: entrants sorted by
// points, Buchholz, then rating, shuffled within equal-score groups, then
// greedily matched to the nearest-score opponent they have not yet played.
// Colors are randomized per pairing.
func swissPairing(entrants []entrant, standings map[string]*standing, rng *rand.Rand) [][2]entrant {
	if len(entrants) < 2 {
		return nil
	}

	maxOpponents := len(entrants) - 1
	eligible := make([]entrant, 0, len(entrants))
	for _, e := range entrants {
		if s, ok := standings[e.ID]; ok && len(s.Opponents) >= maxOpponents {
			continue
		}
		eligible = append(eligible, e)
	}
	if len(eligible) < 2 {
		return nil
	}

	points := func(id string) float64 {
		if s, ok := standings[id]; ok {
			return s.Points
		}
		return 0
	}
	buchholz := func(id string) float64 {
		if s, ok := standings[id]; ok {
			return s.Buchholz
		}
		return 0
	}

	sort.Slice(eligible, func(i, j int) bool {
		pi, pj := points(eligible[i].ID), points(eligible[j].ID)
		if pi != pj {
			return pi > pj
		}
		bi, bj := buchholz(eligible[i].ID), buchholz(eligible[j].ID)
		if bi != bj {
			return bi > bj
		}
		return eligible[i].Rating > eligible[j].Rating
	})

	// Shuffle inside equal-score runs so repeated rounds vary.
	for lo := 0; lo < len(eligible); {
		hi := lo + 1
		for hi < len(eligible) && points(eligible[hi].ID) == points(eligible[lo].ID) {
			hi++
		}
		group := eligible[lo:hi]
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		lo = hi
	}

	var pairings [][2]entrant
	paired := make(map[string]bool)

	for _, first := range eligible {
		if paired[first.ID] {
			continue
		}

		var best *entrant
		bestDiff := math.Inf(1)
		for i := range eligible {
			second := eligible[i]
			if second.ID == first.ID || paired[second.ID] {
				continue
			}
			if s, ok := standings[first.ID]; ok && s.hasPlayed(second.ID) {
				continue
			}
			diff := math.Abs(points(first.ID) - points(second.ID))
			if diff < bestDiff {
				bestDiff = diff
				best = &eligible[i]
			}
		}
		if best == nil {
			continue
		}

		paired[first.ID] = true
		paired[best.ID] = true
		if rng.Float64() < 0.5 {
			pairings = append(pairings, [2]entrant{first, *best})
		} else {
			pairings = append(pairings, [2]entrant{*best, first})
		}
	}
	return pairings
}

// splitBrackets carves the rating-ascending entrant list into the three
// brackets. Small fields all land in contender.
func splitBrackets(sortedIDs []string) map[string][]string {
	brackets := map[string][]string{
		BracketChallenger: {},
		BracketContender:  {},
		BracketElite:      {},
	}
	total := len(sortedIDs)
	if total == 0 {
		return brackets
	}
	if total < minBracketSplit {
		brackets[BracketContender] = sortedIDs
		return brackets
	}

	bottomEnd := int(math.Round(float64(total) * 0.25))
	if bottomEnd < 1 {
		bottomEnd = 1
	}
	topStart := int(math.Round(float64(total) * 0.75))
	if topStart < bottomEnd {
		topStart = bottomEnd
	}

	brackets[BracketChallenger] = sortedIDs[:bottomEnd]
	brackets[BracketContender] = sortedIDs[bottomEnd:topStart]
	brackets[BracketElite] = sortedIDs[topStart:]
	return brackets
}

// bracketConcurrency is the per-bracket ceiling of simultaneous matches.
func bracketConcurrency(bracketID string) int {
	if bracketID == BracketContender {
		return 3
	}
	return 2
}
