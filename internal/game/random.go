package game

import "math/rand"

const (
	randomMaxAttempts = 100
	minLegalMoves     = 3
)

// piece classes available besides the mandatory king
var randomPieceTypes = []rune{Pawn, Knight, Bishop, Queen, Right}

// GenerateRandomBoard builds a random symmetric position: 3-8 pieces per
// side, one king each, white confined to the bottom two ranks with black
// mirrored by 180-degree rotation. Positions are rejected unless neither
// king starts in check, neither side has a mate-in-1, and both sides have
// at least 3 legal moves. Falls back to Sample0 when no valid position is
// found within the attempt budget.
func GenerateRandomBoard(rng *rand.Rand) *Board {
	for attempt := 0; attempt < randomMaxAttempts; attempt++ {
		b := randomCandidate(rng)

		if b.InCheck(White) || b.InCheck(Black) {
			continue
		}
		if len(b.LegalMoves(White)) < minLegalMoves || len(b.LegalMoves(Black)) < minLegalMoves {
			continue
		}
		if b.HasMateInOne(White) || b.HasMateInOne(Black) {
			continue
		}
		return b
	}
	return Sample0()
}

func randomCandidate(rng *rand.Rand) *Board {
	b := &Board{}
	numPieces := 3 + rng.Intn(6) // 3..8 per side

	// White positions on the bottom two ranks.
	positions := make([]Pos, 0, 2*Size)
	for _, y := range []int{3, 4} {
		for x := 0; x < Size; x++ {
			positions = append(positions, Pos{X: x, Y: y})
		}
	}
	rng.Shuffle(len(positions), func(i, j int) {
		positions[i], positions[j] = positions[j], positions[i]
	})

	types := make([]rune, numPieces)
	types[0] = King
	for i := 1; i < numPieces; i++ {
		types[i] = randomPieceTypes[rng.Intn(len(randomPieceTypes))]
	}

	for i := 0; i < numPieces; i++ {
		wp := positions[i]
		b.Set(wp, pieceFor(types[i], White))
		// 180-degree rotation puts the black twin on the top two ranks.
		b.Set(Pos{X: Size - 1 - wp.X, Y: Size - 1 - wp.Y}, pieceFor(types[i], Black))
	}
	return b
}
