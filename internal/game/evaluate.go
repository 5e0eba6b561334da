package game

// Material values. The Right outvalues a bishop or knight because it
// combines knight jumps with rook rays; kings carry no material weight.
const (
	pawnValue   = 1
	knightValue = 3
	bishopValue = 3
	rightValue  = 6
	queenValue  = 9
)

// Evaluate returns the material balance of the position.
// Positive = white advantage, negative = black advantage.
func Evaluate(b *Board) int {
	score := 0
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			piece := b.Squares[y][x]
			if piece == 0 {
				continue
			}

			value := 0
			switch PieceType(piece) {
			case Pawn:
				value = pawnValue
			case Knight:
				value = knightValue
			case Bishop:
				value = bishopValue
			case Right:
				value = rightValue
			case Queen:
				value = queenValue
			}

			if PieceOwner(piece) == White {
				score += value
			} else {
				score -= value
			}
		}
	}
	return score
}
