package game

// Outcome is the terminal state of a position, checked for the side to move.
type Outcome struct {
	Over        bool
	Winner      Player // empty for draws
	Termination string // "checkmate", "stalemate" or "insufficient_material"
}

// Result inspects the position from toMove's perspective: no legal moves is
// checkmate (in check) or stalemate; two bare kings is a dead draw.
func (b *Board) Result(toMove Player) Outcome {
	if b.insufficientMaterial() {
		return Outcome{Over: true, Termination: "insufficient_material"}
	}
	if len(b.LegalMoves(toMove)) > 0 {
		return Outcome{}
	}
	if b.InCheck(toMove) {
		return Outcome{Over: true, Winner: toMove.Opponent(), Termination: "checkmate"}
	}
	return Outcome{Over: true, Termination: "stalemate"}
}

func (b *Board) insufficientMaterial() bool {
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			piece := b.Squares[y][x]
			if piece != 0 && PieceType(piece) != King {
				return false
			}
		}
	}
	return true
}

// HasMateInOne reports whether player can force checkmate in a single move.
// Used by the board generator to reject lopsided starts.
func (b *Board) HasMateInOne(player Player) bool {
	for _, m := range b.LegalMoves(player) {
		next := b.Clone()
		next.Apply(m)
		opp := player.Opponent()
		if len(next.LegalMoves(opp)) == 0 && next.InCheck(opp) {
			return true
		}
	}
	return false
}
