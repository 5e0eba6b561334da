package game

var bishopDirs = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
var rookDirs = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
var queenDirs = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
var knightOffsets = [][2]int{{2, 1}, {2, -1}, {-2, 1}, {-2, -1}, {1, 2}, {1, -2}, {-1, 2}, {-1, -2}}

// LegalMoves returns all legal moves for player: pseudo-legal movement
// filtered by the own-king-safety rule.
func (b *Board) LegalMoves(player Player) []Move {
	var moves []Move
	for _, m := range b.pseudoMoves(player) {
		next := b.Clone()
		next.Apply(m)
		if !next.InCheck(player) {
			moves = append(moves, m)
		}
	}
	return moves
}

// InCheck reports whether player's king is attacked. A missing king counts
// as in check so malformed positions never pass validation.
func (b *Board) InCheck(player Player) bool {
	kingPos, ok := b.FindKing(player)
	if !ok {
		return true
	}
	for _, m := range b.pseudoMoves(player.Opponent()) {
		if m.To == kingPos {
			return true
		}
	}
	return false
}

func (b *Board) pseudoMoves(player Player) []Move {
	var moves []Move
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			piece := b.Squares[y][x]
			if piece == 0 || PieceOwner(piece) != player {
				continue
			}
			from := Pos{X: x, Y: y}
			switch PieceType(piece) {
			case Pawn:
				moves = append(moves, b.pawnMoves(from, player)...)
			case Knight:
				moves = append(moves, b.jumpMoves(from, player, knightOffsets)...)
			case Bishop:
				moves = append(moves, b.slidingMoves(from, player, bishopDirs)...)
			case Right:
				// Knight + rook hybrid.
				moves = append(moves, b.jumpMoves(from, player, knightOffsets)...)
				moves = append(moves, b.slidingMoves(from, player, rookDirs)...)
			case Queen:
				moves = append(moves, b.slidingMoves(from, player, queenDirs)...)
			case King:
				moves = append(moves, b.kingMoves(from, player)...)
			}
		}
	}
	return moves
}

// pawnMoves: one square forward, diagonal captures. No double step on a
// five-rank board; promotion is handled in Apply.
func (b *Board) pawnMoves(from Pos, player Player) []Move {
	var moves []Move
	dir := -1
	if player == Black {
		dir = 1
	}

	to := Pos{X: from.X, Y: from.Y + dir}
	if to.InBounds() && b.At(to) == 0 {
		moves = append(moves, Move{From: from, To: to})
	}

	for _, dx := range []int{-1, 1} {
		to := Pos{X: from.X + dx, Y: from.Y + dir}
		if !to.InBounds() {
			continue
		}
		dest := b.At(to)
		if dest != 0 && PieceOwner(dest) != player {
			moves = append(moves, Move{From: from, To: to})
		}
	}
	return moves
}

func (b *Board) jumpMoves(from Pos, player Player, offsets [][2]int) []Move {
	var moves []Move
	for _, off := range offsets {
		to := Pos{X: from.X + off[0], Y: from.Y + off[1]}
		if !to.InBounds() {
			continue
		}
		dest := b.At(to)
		if dest != 0 && PieceOwner(dest) == player {
			continue
		}
		moves = append(moves, Move{From: from, To: to})
	}
	return moves
}

func (b *Board) slidingMoves(from Pos, player Player, dirs [][2]int) []Move {
	var moves []Move
	for _, d := range dirs {
		for dist := 1; dist < Size; dist++ {
			to := Pos{X: from.X + d[0]*dist, Y: from.Y + d[1]*dist}
			if !to.InBounds() {
				break
			}
			dest := b.At(to)
			if dest != 0 && PieceOwner(dest) == player {
				break // own piece
			}
			moves = append(moves, Move{From: from, To: to})
			if dest != 0 {
				break // capture ends the ray
			}
		}
	}
	return moves
}

func (b *Board) kingMoves(from Pos, player Player) []Move {
	var moves []Move
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			to := Pos{X: from.X + dx, Y: from.Y + dy}
			if !to.InBounds() {
				continue
			}
			dest := b.At(to)
			if dest != 0 && PieceOwner(dest) == player {
				continue
			}
			moves = append(moves, Move{From: from, To: to})
		}
	}
	return moves
}

// IsLegal reports whether m is among player's legal moves.
func (b *Board) IsLegal(player Player, m Move) bool {
	for _, lm := range b.LegalMoves(player) {
		if lm == m {
			return true
		}
	}
	return false
}
