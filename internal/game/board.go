// Package game implements the 5x5 fragment variant: standard chess movement
// on a small board with a reduced piece set plus the Right, a knight+rook
// hybrid. Pawns move one square and promote to queens on the last rank.
package game

import "fmt"

// Board size is fixed for the fragment variant.
const Size = 5

// Piece types. Uppercase = white, lowercase = black in the square grid.
const (
	Pawn   = 'P'
	Knight = 'N'
	Bishop = 'B'
	Right  = 'R'
	Queen  = 'Q'
	King   = 'K'
)

// Player identifies a side.
type Player string

const (
	White Player = "white"
	Black Player = "black"
)

func (p Player) Opponent() Player {
	if p == White {
		return Black
	}
	return White
}

// Board represents a 5x5 position. Squares[y][x]; y=0 is black's back rank,
// y=4 white's. White pawns advance toward y=0.
type Board struct {
	Squares [Size][Size]rune
}

// Pos is a square coordinate.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) InBounds() bool {
	return p.X >= 0 && p.X < Size && p.Y >= 0 && p.Y < Size
}

// Move is from-square to-square. Promotion is implicit: a pawn reaching the
// last rank always becomes a queen.
type Move struct {
	From Pos
	To   Pos
}

// At returns the piece rune at p, or 0 for empty.
func (b *Board) At(p Pos) rune {
	return b.Squares[p.Y][p.X]
}

func (b *Board) Set(p Pos, piece rune) {
	b.Squares[p.Y][p.X] = piece
}

// Clone returns a copy of the board.
func (b *Board) Clone() *Board {
	nb := *b
	return &nb
}

// PieceOwner reports which side owns the piece rune.
func PieceOwner(piece rune) Player {
	if piece >= 'A' && piece <= 'Z' {
		return White
	}
	return Black
}

// PieceType normalizes a piece rune to its uppercase type letter.
func PieceType(piece rune) rune {
	if piece >= 'a' && piece <= 'z' {
		return piece - 'a' + 'A'
	}
	return piece
}

func pieceFor(t rune, player Player) rune {
	if player == White {
		return t
	}
	return t - 'A' + 'a'
}

// Apply executes a move, returning the captured piece rune (0 if none).
// Pawns reaching the last rank are promoted to queens. The move is assumed
// legal; use LegalMoves to enumerate candidates.
func (b *Board) Apply(m Move) rune {
	piece := b.At(m.From)
	captured := b.At(m.To)
	b.Set(m.From, 0)

	if PieceType(piece) == Pawn {
		owner := PieceOwner(piece)
		if (owner == White && m.To.Y == 0) || (owner == Black && m.To.Y == Size-1) {
			piece = pieceFor(Queen, owner)
		}
	}
	b.Set(m.To, piece)
	return captured
}

// FindKing returns the king square for player, or ok=false if absent.
func (b *Board) FindKing(player Player) (Pos, bool) {
	want := pieceFor(King, player)
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			if b.Squares[y][x] == want {
				return Pos{X: x, Y: y}, true
			}
		}
	}
	return Pos{}, false
}

// pieceName maps a type letter to its serialized name.
func pieceName(t rune) string {
	switch t {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Right:
		return "right"
	case Queen:
		return "queen"
	case King:
		return "king"
	}
	return "unknown"
}

// pieceLetter is the inverse of pieceName.
func pieceLetter(name string) (rune, error) {
	switch name {
	case "pawn":
		return Pawn, nil
	case "knight":
		return Knight, nil
	case "bishop":
		return Bishop, nil
	case "right":
		return Right, nil
	case "queen":
		return Queen, nil
	case "king":
		return King, nil
	}
	return 0, fmt.Errorf("unknown piece type %q", name)
}

// PieceName is the serialized name of a piece, e.g. "queen".
func PieceName(piece rune) string {
	return pieceName(PieceType(piece))
}

// Notation renders the post-move notation for a ply, e.g. "queen(2,3)".
func Notation(piece rune, to Pos) string {
	return fmt.Sprintf("%s(%d,%d)", pieceName(PieceType(piece)), to.X, to.Y)
}
