package game

import (
	"encoding/json"
	"fmt"
)

// PieceJSON is one piece in the wire board format.
type PieceJSON struct {
	Type   string `json:"type"`
	Player string `json:"player"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// BoardJSON is the wire board format shared with agent clients: the piece
// list plus dimensions. The initial position plus the ordered move list is
// enough for a client to reconstruct any position.
type BoardJSON struct {
	Pieces []PieceJSON `json:"pieces"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

// MoveJSON is one entry of the reconstruction move list.
type MoveJSON struct {
	From  Pos    `json:"from"`
	To    Pos    `json:"to"`
	Piece string `json:"piece"`
}

// ToJSON serializes the board into the wire format.
func (b *Board) ToJSON() BoardJSON {
	out := BoardJSON{Width: Size, Height: Size}
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			piece := b.Squares[y][x]
			if piece == 0 {
				continue
			}
			out.Pieces = append(out.Pieces, PieceJSON{
				Type:   pieceName(PieceType(piece)),
				Player: string(PieceOwner(piece)),
				X:      x,
				Y:      y,
			})
		}
	}
	return out
}

// Marshal renders the board as a JSON string for persistence.
func (b *Board) Marshal() string {
	data, _ := json.Marshal(b.ToJSON())
	return string(data)
}

// FromJSON rebuilds a board from the wire format.
func FromJSON(bj BoardJSON) (*Board, error) {
	b := &Board{}
	for _, pc := range bj.Pieces {
		t, err := pieceLetter(pc.Type)
		if err != nil {
			return nil, err
		}
		p := Pos{X: pc.X, Y: pc.Y}
		if !p.InBounds() {
			return nil, fmt.Errorf("piece out of bounds at (%d,%d)", pc.X, pc.Y)
		}
		var player Player
		switch pc.Player {
		case "white":
			player = White
		case "black":
			player = Black
		default:
			return nil, fmt.Errorf("unknown player %q", pc.Player)
		}
		b.Set(p, pieceFor(t, player))
	}
	return b, nil
}

// Unmarshal parses a persisted JSON board string.
func Unmarshal(data string) (*Board, error) {
	var bj BoardJSON
	if err := json.Unmarshal([]byte(data), &bj); err != nil {
		return nil, fmt.Errorf("failed to parse board state: %w", err)
	}
	return FromJSON(bj)
}
