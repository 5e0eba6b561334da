package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBoardsArePlayable(t *testing.T) {
	for i, b := range SampleBoards() {
		assert.False(t, b.InCheck(White), "sample %d white in check", i)
		assert.False(t, b.InCheck(Black), "sample %d black in check", i)
		assert.GreaterOrEqual(t, len(b.LegalMoves(White)), minLegalMoves, "sample %d", i)
		assert.GreaterOrEqual(t, len(b.LegalMoves(Black)), minLegalMoves, "sample %d", i)
		assert.Equal(t, 0, Evaluate(b), "sample %d starts balanced", i)
	}
}

func TestPawnMovesAndPromotion(t *testing.T) {
	b := boardFromRows([Size]string{
		"....k",
		"P....",
		".....",
		".....",
		"....K",
	})

	moves := b.LegalMoves(White)
	assert.Contains(t, moves, Move{From: Pos{X: 0, Y: 1}, To: Pos{X: 0, Y: 0}})

	b.Apply(Move{From: Pos{X: 0, Y: 1}, To: Pos{X: 0, Y: 0}})
	assert.Equal(t, 'Q', b.At(Pos{X: 0, Y: 0}), "pawn promotes to queen on the last rank")
}

func TestPawnBlockedAndNoGhostCaptures(t *testing.T) {
	b := boardFromRows([Size]string{
		".....",
		".p...",
		".P...",
		".....",
		"K...k",
	})

	// Push blocked by the black pawn, diagonals empty: no pawn moves at all.
	moves := b.pawnMoves(Pos{X: 1, Y: 2}, White)
	assert.Empty(t, moves)
}

func TestRightCombinesKnightAndRook(t *testing.T) {
	b := boardFromRows([Size]string{
		"....k",
		".....",
		"..R..",
		".....",
		"K....",
	})

	moves := b.LegalMoves(White)
	var rightMoves []Move
	for _, m := range moves {
		if m.From == (Pos{X: 2, Y: 2}) {
			rightMoves = append(rightMoves, m)
		}
	}

	// Rook rays.
	assert.Contains(t, rightMoves, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 2, Y: 0}})
	assert.Contains(t, rightMoves, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 0, Y: 2}})
	// Knight jumps.
	assert.Contains(t, rightMoves, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 4, Y: 3}})
	assert.Contains(t, rightMoves, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 0, Y: 1}})
	// No diagonals.
	assert.NotContains(t, rightMoves, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 3, Y: 3}})
	assert.Len(t, rightMoves, 16)
}

func TestCheckmateDetection(t *testing.T) {
	b := boardFromRows([Size]string{
		"k....",
		".Q...",
		"..K..",
		".....",
		".....",
	})

	require.True(t, b.InCheck(Black))
	out := b.Result(Black)
	assert.True(t, out.Over)
	assert.Equal(t, White, out.Winner)
	assert.Equal(t, "checkmate", out.Termination)
}

func TestStalemateDetection(t *testing.T) {
	b := boardFromRows([Size]string{
		"k....",
		"..Q..",
		".....",
		".....",
		"....K",
	})

	require.False(t, b.InCheck(Black))
	out := b.Result(Black)
	assert.True(t, out.Over)
	assert.Empty(t, out.Winner)
	assert.Equal(t, "stalemate", out.Termination)
}

func TestInsufficientMaterial(t *testing.T) {
	b := boardFromRows([Size]string{
		"k....",
		".....",
		".....",
		".....",
		"....K",
	})

	out := b.Result(White)
	assert.True(t, out.Over)
	assert.Equal(t, "insufficient_material", out.Termination)
}

func TestPinnedPieceCannotExposeKing(t *testing.T) {
	// The bishop shields the white king from the black queen along the long
	// diagonal; every legal white move must keep the king safe.
	b := boardFromRows([Size]string{
		"q...k",
		".....",
		"..B..",
		".....",
		"....K",
	})

	for _, m := range b.LegalMoves(White) {
		next := b.Clone()
		next.Apply(m)
		assert.False(t, next.InCheck(White), "move %v leaves king in check", m)
	}

	// Off-diagonal bishop moves are gone; sliding along the pin stays legal.
	assert.False(t, b.IsLegal(White, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 3, Y: 1}}))
	assert.True(t, b.IsLegal(White, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 1, Y: 1}}))
	assert.True(t, b.IsLegal(White, Move{From: Pos{X: 2, Y: 2}, To: Pos{X: 0, Y: 0}}), "capturing the pinning queen")
}

func TestSerializeRoundTrip(t *testing.T) {
	b := Sample1()
	parsed, err := Unmarshal(b.Marshal())
	require.NoError(t, err)
	assert.Equal(t, b.Squares, parsed.Squares)

	bj := b.ToJSON()
	assert.Equal(t, Size, bj.Width)
	assert.Equal(t, Size, bj.Height)
	assert.Len(t, bj.Pieces, 20)
}

func TestEvaluateMaterial(t *testing.T) {
	b := boardFromRows([Size]string{
		"k....",
		".q...",
		".....",
		".NP..",
		"....K",
	})
	// White: knight 3 + pawn 1. Black: queen 9. Kings count zero.
	assert.Equal(t, -5, Evaluate(b))
}

func TestNotation(t *testing.T) {
	assert.Equal(t, "queen(2,3)", Notation('Q', Pos{X: 2, Y: 3}))
	assert.Equal(t, "pawn(0,4)", Notation('p', Pos{X: 0, Y: 4}))
}
