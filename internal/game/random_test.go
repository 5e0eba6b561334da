package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomBoardInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 20; i++ {
		b := GenerateRandomBoard(rng)
		if b.Squares == Sample0().Squares {
			// Attempt budget exhausted; the fallback is a sample board and
			// carries its own guarantees.
			continue
		}

		var white, black []Pos
		whiteKings, blackKings := 0, 0
		for y := 0; y < Size; y++ {
			for x := 0; x < Size; x++ {
				piece := b.Squares[y][x]
				if piece == 0 {
					continue
				}
				p := Pos{X: x, Y: y}
				if PieceOwner(piece) == White {
					white = append(white, p)
					if PieceType(piece) == King {
						whiteKings++
					}
				} else {
					black = append(black, p)
					if PieceType(piece) == King {
						blackKings++
					}
				}
			}
		}

		require.Equal(t, 1, whiteKings, "iteration %d", i)
		require.Equal(t, 1, blackKings, "iteration %d", i)
		assert.GreaterOrEqual(t, len(white), 3)
		assert.LessOrEqual(t, len(white), 8)
		assert.Equal(t, len(white), len(black))

		// 180-degree symmetry: every white piece has a black twin of the
		// same type on the rotated square.
		for _, wp := range white {
			mirror := Pos{X: Size - 1 - wp.X, Y: Size - 1 - wp.Y}
			wPiece := b.At(wp)
			bPiece := b.At(mirror)
			require.NotEqual(t, rune(0), bPiece, "iteration %d missing mirror of %v", i, wp)
			assert.Equal(t, PieceType(wPiece), PieceType(bPiece))
			assert.Equal(t, Black, PieceOwner(bPiece))
		}

		assert.False(t, b.InCheck(White))
		assert.False(t, b.InCheck(Black))
		assert.GreaterOrEqual(t, len(b.LegalMoves(White)), minLegalMoves)
		assert.GreaterOrEqual(t, len(b.LegalMoves(Black)), minLegalMoves)
		assert.False(t, b.HasMateInOne(White))
		assert.False(t, b.HasMateInOne(Black))
		assert.Equal(t, 0, Evaluate(b), "symmetric boards start balanced")
	}
}

func TestRandomCandidateConfinesPiecesToBackRanks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := randomCandidate(rng)

	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			piece := b.Squares[y][x]
			if piece == 0 {
				continue
			}
			if PieceOwner(piece) == White {
				assert.Contains(t, []int{3, 4}, y)
			} else {
				assert.Contains(t, []int{0, 1}, y)
			}
		}
	}
	// Middle rank stays empty.
	for x := 0; x < Size; x++ {
		assert.Equal(t, rune(0), b.Squares[2][x])
	}
}
