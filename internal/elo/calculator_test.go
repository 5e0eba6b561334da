package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqualRatingsWinGivesHalfK(t *testing.T) {
	c := NewCalculator()

	// E = 0.5 at equal ratings, so a win moves K/2.
	assert.Equal(t, 16, c.CalculateRatingChange(1500, 1500, Win, 0))
	assert.Equal(t, -16, c.CalculateRatingChange(1500, 1500, Loss, 0))
	assert.Equal(t, 0, c.CalculateRatingChange(1500, 1500, Draw, 0))
}

func TestKFactorDropsAfterProvisionalGames(t *testing.T) {
	c := NewCalculator()

	assert.Equal(t, 16, c.CalculateRatingChange(1500, 1500, Win, ProvisionalGames-1))
	assert.Equal(t, 8, c.CalculateRatingChange(1500, 1500, Win, ProvisionalGames))
}

func TestUnderdogGainsMore(t *testing.T) {
	c := NewCalculator()

	underdogGain := c.CalculateRatingChange(1400, 1600, Win, 50)
	favoriteGain := c.CalculateRatingChange(1600, 1400, Win, 50)
	assert.Greater(t, underdogGain, favoriteGain)

	// Expected score for the favorite is high, so the loss is costly.
	favoriteLoss := c.CalculateRatingChange(1600, 1400, Loss, 50)
	assert.Less(t, favoriteLoss, -8)
}

func TestChangesAreZeroSumAtEqualK(t *testing.T) {
	c := NewCalculator()

	white := c.CalculateRatingChange(1520, 1480, Win, 100)
	black := c.CalculateRatingChange(1480, 1520, Loss, 100)
	assert.Equal(t, 0, white+black)
}

func TestGetGameResultFromWinner(t *testing.T) {
	w, b := GetGameResultFromWinner("white")
	assert.Equal(t, Win, w)
	assert.Equal(t, Loss, b)

	w, b = GetGameResultFromWinner("black")
	assert.Equal(t, Loss, w)
	assert.Equal(t, Win, b)

	w, b = GetGameResultFromWinner("draw")
	assert.Equal(t, Draw, w)
	assert.Equal(t, Draw, b)
}

func TestRollAverage(t *testing.T) {
	assert.Equal(t, 120, rollAverage(0, 0, 120))
	assert.Equal(t, 110, rollAverage(100, 1, 120))
}
