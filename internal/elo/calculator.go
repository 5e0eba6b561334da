package elo

import (
	"math"
)

type GameResult int

const (
	Loss GameResult = 0
	Draw GameResult = 1
	Win  GameResult = 2
)

const (
	// K-factors based on number of games played
	KFactorNewbie      = 32 // provisional agents
	KFactorEstablished = 16
	ProvisionalGames   = 20
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateRatingChange returns the signed rating delta for a player.
// playerRating: current rating of the player
// opponentRating: current rating of the opponent
// result: GameResult (Win=2, Draw=1, Loss=0)
// gamesPlayed: ranked games the player has played (used for K-factor)
func (c *Calculator) CalculateRatingChange(playerRating, opponentRating int, result GameResult, gamesPlayed int) int {
	kFactor := c.getKFactor(gamesPlayed)
	expectedScore := c.calculateExpectedScore(playerRating, opponentRating)

	var actualScore float64
	switch result {
	case Win:
		actualScore = 1.0
	case Draw:
		actualScore = 0.5
	case Loss:
		actualScore = 0.0
	}

	// ΔR = K × (S - E)
	return int(math.Round(float64(kFactor) * (actualScore - expectedScore)))
}

// CalculateNewRating applies the change to the current rating.
func (c *Calculator) CalculateNewRating(playerRating, opponentRating int, result GameResult, gamesPlayed int) int {
	return playerRating + c.CalculateRatingChange(playerRating, opponentRating, result, gamesPlayed)
}

// calculateExpectedScore calculates the expected score using the Elo formula
// E = 1 / (1 + 10^((OpponentRating - PlayerRating) / 400))
func (c *Calculator) calculateExpectedScore(playerRating, opponentRating int) float64 {
	exponent := float64(opponentRating-playerRating) / 400.0
	return 1.0 / (1.0 + math.Pow(10, exponent))
}

// getKFactor gives provisional agents faster convergence.
func (c *Calculator) getKFactor(gamesPlayed int) int {
	if gamesPlayed < ProvisionalGames {
		return KFactorNewbie
	}
	return KFactorEstablished
}

// GetGameResultFromWinner converts a winner color to game results for both players
// Returns (whiteResult, blackResult)
func GetGameResultFromWinner(winner string) (GameResult, GameResult) {
	switch winner {
	case "white":
		return Win, Loss
	case "black":
		return Loss, Win
	default: // draw or empty
		return Draw, Draw
	}
}
