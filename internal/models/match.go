package models

import "time"

// Match statuses. Transitions are forward-only:
// pending -> in_progress -> completed | error | cancelled.
const (
	MatchPending    = "pending"
	MatchInProgress = "in_progress"
	MatchCompleted  = "completed"
	MatchError      = "error"
	MatchCancelled  = "cancelled"
)

// Match types.
const (
	TypeMatchmaking = "matchmaking"
	TypeTournament  = "tournament"
	TypeExhibition  = "exhibition"
)

// Winner values.
const (
	WinnerWhite = "white"
	WinnerBlack = "black"
	WinnerDraw  = "draw"
)

// Termination reasons recorded on terminal matches.
const (
	TermCheckmate    = "checkmate"
	TermStalemate    = "stalemate"
	TermDraw         = "draw"
	TermInsufficient = "insufficient_material"
	TermTimeout      = "timeout"
	TermWhiteInvalid = "white_invalid"
	TermBlackInvalid = "black_invalid"
	TermWhiteError   = "white_error"
	TermBlackError   = "black_error"
	TermCancelled    = "cancelled"
	TermStuckTimeout = "stuck_timeout"
	TermSystemError  = "system_error"
	TermMaxMoves     = "max_moves"
	TermGameOver     = "game_over"
)

// MinRecordedMoves is the shortest game worth keeping. Matches that end with
// fewer plies are deleted together with their game states.
const MinRecordedMoves = 4

type Match struct {
	ID            string     `json:"id" bson:"_id"`
	WhiteAgentID  string     `json:"whiteAgentId" bson:"whiteAgentId"`
	BlackAgentID  string     `json:"blackAgentId" bson:"blackAgentId"`
	MatchType     string     `json:"matchType" bson:"matchType"`
	Status        string     `json:"status" bson:"status"`
	Winner        string     `json:"winner,omitempty" bson:"winner,omitempty"`
	Termination   string     `json:"termination,omitempty" bson:"termination,omitempty"`
	Moves         int        `json:"moves" bson:"moves"`
	RatingApplied bool       `json:"ratingApplied,omitempty" bson:"ratingApplied,omitempty"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// GameState is one ply of one match. MoveNumber 0 is the starting position.
// Unique on (matchId, moveNumber).
type GameState struct {
	MatchID    string    `json:"matchId" bson:"matchId"`
	MoveNumber int       `json:"moveNumber" bson:"moveNumber"`
	BoardState string    `json:"boardState" bson:"boardState"`
	MoveTimeMs int       `json:"moveTimeMs,omitempty" bson:"moveTimeMs,omitempty"`
	Notation   string    `json:"notation,omitempty" bson:"notation,omitempty"`
	Evaluation int       `json:"evaluation" bson:"evaluation"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}
