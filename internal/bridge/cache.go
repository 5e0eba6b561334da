package bridge

import (
	"sync"

	"fragment-arena/internal/game"
)

// GameCache holds, per in-flight game with a live agent, the initial board
// plus the ordered move list. Agents rebuild the current position from this
// pair instead of trusting a server-rendered board. The cache is per-worker:
// a match is handled end-to-end by one worker, so no sharing is needed.
type GameCache struct {
	mu    sync.Mutex
	games map[string]*gameState
}

type gameState struct {
	initial game.BoardJSON
	moves   []game.MoveJSON
}

func NewGameCache() *GameCache {
	return &GameCache{games: make(map[string]*gameState)}
}

// Init records the starting position. Called once before ply 1.
func (c *GameCache) Init(gameID string, board *game.Board) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games[gameID] = &gameState{initial: board.ToJSON()}
}

// Append adds one applied move. Called after the board mutation so the next
// request reflects the position the mover saw.
func (c *GameCache) Append(gameID string, m game.MoveJSON) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.games[gameID]
	if !ok {
		return
	}
	gs.moves = append(gs.moves, m)
}

// Snapshot returns a copy of the initial board and move list.
func (c *GameCache) Snapshot(gameID string) (game.BoardJSON, []game.MoveJSON, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.games[gameID]
	if !ok {
		return game.BoardJSON{}, nil, false
	}
	moves := make([]game.MoveJSON, len(gs.moves))
	copy(moves, gs.moves)
	return gs.initial, moves, true
}

// Clear drops the game at match end.
func (c *GameCache) Clear(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.games, gameID)
}
