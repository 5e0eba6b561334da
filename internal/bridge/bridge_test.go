package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/game"
	"fragment-arena/internal/models"
)

func newTestBridge(b bus.Bus) *Bridge {
	br := New(b, 200*time.Millisecond, 500*time.Millisecond)
	br.Cache().Init("game-1", game.Sample0())
	return br
}

// fakeSession answers the next move request on the agent's channel with the
// given reply frames.
func fakeSession(t *testing.T, b bus.Bus, agentID string, replies ...func(req map[string]any) ([]byte, string)) {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), bus.MoveRequestChannel(agentID))
	require.NoError(t, err)

	go func() {
		defer sub.Close()
		msg, ok := <-sub.Messages()
		if !ok {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		for _, fn := range replies {
			payload, channel := fn(req)
			_ = b.Publish(context.Background(), channel, payload)
		}
	}()
}

func moveReplyFrame(t *testing.T, elapsed float64) func(req map[string]any) ([]byte, string) {
	return func(req map[string]any) ([]byte, string) {
		frame := map[string]any{
			"type": "move",
			"move": map[string]any{
				"piecePosition": map[string]int{"x": 0, "y": 3},
				"movePosition":  map[string]int{"x": 0, "y": 2},
				"pieceType":     "pawn",
			},
			"elapsed": elapsed,
		}
		payload, err := json.Marshal(frame)
		require.NoError(t, err)
		return payload, req["responseChannel"].(string)
	}
}

func TestRequestMoveHappyPath(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	br := newTestBridge(b)

	fakeSession(t, b, "agent-1", moveReplyFrame(t, 0.1))

	move, elapsed, explicitTimeout, err := br.RequestMove(context.Background(), "agent-1", "game-1", game.White, 1)
	require.NoError(t, err)
	require.NotNil(t, move)
	assert.Equal(t, game.Pos{X: 0, Y: 3}, move.PiecePosition)
	assert.Equal(t, game.Pos{X: 0, Y: 2}, move.MovePosition)
	assert.False(t, explicitTimeout)
	// Agent-reported 100ms is plausible and wins over the round trip.
	assert.Equal(t, 100*time.Millisecond, elapsed)
}

func TestRequestMoveSuspiciouslyFastUsesServerTime(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	br := newTestBridge(b)

	fakeSession(t, b, "agent-1", moveReplyFrame(t, 0.0000001))

	move, elapsed, _, err := br.RequestMove(context.Background(), "agent-1", "game-1", game.White, 1)
	require.NoError(t, err)
	require.NotNil(t, move)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	assert.Less(t, elapsed, 500*time.Millisecond, "server-measured round trip, not the bogus claim")
}

func TestRequestMoveExplicitTimeout(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	br := newTestBridge(b)

	fakeSession(t, b, "agent-1", func(req map[string]any) ([]byte, string) {
		payload, _ := json.Marshal(map[string]any{"type": "timeout"})
		return payload, req["responseChannel"].(string)
	})

	move, _, explicitTimeout, err := br.RequestMove(context.Background(), "agent-1", "game-1", game.Black, 1)
	require.NoError(t, err)
	assert.Nil(t, move)
	assert.True(t, explicitTimeout)
}

func TestRequestMoveDisconnectBeforeReply(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	br := newTestBridge(b)

	fakeSession(t, b, "agent-1", func(req map[string]any) ([]byte, string) {
		payload, _ := json.Marshal(map[string]any{"gameId": "game-1", "reason": "socket closed"})
		return payload, bus.DisconnectChannel("agent-1")
	})

	move, _, _, err := br.RequestMove(context.Background(), "agent-1", "game-1", game.White, 2)
	assert.Nil(t, move)
	var discErr *AgentDisconnectedError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "agent-1", discErr.AgentID)
	assert.Equal(t, "socket closed", discErr.Reason)
}

func TestRequestMoveFirstReplyWins(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	br := newTestBridge(b)

	// Move followed immediately by a disconnect: the move was already
	// accepted, so the disconnect must not fail the request.
	fakeSession(t, b, "agent-1",
		moveReplyFrame(t, 0.05),
		func(req map[string]any) ([]byte, string) {
			payload, _ := json.Marshal(map[string]any{"reason": "late drop"})
			return payload, bus.DisconnectChannel("agent-1")
		},
	)

	move, _, _, err := br.RequestMove(context.Background(), "agent-1", "game-1", game.White, 1)
	require.NoError(t, err)
	assert.NotNil(t, move)
}

func TestRequestMoveWaitExpiryConsultsPresence(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	br := New(b, 20*time.Millisecond, 50*time.Millisecond)
	br.Cache().Init("game-1", game.Sample0())

	// Present but silent: plain timeout.
	require.NoError(t, b.HSet(ctx, bus.PresenceKey("agent-1"), map[string]string{"status": models.ConnInGame}))
	move, _, explicitTimeout, err := br.RequestMove(ctx, "agent-1", "game-1", game.White, 1)
	require.NoError(t, err)
	assert.Nil(t, move)
	assert.True(t, explicitTimeout)

	// No presence at all: the silence was a disconnect.
	require.NoError(t, b.Del(ctx, bus.PresenceKey("agent-1")))
	_, _, _, err = br.RequestMove(ctx, "agent-1", "game-1", game.White, 1)
	var discErr *AgentDisconnectedError
	require.ErrorAs(t, err, &discErr)
}

func TestCacheSnapshotIsolation(t *testing.T) {
	c := NewGameCache()
	c.Init("g", game.Sample0())
	c.Append("g", game.MoveJSON{From: game.Pos{X: 0, Y: 3}, To: game.Pos{X: 0, Y: 2}, Piece: "pawn"})

	_, moves, ok := c.Snapshot("g")
	require.True(t, ok)
	require.Len(t, moves, 1)

	// Mutating the snapshot must not leak back.
	moves[0].Piece = "queen"
	_, moves2, _ := c.Snapshot("g")
	assert.Equal(t, "pawn", moves2[0].Piece)

	c.Clear("g")
	_, _, ok = c.Snapshot("g")
	assert.False(t, ok)
}
