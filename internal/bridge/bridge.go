// Package bridge is the runner-side half of the live-agent move protocol:
// publish a request on the agent's channel, wait on a per-request reply
// channel, and translate timeouts and session drops into decisions the
// match loop can act on.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/game"
	"fragment-arena/internal/models"
)

// AgentDisconnectedError aborts the match: a dropped session means the game
// cannot continue and is cancelled rather than forfeited.
type AgentDisconnectedError struct {
	AgentID string
	GameID  string
	Reason  string
}

func (e *AgentDisconnectedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "agent disconnected"
	}
	return fmt.Sprintf("local agent %s disconnected during game %s: %s", e.AgentID, e.GameID, reason)
}

// MoveData is the move an agent returned, in board coordinates.
type MoveData struct {
	PiecePosition game.Pos `json:"piecePosition"`
	MovePosition  game.Pos `json:"movePosition"`
	PieceType     string   `json:"pieceType,omitempty"`
}

// moveRequest is the frame published on the agent's request channel.
type moveRequest struct {
	Type            string         `json:"type"`
	RequestID       string         `json:"requestId"`
	AgentID         string         `json:"agentId"`
	GameID          string         `json:"gameId"`
	ResponseChannel string         `json:"responseChannel"`
	InitialBoard    game.BoardJSON `json:"initial_board"`
	Moves           []game.MoveJSON `json:"moves"`
	Player          string         `json:"player"`
	Var             []float64      `json:"var"`
}

// moveReply is any frame arriving on the reply or disconnect channel.
type moveReply struct {
	Type    string    `json:"type"`
	Move    *MoveData `json:"move,omitempty"`
	Elapsed *float64  `json:"elapsed,omitempty"`
	Error   string    `json:"error,omitempty"`
	GameID  string    `json:"gameId,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// notification is a game lifecycle event pushed to the agent.
type notification struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
	White  string `json:"white,omitempty"`
	Black  string `json:"black,omitempty"`
	Result string `json:"result,omitempty"`
	Winner string `json:"winner,omitempty"`
}

// Bridge routes move requests to live agent sessions over the bus.
type Bridge struct {
	bus          bus.Bus
	agentTimeout time.Duration
	moveTimeout  time.Duration
	cache        *GameCache
}

// New builds a bridge. moveTimeout is the server-side wait (agent budget
// plus dispatch slack); the agent enforces agentTimeout locally.
func New(b bus.Bus, agentTimeout, moveTimeout time.Duration) *Bridge {
	return &Bridge{
		bus:          b,
		agentTimeout: agentTimeout,
		moveTimeout:  moveTimeout,
		cache:        NewGameCache(),
	}
}

// Cache exposes the per-game reconstruction cache the runner feeds.
func (br *Bridge) Cache() *GameCache { return br.cache }

// RequestMove asks a live agent for its move. Returns the move (nil when
// the agent timed out or errored), the elapsed thinking time, and whether
// the timeout was explicit. A dropped session surfaces as
// *AgentDisconnectedError.
func (br *Bridge) RequestMove(ctx context.Context, agentID, gameID string, player game.Player, ply int) (*MoveData, time.Duration, bool, error) {
	requestID := uuid.NewString()
	replyChannel := bus.ReplyChannel(requestID)
	disconnectChannel := bus.DisconnectChannel(agentID)

	sub, err := br.bus.Subscribe(ctx, replyChannel, disconnectChannel)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to subscribe for reply: %w", err)
	}
	defer sub.Close()

	initial, moves, ok := br.cache.Snapshot(gameID)
	if !ok {
		return nil, 0, false, fmt.Errorf("no reconstruction state for game %s", gameID)
	}

	req := moveRequest{
		Type:            "move_request",
		RequestID:       requestID,
		AgentID:         agentID,
		GameID:          gameID,
		ResponseChannel: replyChannel,
		InitialBoard:    initial,
		Moves:           moves,
		Player:          string(player),
		Var:             []float64{float64(ply), br.agentTimeout.Seconds()},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to marshal move request: %w", err)
	}
	if err := br.bus.Publish(ctx, bus.MoveRequestChannel(agentID), payload); err != nil {
		return nil, 0, false, fmt.Errorf("failed to publish move request: %w", err)
	}

	start := time.Now()
	deadline := time.NewTimer(br.moveTimeout)
	defer deadline.Stop()

	for {
		select {
		case msg, open := <-sub.Messages():
			if !open {
				return nil, time.Since(start), false, &AgentDisconnectedError{AgentID: agentID, GameID: gameID, Reason: "subscription closed"}
			}

			var reply moveReply
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				log.Printf("[Bridge] Invalid reply from agent %s: %v", agentID, err)
				continue
			}
			elapsed := time.Since(start)

			if msg.Channel == disconnectChannel {
				// A disconnect racing in after an accepted move would be
				// ignored, but we return on the move, so any disconnect
				// seen here precedes one.
				return nil, elapsed, false, &AgentDisconnectedError{AgentID: agentID, GameID: reply.GameID, Reason: reply.Reason}
			}

			switch reply.Type {
			case "move":
				return reply.Move, br.adjudicateElapsed(agentID, reply.Elapsed, elapsed), false, nil
			case "timeout":
				log.Printf("[Bridge] Agent %s explicitly timed out on game %s", agentID, gameID)
				return nil, elapsed, true, nil
			case "error":
				log.Printf("[Bridge] Agent %s error on game %s: %s", agentID, gameID, reply.Error)
				return nil, elapsed, false, nil
			case "disconnected":
				return nil, elapsed, false, &AgentDisconnectedError{AgentID: agentID, GameID: reply.GameID, Reason: reply.Reason}
			}

		case <-deadline.C:
			// No reply in time. If presence says the session is gone this
			// is a disconnect, not a slow agent.
			if !br.agentPresent(ctx, agentID) {
				return nil, br.moveTimeout, false, &AgentDisconnectedError{
					AgentID: agentID,
					GameID:  gameID,
					Reason:  "agent disconnected during move wait",
				}
			}
			return nil, br.moveTimeout, true, nil

		case <-ctx.Done():
			return nil, time.Since(start), false, ctx.Err()
		}
	}
}

// adjudicateElapsed reconciles agent-reported thinking time with the
// server-measured round trip. The agent's number is authoritative (network
// latency should not penalize it) unless it is impossibly small; a claim
// above the round trip is logged but kept.
func (br *Bridge) adjudicateElapsed(agentID string, agentSeconds *float64, server time.Duration) time.Duration {
	if agentSeconds == nil {
		return server
	}
	reported := time.Duration(*agentSeconds * float64(time.Second))
	if reported < time.Millisecond {
		log.Printf("[Bridge] Suspicious elapsed from agent %s (%v < 1ms), using server-measured %v", agentID, reported, server)
		return server
	}
	if reported > server+time.Second {
		log.Printf("[Bridge] Elapsed anomaly from agent %s: reported %v vs server %v (keeping agent's)", agentID, reported, server)
	}
	return reported
}

func (br *Bridge) agentPresent(ctx context.Context, agentID string) bool {
	info, err := br.bus.HGetAll(ctx, bus.PresenceKey(agentID))
	if errors.Is(err, bus.ErrNotFound) {
		return false
	}
	if err != nil {
		// Can't tell; treat as a legitimate timeout rather than failing
		// the match on a bus hiccup.
		return true
	}
	status := info["status"]
	return status == models.ConnConnected || status == models.ConnInGame
}

// NotifyGameStart tells a live agent its game is beginning.
func (br *Bridge) NotifyGameStart(ctx context.Context, agentID, gameID, whiteName, blackName string) {
	br.notify(ctx, agentID, notification{
		Type:   "game_start",
		GameID: gameID,
		White:  whiteName,
		Black:  blackName,
	})
}

// NotifyGameEnd tells a live agent its game finished.
func (br *Bridge) NotifyGameEnd(ctx context.Context, agentID, gameID, result, winner string) {
	br.notify(ctx, agentID, notification{
		Type:   "game_end",
		GameID: gameID,
		Result: result,
		Winner: winner,
	})
}

// notify is fire-and-forget: a missed notification never affects the match.
func (br *Bridge) notify(ctx context.Context, agentID string, n notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := br.bus.Publish(ctx, bus.NotificationChannel(agentID), payload); err != nil {
		log.Printf("[Bridge] Failed to notify agent %s: %v", agentID, err)
	}
}
