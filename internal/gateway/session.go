// Package gateway hosts live agent sessions. Agents connect over WebSocket
// or raw TCP, authenticate with their connection token, and answer move
// requests that match runners publish on the bus. The gateway is stateless
// beyond its in-memory session table: a runner never talks to a socket, only
// to channels.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/config"
	"fragment-arena/internal/models"
)

const (
	maxAgentIDLen  = 100
	maxTokenLen    = 1000
	maxMessageSize = 100 * 1024
)

// Transport is one authenticated agent socket, WebSocket or TCP.
type Transport interface {
	Send(payload []byte) error
	Close() error
	Kind() string
	RemoteAddr() string
}

// Session is one authenticated agent connection.
type Session struct {
	AgentID   string
	AgentName string
	transport Transport

	status          string
	draining        bool
	lastHeartbeat   time.Time
	lastDBHeartbeat time.Time

	// superseded sessions skip row and presence teardown: the replacing
	// session owns the connection row and the presence key now.
	superseded bool

	activeGames map[string]struct{}
	pending     map[string]*pendingRequest // keyed by game ID
}

type pendingRequest struct {
	requestID       string
	responseChannel string
	timer           *time.Timer
}

// Manager owns the session table and all message routing between agent
// sockets and the bus.
type Manager struct {
	store Store
	bus   bus.Bus

	authTimeout      time.Duration
	moveTimeout      time.Duration
	heartbeatTimeout time.Duration
	maxSessions      int

	mu       sync.Mutex
	sessions map[string]*Session

	stopCh chan struct{}
}

func NewManager(store Store, b bus.Bus, cfg *config.Config) *Manager {
	return &Manager{
		store:            store,
		bus:              b,
		authTimeout:      cfg.AuthTimeout(),
		moveTimeout:      cfg.MoveTimeout(),
		heartbeatTimeout: cfg.HeartbeatTimeout(),
		maxSessions:      cfg.Arena.MaxConnectionsTotal,
		sessions:         make(map[string]*Session),
		stopCh:           make(chan struct{}),
	}
}

// AuthTimeout is how long an unauthenticated socket may wait before its
// first frame.
func (m *Manager) AuthTimeout() time.Duration { return m.authTimeout }

// HeartbeatTimeout is the per-read idle ceiling for authenticated sockets.
func (m *Manager) HeartbeatTimeout() time.Duration { return m.heartbeatTimeout }

// AtCapacity reports whether the gateway refuses new sockets.
func (m *Manager) AtCapacity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions) >= m.maxSessions
}

type connectFrame struct {
	Type            string `json:"type"`
	AgentID         string `json:"agentId"`
	ConnectionToken string `json:"connectionToken"`
}

// Authenticate consumes the first frame of a new socket. On success the
// session is registered and the agent gets a connected ack; on failure an
// error frame is sent and the caller must close the socket.
func (m *Manager) Authenticate(ctx context.Context, t Transport, raw []byte) (*Session, error) {
	var frame connectFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		m.sendError(t, "invalid connect frame")
		return nil, fmt.Errorf("invalid connect frame: %w", err)
	}
	if frame.Type != "connect" {
		m.sendError(t, "must authenticate first")
		return nil, fmt.Errorf("expected connect frame, got %q", frame.Type)
	}
	if frame.AgentID == "" || frame.ConnectionToken == "" ||
		len(frame.AgentID) > maxAgentIDLen || len(frame.ConnectionToken) > maxTokenLen {
		m.sendError(t, "invalid agent credentials")
		return nil, fmt.Errorf("malformed credentials for agent %q", frame.AgentID)
	}

	digest := sha256.Sum256([]byte(frame.ConnectionToken))
	agent, err := m.store.AuthenticateLocalAgent(ctx, frame.AgentID, hex.EncodeToString(digest[:]))
	if err != nil {
		m.sendError(t, "authentication unavailable")
		return nil, fmt.Errorf("auth lookup for agent %s: %w", frame.AgentID, err)
	}
	if agent == nil {
		m.sendError(t, "invalid agent credentials")
		return nil, fmt.Errorf("invalid credentials for agent %s", frame.AgentID)
	}

	m.mu.Lock()
	if old, ok := m.sessions[agent.ID]; ok {
		// Second socket for the same agent wins; tell the old one and
		// mark it so its teardown leaves the new session's state alone.
		old.superseded = true
		m.send(old.transport, map[string]string{
			"type":   "disconnect",
			"reason": "new connection established",
		})
		old.transport.Close()
	}
	sess := &Session{
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		transport:     t,
		status:        models.ConnConnected,
		lastHeartbeat: time.Now(),
		activeGames:   make(map[string]struct{}),
		pending:       make(map[string]*pendingRequest),
	}
	m.sessions[agent.ID] = sess
	m.mu.Unlock()

	if err := m.store.RecordConnect(ctx, agent.ID, t.Kind(), t.RemoteAddr()); err != nil {
		log.Printf("[Gateway] Failed to record connection for agent %s: %v", agent.ID, err)
	}
	m.writePresence(ctx, agent.ID, models.ConnConnected)

	m.send(t, map[string]string{
		"type":      "connected",
		"agentId":   agent.ID,
		"agentName": agent.Name,
		"message":   "successfully connected to arena",
	})
	log.Printf("[Gateway] Agent %s (%s) connected via %s from %s", agent.Name, agent.ID, t.Kind(), t.RemoteAddr())
	return sess, nil
}

type agentFrame struct {
	Type    string          `json:"type"`
	GameID  string          `json:"gameId"`
	Move    json.RawMessage `json:"move,omitempty"`
	Elapsed *float64        `json:"elapsed,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  string          `json:"status,omitempty"`
}

// HandleFrame processes one message from an authenticated agent.
func (m *Manager) HandleFrame(ctx context.Context, sess *Session, raw []byte) {
	if len(raw) > maxMessageSize {
		log.Printf("[Gateway] Oversized message from agent %s (%d bytes), dropped", sess.AgentID, len(raw))
		return
	}

	var frame agentFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("[Gateway] Invalid JSON from agent %s: %v", sess.AgentID, err)
		return
	}

	switch frame.Type {
	case "heartbeat":
		m.handleHeartbeat(ctx, sess)
	case "move":
		m.resolvePending(ctx, sess, frame.GameID, func(req *pendingRequest) any {
			return map[string]any{
				"type":      "move",
				"requestId": req.requestID,
				"move":      frame.Move,
				"elapsed":   frame.Elapsed,
			}
		})
	case "timeout":
		m.resolvePending(ctx, sess, frame.GameID, func(req *pendingRequest) any {
			return map[string]any{"type": "timeout", "requestId": req.requestID}
		})
	case "error":
		m.resolvePending(ctx, sess, frame.GameID, func(req *pendingRequest) any {
			return map[string]any{"type": "error", "requestId": req.requestID, "error": frame.Error}
		})
	case "status":
		// Draining survives in_game round trips; only the agent undoes it.
		if frame.Status == models.ConnDraining || frame.Status == models.ConnConnected {
			m.mu.Lock()
			sess.draining = frame.Status == models.ConnDraining
			m.mu.Unlock()
			m.setStatus(ctx, sess, frame.Status)
		}
	default:
		log.Printf("[Gateway] Unknown message type %q from agent %s", frame.Type, sess.AgentID)
	}
}

func (m *Manager) handleHeartbeat(ctx context.Context, sess *Session) {
	now := time.Now()
	m.mu.Lock()
	sess.lastHeartbeat = now
	persist := now.Sub(sess.lastDBHeartbeat) >= 10*time.Second
	if persist {
		sess.lastDBHeartbeat = now
	}
	m.mu.Unlock()

	// The DB row feeds matchmaking eligibility; throttle writes so chatty
	// agents do not hammer the collection.
	if persist {
		if err := m.store.RecordHeartbeat(ctx, sess.AgentID); err != nil {
			log.Printf("[Gateway] Failed to persist heartbeat for agent %s: %v", sess.AgentID, err)
		}
		m.writePresence(ctx, sess.AgentID, sess.status)
	}
}

// resolvePending publishes the agent's answer on the per-request reply
// channel and restores the session status.
func (m *Manager) resolvePending(ctx context.Context, sess *Session, gameID string, build func(*pendingRequest) any) {
	m.mu.Lock()
	req, ok := sess.pending[gameID]
	if ok {
		delete(sess.pending, gameID)
		req.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		log.Printf("[Gateway] Reply from agent %s for game %s with no pending request", sess.AgentID, gameID)
		return
	}

	payload, err := json.Marshal(build(req))
	if err != nil {
		log.Printf("[Gateway] Failed to marshal reply for request %s: %v", req.requestID, err)
		return
	}
	if err := m.bus.Publish(ctx, req.responseChannel, payload); err != nil {
		log.Printf("[Gateway] Failed to publish reply for request %s: %v", req.requestID, err)
	}
	m.restoreStatus(ctx, sess)
}

// restoreStatus drops a session out of in_game, preserving draining.
func (m *Manager) restoreStatus(ctx context.Context, sess *Session) {
	m.mu.Lock()
	next := models.ConnConnected
	if sess.draining {
		next = models.ConnDraining
	}
	hasPending := len(sess.pending) > 0
	m.mu.Unlock()
	if !hasPending {
		m.setStatus(ctx, sess, next)
	}
}

func (m *Manager) setStatus(ctx context.Context, sess *Session, status string) {
	m.mu.Lock()
	sess.status = status
	m.mu.Unlock()
	if err := m.store.RecordStatus(ctx, sess.AgentID, status); err != nil {
		log.Printf("[Gateway] Failed to record status %s for agent %s: %v", status, sess.AgentID, err)
	}
	m.writePresence(ctx, sess.AgentID, status)
}

// DispatchMoveRequest forwards a runner's move request to the agent's
// socket. Requests for agents not connected to this gateway are ignored;
// another gateway or transport owns them.
func (m *Manager) DispatchMoveRequest(ctx context.Context, agentID string, payload []byte) {
	var req struct {
		RequestID       string `json:"requestId"`
		GameID          string `json:"gameId"`
		ResponseChannel string `json:"responseChannel"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.RequestID == "" || req.ResponseChannel == "" {
		log.Printf("[Gateway] Malformed move request for agent %s", agentID)
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	if !ok {
		m.mu.Unlock()
		log.Printf("[Gateway] Ignoring move request for agent %s (not connected here)", agentID)
		return
	}
	pend := &pendingRequest{requestID: req.RequestID, responseChannel: req.ResponseChannel}
	pend.timer = time.AfterFunc(m.moveTimeout, func() {
		m.expirePending(sess, req.GameID)
	})
	sess.pending[req.GameID] = pend
	sess.activeGames[req.GameID] = struct{}{}
	transport := sess.transport
	m.mu.Unlock()

	m.setStatus(ctx, sess, models.ConnInGame)

	if err := transport.Send(payload); err != nil {
		log.Printf("[Gateway] Failed to forward move request to agent %s: %v", agentID, err)
		m.expirePending(sess, req.GameID)
	}
}

// expirePending answers for an agent that never replied.
func (m *Manager) expirePending(sess *Session, gameID string) {
	m.mu.Lock()
	req, ok := sess.pending[gameID]
	if ok {
		delete(sess.pending, gameID)
		req.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Printf("[Gateway] Agent %s did not answer request %s in time", sess.AgentID, req.requestID)
	payload, _ := json.Marshal(map[string]string{"type": "timeout", "requestId": req.requestID})
	if err := m.bus.Publish(ctx, req.responseChannel, payload); err != nil {
		log.Printf("[Gateway] Failed to publish timeout for request %s: %v", req.requestID, err)
	}
	m.restoreStatus(ctx, sess)
}

// ForwardNotification relays a game lifecycle event to the agent's socket.
func (m *Manager) ForwardNotification(ctx context.Context, agentID string, payload []byte) {
	var note struct {
		Type   string `json:"type"`
		GameID string `json:"gameId"`
	}
	_ = json.Unmarshal(payload, &note)

	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	if ok && note.Type == "game_end" && note.GameID != "" {
		delete(sess.activeGames, note.GameID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := sess.transport.Send(payload); err != nil {
		log.Printf("[Gateway] Failed to forward notification to agent %s: %v", agentID, err)
	}
}

// Disconnect tears a session down: pending waiters get a disconnected
// reply, runners of still-live games get a disconnect signal, and the
// connection row and presence mirror are cleared. Superseded sessions
// still fail their in-flight requests but leave the row and presence to
// the replacing session.
func (m *Manager) Disconnect(ctx context.Context, sess *Session, reason string) {
	m.mu.Lock()
	if current, ok := m.sessions[sess.AgentID]; ok && current == sess {
		delete(m.sessions, sess.AgentID)
	}
	superseded := sess.superseded
	pending := sess.pending
	sess.pending = make(map[string]*pendingRequest)
	games := make([]string, 0, len(sess.activeGames))
	for gameID := range sess.activeGames {
		games = append(games, gameID)
	}
	sess.activeGames = make(map[string]struct{})
	m.mu.Unlock()

	for gameID, req := range pending {
		req.timer.Stop()
		payload, _ := json.Marshal(map[string]string{
			"type":      "disconnected",
			"requestId": req.requestID,
			"gameId":    gameID,
			"reason":    reason,
		})
		if err := m.bus.Publish(ctx, req.responseChannel, payload); err != nil {
			log.Printf("[Gateway] Failed to publish disconnect reply for request %s: %v", req.requestID, err)
		}
	}

	if !superseded {
		if err := m.store.RecordDisconnect(ctx, sess.AgentID); err != nil {
			log.Printf("[Gateway] Failed to record disconnect for agent %s: %v", sess.AgentID, err)
		}
		if err := m.bus.Del(ctx, bus.PresenceKey(sess.AgentID)); err != nil {
			log.Printf("[Gateway] Failed to clear presence for agent %s: %v", sess.AgentID, err)
		}
	}

	for _, gameID := range games {
		active, _ := m.store.MatchActive(ctx, gameID)
		if !active {
			continue
		}
		payload, _ := json.Marshal(map[string]string{
			"type":   "disconnect",
			"gameId": gameID,
			"reason": reason,
		})
		if err := m.bus.Publish(ctx, bus.DisconnectChannel(sess.AgentID), payload); err != nil {
			log.Printf("[Gateway] Failed to publish game disconnect for agent %s game %s: %v", sess.AgentID, gameID, err)
		}
	}

	log.Printf("[Gateway] Agent %s disconnected: %s", sess.AgentID, reason)
}

// StartMonitor sweeps for sessions whose heartbeats went stale.
func (m *Manager) StartMonitor() {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepStale()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) sweepStale() {
	now := time.Now()
	m.mu.Lock()
	var stale []*Session
	for _, sess := range m.sessions {
		if now.Sub(sess.lastHeartbeat) > m.heartbeatTimeout {
			stale = append(stale, sess)
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, sess := range stale {
		log.Printf("[Gateway] Agent %s heartbeat timed out", sess.AgentID)
		m.send(sess.transport, map[string]string{"type": "disconnect", "reason": "heartbeat timeout"})
		sess.transport.Close()
		m.Disconnect(ctx, sess, "heartbeat timeout")
	}
}

func (m *Manager) writePresence(ctx context.Context, agentID, status string) {
	err := m.bus.HSet(ctx, bus.PresenceKey(agentID), map[string]string{
		"status":    status,
		"last_seen": strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		log.Printf("[Gateway] Failed to write presence for agent %s: %v", agentID, err)
	}
}

func (m *Manager) send(t Transport, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := t.Send(payload); err != nil {
		log.Printf("[Gateway] Send failed: %v", err)
	}
}

func (m *Manager) sendError(t Transport, msg string) {
	m.send(t, map[string]string{"type": "error", "error": msg})
}
