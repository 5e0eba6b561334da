package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragment-arena/internal/bus"
	"fragment-arena/internal/config"
	"fragment-arena/internal/models"
)

type fakeStore struct {
	mu sync.Mutex

	agent *models.Agent

	connects   int
	heartbeats int
	statuses   []string
	disconnects int

	activeMatches map[string]bool
}

func (s *fakeStore) AuthenticateLocalAgent(ctx context.Context, agentID, tokenHash string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent != nil && s.agent.ID == agentID && s.agent.ConnectionTokenHash == tokenHash {
		return s.agent, nil
	}
	return nil, nil
}

func (s *fakeStore) RecordConnect(ctx context.Context, agentID, transport, remoteAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return nil
}

func (s *fakeStore) RecordStatus(ctx context.Context, agentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) RecordHeartbeat(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *fakeStore) RecordDisconnect(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeStore) MatchActive(ctx context.Context, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMatches[matchID], nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
	kind string
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) Close() error       { return nil }
func (t *fakeTransport) Kind() string       { return t.kind }
func (t *fakeTransport) RemoteAddr() string { return "10.0.0.1:5000" }

func (t *fakeTransport) frames(tb testing.TB) []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []map[string]any
	for _, raw := range t.sent {
		var frame map[string]any
		require.NoError(tb, json.Unmarshal(raw, &frame))
		out = append(out, frame)
	}
	return out
}

const testToken = "secret-token"

func tokenHash(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

func newTestManager(t *testing.T) (*Manager, *fakeStore, *bus.MemoryBus) {
	store := &fakeStore{
		agent: &models.Agent{
			ID:                  "agent-1",
			Name:                "Crusher",
			ExecutionMode:       models.ExecutionModeLocal,
			Active:              true,
			ConnectionTokenHash: tokenHash(testToken),
		},
		activeMatches: make(map[string]bool),
	}
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })

	cfg := &config.Config{}
	cfg.Arena.AgentTimeoutSeconds = 1
	cfg.Arena.MaxConnectionsTotal = 10

	return NewManager(store, memBus, cfg), store, memBus
}

func connectFrameJSON(agentID, token string) []byte {
	raw, _ := json.Marshal(map[string]string{
		"type":            "connect",
		"agentId":         agentID,
		"connectionToken": token,
	})
	return raw
}

func TestAuthenticateSuccess(t *testing.T) {
	m, store, memBus := newTestManager(t)
	transport := &fakeTransport{kind: models.TransportWS}

	sess, err := m.Authenticate(context.Background(), transport, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", sess.AgentID)
	assert.Equal(t, "Crusher", sess.AgentName)
	assert.Equal(t, 1, store.connects)

	frames := transport.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "connected", frames[0]["type"])

	presence, err := memBus.HGetAll(context.Background(), bus.PresenceKey("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ConnConnected, presence["status"])
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	m, _, _ := newTestManager(t)
	transport := &fakeTransport{kind: models.TransportWS}

	_, err := m.Authenticate(context.Background(), transport, connectFrameJSON("agent-1", "wrong"))
	require.Error(t, err)

	frames := transport.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
}

func TestAuthenticateRejectsOversizedFields(t *testing.T) {
	m, _, _ := newTestManager(t)
	transport := &fakeTransport{kind: models.TransportWS}

	longID := make([]byte, maxAgentIDLen+1)
	for i := range longID {
		longID[i] = 'a'
	}
	_, err := m.Authenticate(context.Background(), transport, connectFrameJSON(string(longID), testToken))
	assert.Error(t, err)
}

func TestSecondConnectionSupersedesFirst(t *testing.T) {
	m, store, memBus := newTestManager(t)
	ctx := context.Background()

	first := &fakeTransport{kind: models.TransportWS}
	old, err := m.Authenticate(ctx, first, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	// An in-flight request on the old session must fail on supersede
	// instead of running out the move timer.
	sub, err := memBus.Subscribe(ctx, "reply:req-old")
	require.NoError(t, err)
	defer sub.Close()

	request, _ := json.Marshal(map[string]any{
		"type": "move_request", "requestId": "req-old",
		"gameId": "game-old", "responseChannel": "reply:req-old",
	})
	m.DispatchMoveRequest(ctx, "agent-1", request)

	second := &fakeTransport{kind: models.TransportP2P}
	_, err = m.Authenticate(ctx, second, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	frames := first.frames(t)
	require.Len(t, frames, 3)
	assert.Equal(t, "disconnect", frames[2]["type"])
	assert.Equal(t, "new connection established", frames[2]["reason"])

	m.Disconnect(ctx, old, "connection closed")

	select {
	case msg := <-sub.Messages():
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &out))
		assert.Equal(t, "disconnected", out["type"])
		assert.Equal(t, "req-old", out["requestId"])
		assert.Equal(t, "game-old", out["gameId"])
	case <-time.After(time.Second):
		t.Fatal("pending waiter never released on supersede")
	}

	// The superseded session's teardown must not clobber the new one.
	assert.Equal(t, 0, store.disconnects)

	presence, err := memBus.HGetAll(ctx, bus.PresenceKey("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ConnConnected, presence["status"])
}

func TestMoveRequestRoundTrip(t *testing.T) {
	m, _, memBus := newTestManager(t)
	ctx := context.Background()
	transport := &fakeTransport{kind: models.TransportWS}

	sess, err := m.Authenticate(ctx, transport, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	sub, err := memBus.Subscribe(ctx, "reply:req-1")
	require.NoError(t, err)
	defer sub.Close()

	request, _ := json.Marshal(map[string]any{
		"type":            "move_request",
		"requestId":       "req-1",
		"gameId":          "game-1",
		"responseChannel": "reply:req-1",
		"player":          "white",
	})
	m.DispatchMoveRequest(ctx, "agent-1", request)

	frames := transport.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "move_request", frames[1]["type"])

	reply, _ := json.Marshal(map[string]any{
		"type":    "move",
		"gameId":  "game-1",
		"move":    map[string]any{"piecePosition": map[string]int{"x": 0, "y": 3}, "movePosition": map[string]int{"x": 0, "y": 2}},
		"elapsed": 0.42,
	})
	m.HandleFrame(ctx, sess, reply)

	select {
	case msg := <-sub.Messages():
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &out))
		assert.Equal(t, "move", out["type"])
		assert.Equal(t, "req-1", out["requestId"])
		assert.InDelta(t, 0.42, out["elapsed"], 1e-9)
		require.NotNil(t, out["move"])
	case <-time.After(time.Second):
		t.Fatal("no reply published")
	}
}

func TestMoveRequestForUnknownAgentIgnored(t *testing.T) {
	m, _, memBus := newTestManager(t)
	ctx := context.Background()

	sub, err := memBus.Subscribe(ctx, "reply:req-9")
	require.NoError(t, err)
	defer sub.Close()

	request, _ := json.Marshal(map[string]any{
		"type": "move_request", "requestId": "req-9",
		"gameId": "game-9", "responseChannel": "reply:req-9",
	})
	m.DispatchMoveRequest(ctx, "nobody", request)

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected reply: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnansweredRequestTimesOut(t *testing.T) {
	m, _, memBus := newTestManager(t)
	m.moveTimeout = 50 * time.Millisecond
	ctx := context.Background()
	transport := &fakeTransport{kind: models.TransportWS}

	_, err := m.Authenticate(ctx, transport, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	sub, err := memBus.Subscribe(ctx, "reply:req-2")
	require.NoError(t, err)
	defer sub.Close()

	request, _ := json.Marshal(map[string]any{
		"type": "move_request", "requestId": "req-2",
		"gameId": "game-2", "responseChannel": "reply:req-2",
	})
	m.DispatchMoveRequest(ctx, "agent-1", request)

	select {
	case msg := <-sub.Messages():
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &out))
		assert.Equal(t, "timeout", out["type"])
		assert.Equal(t, "req-2", out["requestId"])
	case <-time.After(time.Second):
		t.Fatal("no timeout published")
	}
}

func TestDisconnectPropagation(t *testing.T) {
	m, store, memBus := newTestManager(t)
	ctx := context.Background()
	transport := &fakeTransport{kind: models.TransportWS}

	sess, err := m.Authenticate(ctx, transport, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	store.activeMatches["game-live"] = true

	replySub, err := memBus.Subscribe(ctx, "reply:req-3")
	require.NoError(t, err)
	defer replySub.Close()
	discSub, err := memBus.Subscribe(ctx, bus.DisconnectChannel("agent-1"))
	require.NoError(t, err)
	defer discSub.Close()

	request, _ := json.Marshal(map[string]any{
		"type": "move_request", "requestId": "req-3",
		"gameId": "game-live", "responseChannel": "reply:req-3",
	})
	m.DispatchMoveRequest(ctx, "agent-1", request)

	m.Disconnect(ctx, sess, "agent disconnected")

	select {
	case msg := <-replySub.Messages():
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &out))
		assert.Equal(t, "disconnected", out["type"])
		assert.Equal(t, "game-live", out["gameId"])
	case <-time.After(time.Second):
		t.Fatal("pending waiter never released")
	}

	select {
	case msg := <-discSub.Messages():
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &out))
		assert.Equal(t, "disconnect", out["type"])
		assert.Equal(t, "game-live", out["gameId"])
	case <-time.After(time.Second):
		t.Fatal("no game disconnect published")
	}

	assert.Equal(t, 1, store.disconnects)
	_, err = memBus.HGetAll(ctx, bus.PresenceKey("agent-1"))
	assert.ErrorIs(t, err, bus.ErrNotFound)
}

func TestHeartbeatPersistenceThrottled(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	transport := &fakeTransport{kind: models.TransportWS}

	sess, err := m.Authenticate(ctx, transport, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	hb, _ := json.Marshal(map[string]string{"type": "heartbeat"})
	m.HandleFrame(ctx, sess, hb)
	m.HandleFrame(ctx, sess, hb)
	m.HandleFrame(ctx, sess, hb)

	// Only the first write lands; the rest fall inside the 10s window.
	assert.Equal(t, 1, store.heartbeats)
}

func TestDrainingStatusPreservedAfterMove(t *testing.T) {
	m, _, memBus := newTestManager(t)
	ctx := context.Background()
	transport := &fakeTransport{kind: models.TransportWS}

	sess, err := m.Authenticate(ctx, transport, connectFrameJSON("agent-1", testToken))
	require.NoError(t, err)

	status, _ := json.Marshal(map[string]string{"type": "status", "status": models.ConnDraining})
	m.HandleFrame(ctx, sess, status)

	request, _ := json.Marshal(map[string]any{
		"type": "move_request", "requestId": "req-4",
		"gameId": "game-4", "responseChannel": "reply:req-4",
	})
	m.DispatchMoveRequest(ctx, "agent-1", request)

	reply, _ := json.Marshal(map[string]any{"type": "timeout", "gameId": "game-4"})
	m.HandleFrame(ctx, sess, reply)

	presence, err := memBus.HGetAll(ctx, bus.PresenceKey("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ConnDraining, presence["status"])
}
