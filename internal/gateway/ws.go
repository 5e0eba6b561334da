package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fragment-arena/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // agents connect from anywhere
	},
}

// WSServer terminates agent WebSocket connections.
type WSServer struct {
	manager *Manager
}

func NewWSServer(manager *Manager) *WSServer {
	return &WSServer{manager: manager}
}

type wsTransport struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

func (t *wsTransport) Send(payload []byte) error {
	select {
	case t.send <- payload:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (t *wsTransport) Close() error       { return t.conn.Close() }
func (t *wsTransport) Kind() string       { return models.TransportWS }
func (t *wsTransport) RemoteAddr() string { return t.addr }

// HandleAgentSocket upgrades the connection and runs the session to
// completion.
func (s *WSServer) HandleAgentSocket(w http.ResponseWriter, r *http.Request) {
	if s.manager.AtCapacity() {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] WebSocket upgrade failed: %v", err)
		return
	}

	t := &wsTransport{
		conn: conn,
		send: make(chan []byte, 256),
		addr: clientAddr(r),
	}

	go t.writePump()
	s.readPump(t)
}

// clientAddr prefers proxy headers; agents usually sit behind the edge
// load balancer.
func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (s *WSServer) readPump(t *wsTransport) {
	defer t.conn.Close()

	m := s.manager
	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(m.HeartbeatTimeout()))
		return nil
	})

	ctx := context.Background()

	// First frame must be the connect handshake.
	t.conn.SetReadDeadline(time.Now().Add(m.AuthTimeout()))
	_, raw, err := t.conn.ReadMessage()
	if err != nil {
		return
	}
	sess, err := m.Authenticate(ctx, t, raw)
	if err != nil {
		log.Printf("[Gateway] WebSocket auth failed from %s: %v", t.addr, err)
		return
	}
	defer m.Disconnect(ctx, sess, "connection closed")

	for {
		t.conn.SetReadDeadline(time.Now().Add(m.HeartbeatTimeout()))
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] WebSocket error for agent %s: %v", sess.AgentID, err)
			}
			return
		}
		m.HandleFrame(ctx, sess, raw)
	}
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case message, ok := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				t.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
