package gateway

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"fragment-arena/internal/models"
)

// TCPServer accepts raw TCP sessions carrying newline-delimited JSON, the
// same frames as the WebSocket transport. Some agent harnesses cannot speak
// WebSocket; this is their door in.
type TCPServer struct {
	manager *Manager
	addr    string

	mu       sync.Mutex
	listener net.Listener
}

func NewTCPServer(manager *Manager, addr string) *TCPServer {
	return &TCPServer{manager: manager, addr: addr}
}

type tcpTransport struct {
	conn net.Conn

	writeMu sync.Mutex
}

func (t *tcpTransport) Send(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := t.conn.Write(payload); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte{'\n'})
	return err
}

func (t *tcpTransport) Close() error       { return t.conn.Close() }
func (t *tcpTransport) Kind() string       { return models.TransportP2P }
func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// ListenAndServe blocks until the context is cancelled.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("[Gateway] TCP server listening on %s", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Printf("[Gateway] TCP accept error: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	m := s.manager
	if m.AtCapacity() {
		conn.Write([]byte(`{"type":"error","error":"server at capacity"}` + "\n"))
		return
	}

	t := &tcpTransport{conn: conn}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize+1)

	// Connect handshake first.
	conn.SetReadDeadline(time.Now().Add(m.AuthTimeout()))
	if !scanner.Scan() {
		return
	}
	raw := append([]byte(nil), scanner.Bytes()...)
	sess, err := m.Authenticate(ctx, t, raw)
	if err != nil {
		log.Printf("[Gateway] TCP auth failed from %s: %v", t.RemoteAddr(), err)
		return
	}
	defer m.Disconnect(ctx, sess, "connection closed")

	for {
		conn.SetReadDeadline(time.Now().Add(m.HeartbeatTimeout()))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Printf("[Gateway] TCP read error for agent %s: %v", sess.AgentID, err)
			}
			return
		}
		m.HandleFrame(ctx, sess, scanner.Bytes())
	}
}
