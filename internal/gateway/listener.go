package gateway

import (
	"context"
	"log"
	"strings"
	"time"

	"fragment-arena/internal/bus"
)

// Listener drains runner traffic off the bus and hands it to the session
// manager. Every gateway instance subscribes to all agents; requests for
// agents connected elsewhere are dropped by the manager.
type Listener struct {
	manager *Manager
	bus     bus.Bus
}

func NewListener(manager *Manager, b bus.Bus) *Listener {
	return &Listener{manager: manager, bus: b}
}

// Run blocks until the context is cancelled, resubscribing on failures.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil {
			log.Printf("[Gateway] Bus listener error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	sub, err := l.bus.PSubscribe(ctx, bus.MoveRequestPattern, bus.NotificationPattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	log.Printf("[Gateway] Listening for move requests and notifications")
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			agentID := channelAgent(msg.Channel)
			if agentID == "" {
				continue
			}
			switch msg.Pattern {
			case bus.MoveRequestPattern:
				l.manager.DispatchMoveRequest(ctx, agentID, msg.Payload)
			case bus.NotificationPattern:
				l.manager.ForwardNotification(ctx, agentID, msg.Payload)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// channelAgent extracts the agent ID from "requests:{id}" style channels.
func channelAgent(channel string) string {
	_, agentID, ok := strings.Cut(channel, ":")
	if !ok {
		return ""
	}
	return agentID
}
