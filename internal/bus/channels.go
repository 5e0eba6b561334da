package bus

// Channel and key naming. Channels are namespaced by agent and request so
// that gateways can pattern-subscribe to everything addressed to them.

const (
	// ExecutorActiveSet tracks worker IDs with a live executor record.
	ExecutorActiveSet = "executors:active"

	// TournamentBracketsKey holds the JSON bracket snapshot taken at
	// tournament initialization.
	TournamentBracketsKey = "tournament:brackets"

	// PendingMatchQueue is the list workers pop match IDs from.
	PendingMatchQueue = "matches:pending"

	// MoveRequestPattern and NotificationPattern are what a gateway
	// pattern-subscribes to on behalf of its connected agents.
	MoveRequestPattern   = "requests:*"
	NotificationPattern  = "notifications:*"
)

// MoveRequestChannel carries move requests from runners to the gateway
// hosting the agent's session.
func MoveRequestChannel(agentID string) string { return "requests:" + agentID }

// ReplyChannel is the per-request reply channel; it lives for one move.
func ReplyChannel(requestID string) string { return "reply:" + requestID }

// DisconnectChannel tells waiting runners the agent's session dropped.
func DisconnectChannel(agentID string) string { return "disconnect:" + agentID }

// NotificationChannel carries game_start/game_end events to the agent.
func NotificationChannel(agentID string) string { return "notifications:" + agentID }

// PresenceKey is the hash mirroring the agent's connection state for fast
// reads by runners.
func PresenceKey(agentID string) string { return "presence:" + agentID }

// ExecutorKey is the hash holding one worker's executor record.
func ExecutorKey(workerID string) string { return "executors:" + workerID }
