package models

import "time"

// Transports a local agent can connect over.
const (
	TransportWS  = "ws"
	TransportP2P = "p2p"
)

// Connection statuses. At most one row per agent is in a non-disconnected
// status at any time; a new connect forces the old row to disconnected.
const (
	ConnConnected    = "connected"
	ConnInGame       = "in_game"
	ConnDraining     = "draining"
	ConnDisconnected = "disconnected"
)

type LocalAgentConnection struct {
	ID             string     `json:"id" bson:"_id"`
	AgentID        string     `json:"agentId" bson:"agentId"`
	Transport      string     `json:"transport" bson:"transport"`
	Status         string     `json:"status" bson:"status"`
	ConnectedAt    time.Time  `json:"connectedAt" bson:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty" bson:"disconnectedAt,omitempty"`
	LastHeartbeat  time.Time  `json:"lastHeartbeat" bson:"lastHeartbeat"`
	RemoteAddr     string     `json:"remoteAddr" bson:"remoteAddr"`
}
