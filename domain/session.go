// Package domain defines the core domain models for the coordinator.
package domain

import "time"

// SessionState represents the lifecycle state of an agent session.
type SessionState string

const (
	SessionConnecting    SessionState = "CONNECTING"
	SessionAuthenticated SessionState = "AUTHENTICATED"
	SessionActive        SessionState = "ACTIVE"
	SessionLost          SessionState = "LOST"
)

// SessionInfo is a read-only view of an agent session exposed to the outer
// system.
type SessionInfo struct {
	SessionID     string       `json:"session_id"`
	NodeID        string       `json:"node_id"`
	Capabilities  []string     `json:"capabilities,omitempty"`
	State         SessionState `json:"state"`
	ConnectedAt   time.Time    `json:"connected_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
}
