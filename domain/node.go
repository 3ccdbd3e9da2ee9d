package domain

import "time"

// Node is the persisted identity of a host running one agent. The
// coordinator consults it during registration; it does not own the record.
type Node struct {
	NodeID       string     `json:"node_id"`
	Secret       string     `json:"-"`
	Capabilities []string   `json:"capabilities,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}
