// Package coordinator implements the agent coordination core: session
// registry, auth gate, heartbeat eviction, command dispatch with result
// correlation, and status aggregation.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
)

// AgentConn is the transport side of one agent session. Enqueue must not
// block: a full outbound buffer is an error, not a stall.
type AgentConn interface {
	Enqueue(env protocol.Envelope) error
	Close() error
}

// Session is one authenticated agent connection. Owned by the registry once
// installed; the dispatcher and heartbeat monitor reference it by node id.
type Session struct {
	ID           string
	NodeID       string
	Capabilities []string
	ConnectedAt  time.Time

	conn AgentConn

	mu            sync.Mutex
	state         domain.SessionState
	lastHeartbeat time.Time
}

// NewSession wraps an authenticated connection. The session starts in
// Authenticated state; the registry promotes it to Active on install.
func NewSession(nodeID string, capabilities []string, conn AgentConn) *Session {
	return &Session{
		ID:           uuid.New().String(),
		NodeID:       nodeID,
		Capabilities: capabilities,
		ConnectedAt:  time.Now(),
		conn:         conn,
		state:        domain.SessionAuthenticated,
	}
}

// State returns the current session state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch records a heartbeat at the current time.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Enqueue queues an envelope for delivery, preserving per-session FIFO
// order. Fails with domain.ErrNodeUnavailable once the session is no longer
// active.
func (s *Session) Enqueue(env protocol.Envelope) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != domain.SessionActive {
		return fmt.Errorf("session %s is %s: %w", s.NodeID, state, domain.ErrNodeUnavailable)
	}
	if err := s.conn.Enqueue(env); err != nil {
		return fmt.Errorf("enqueue to %s: %w", s.NodeID, domain.ErrNodeUnavailable)
	}
	return nil
}

// Info returns a read-only view of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{
		SessionID:     s.ID,
		NodeID:        s.NodeID,
		Capabilities:  s.Capabilities,
		State:         s.state,
		ConnectedAt:   s.ConnectedAt,
		LastHeartbeat: s.lastHeartbeat,
	}
}

// activate marks the session Active and stamps an initial heartbeat.
func (s *Session) activate() {
	s.mu.Lock()
	s.state = domain.SessionActive
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// terminate moves the session to its terminal state and closes the
// transport. Safe to call more than once.
func (s *Session) terminate(state domain.SessionState) {
	s.mu.Lock()
	already := s.state == domain.SessionLost
	s.state = state
	s.mu.Unlock()
	if !already {
		_ = s.conn.Close()
	}
}
