package coordinator

import (
	"log"
	"sync"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

// Registry is the authoritative node id -> session map. Reads are
// concurrent; every mutation for a given node id happens under one lock,
// which is what keeps takeover free of split-brain windows.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	limit  int
	events *EventBus
}

// NewRegistry creates a registry. limit <= 0 means unbounded.
func NewRegistry(limit int, events *EventBus) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		limit:    limit,
		events:   events,
	}
}

// Install makes the session the active one for its node. An existing
// session for the same node is forcibly closed first (takeover) and
// returned so the caller can fail its pending commands. Takeover is not an
// error and emits no AgentLost: the node never left the fleet.
func (r *Registry) Install(s *Session) (*Session, error) {
	r.mu.Lock()
	displaced := r.sessions[s.NodeID]
	if displaced == nil && r.limit > 0 && len(r.sessions) >= r.limit {
		r.mu.Unlock()
		return nil, domain.ErrAgentLimit
	}
	if displaced != nil {
		displaced.terminate(domain.SessionLost)
		log.Printf("Session takeover for node %s: replaced %s with %s", s.NodeID, displaced.ID, s.ID)
	}
	s.activate()
	r.sessions[s.NodeID] = s
	r.mu.Unlock()

	if displaced == nil {
		r.events.Publish(Event{Type: EventAgentConnected, NodeID: s.NodeID})
	}
	return displaced, nil
}

// Get returns the current session for a node.
func (r *Registry) Get(nodeID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[nodeID]
	return s, ok
}

// Remove drops the session for a node, but only if the given session is
// still the current one. This keeps a stale connection's close handler from
// evicting the session that took over. Returns whether a removal happened.
func (r *Registry) Remove(nodeID string, s *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[nodeID]
	if !ok || (s != nil && current != s) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, nodeID)
	current.terminate(domain.SessionLost)
	r.mu.Unlock()

	r.events.Publish(Event{Type: EventAgentLost, NodeID: nodeID})
	return true
}

// ActiveNodes enumerates node ids with an active session.
func (r *Registry) ActiveNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]string, 0, len(r.sessions))
	for nodeID := range r.sessions {
		nodes = append(nodes, nodeID)
	}
	return nodes
}

// Sessions returns the current sessions for sweep iteration.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Snapshot returns read-only views of every session for the ops surface.
func (r *Registry) Snapshot() []domain.SessionInfo {
	sessions := r.Sessions()
	infos := make([]domain.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Len returns the number of installed sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
