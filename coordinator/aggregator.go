package coordinator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

// Aggregator merges status reports into the latest known state per
// (node, subject). Last write wins by receive time; out-of-order reports
// are discarded. Durable history is someone else's job.
type Aggregator struct {
	mu    sync.RWMutex
	nodes map[string]map[string]domain.WorkloadState
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{nodes: make(map[string]map[string]domain.WorkloadState)}
}

// Report stores the state for (nodeID, subjectID) if receivedAt is newer
// than what is stored. Returns whether the report was applied.
func (a *Aggregator) Report(nodeID, subjectID string, metrics json.RawMessage, receivedAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	subjects := a.nodes[nodeID]
	if subjects == nil {
		subjects = make(map[string]domain.WorkloadState)
		a.nodes[nodeID] = subjects
	}
	if current, ok := subjects[subjectID]; ok && !receivedAt.After(current.ReceivedAt) {
		return false
	}
	subjects[subjectID] = domain.WorkloadState{
		SubjectID:  subjectID,
		Metrics:    metrics,
		ReceivedAt: receivedAt,
	}
	return true
}

// NodeSnapshot returns a copy of the latest state for every subject of a
// node.
func (a *Aggregator) NodeSnapshot(nodeID string) (map[string]domain.WorkloadState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	subjects, ok := a.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	snapshot := make(map[string]domain.WorkloadState, len(subjects))
	for id, state := range subjects {
		snapshot[id] = state
	}
	return snapshot, nil
}

// SubjectSnapshot returns the latest state for one (node, subject) pair.
func (a *Aggregator) SubjectSnapshot(nodeID, subjectID string) (domain.WorkloadState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if subjects, ok := a.nodes[nodeID]; ok {
		if state, ok := subjects[subjectID]; ok {
			return state, nil
		}
	}
	return domain.WorkloadState{}, fmt.Errorf("subject %s on node %s: %w", subjectID, nodeID, domain.ErrNotFound)
}

// Forget drops all state for a node. Used when a node identity is deleted
// from the directory.
func (a *Aggregator) Forget(nodeID string) {
	a.mu.Lock()
	delete(a.nodes, nodeID)
	a.mu.Unlock()
}
