package coordinator

import (
	"context"
	"log"
	"time"
)

// HeartbeatMonitor evicts sessions whose agents stopped heartbeating.
// Reconnection is the agent's problem; a returning agent re-enters through
// the gate and takes over.
type HeartbeatMonitor struct {
	registry   *Registry
	dispatcher *Dispatcher
	timeout    time.Duration
}

// NewHeartbeatMonitor creates a monitor with the given eviction threshold.
func NewHeartbeatMonitor(registry *Registry, dispatcher *Dispatcher, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry:   registry,
		dispatcher: dispatcher,
		timeout:    timeout,
	}
}

// Run sweeps at the given interval until the context ends. The interval
// should be a sub-multiple of the timeout so eviction lands within one
// sweep of the deadline.
func (m *HeartbeatMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep evicts every session whose last heartbeat is older than the
// timeout. Pending commands for evicted sessions resolve with
// NodeUnavailable. Returns the number of sessions evicted.
func (m *HeartbeatMonitor) Sweep(now time.Time) int {
	evicted := 0
	for _, sess := range m.registry.Sessions() {
		if now.Sub(sess.LastHeartbeat()) <= m.timeout {
			continue
		}
		if !m.registry.Remove(sess.NodeID, sess) {
			continue
		}
		failed := m.dispatcher.FailSession(sess.ID)
		log.Printf("Evicted node %s: heartbeat timeout (%d pending command(s) failed)", sess.NodeID, failed)
		evicted++
	}
	return evicted
}
