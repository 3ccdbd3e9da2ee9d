package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

func TestSweepEvictsStaleSession(t *testing.T) {
	d, r, _ := newTestDispatcher(time.Minute)
	m := NewHeartbeatMonitor(r, d, 50*time.Millisecond)
	sess, conn := newActiveSession(t, r, "node-2")

	handle, err := d.Issue(context.Background(), "node-2", domain.CommandServerStart, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Fresh heartbeat: nothing to evict.
	if evicted := m.Sweep(time.Now()); evicted != 0 {
		t.Fatalf("expected no evictions, got %d", evicted)
	}

	// Past the timeout: session goes, pending command fails NodeUnavailable.
	if evicted := m.Sweep(time.Now().Add(time.Second)); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := r.Get("node-2"); ok {
		t.Fatalf("expected node-2 removed from registry")
	}
	if nodes := r.ActiveNodes(); len(nodes) != 0 {
		t.Fatalf("expected no active nodes, got %v", nodes)
	}
	if sess.State() != domain.SessionLost {
		t.Fatalf("expected LOST, got %s", sess.State())
	}
	if !conn.Closed() {
		t.Fatalf("expected transport closed on eviction")
	}

	res, err := handle.Wait(context.Background())
	if res.State != domain.CommandFailed {
		t.Fatalf("expected FAILED, got %s", res.State)
	}
	if !errors.Is(err, domain.ErrNodeUnavailable) {
		t.Fatalf("expected ErrNodeUnavailable, got %v", err)
	}
}

func TestSweepKeepsHeartbeatingSession(t *testing.T) {
	d, r, _ := newTestDispatcher(time.Minute)
	m := NewHeartbeatMonitor(r, d, 50*time.Millisecond)
	sess, _ := newActiveSession(t, r, "node-1")

	sess.Touch()
	if evicted := m.Sweep(time.Now()); evicted != 0 {
		t.Fatalf("expected no evictions, got %d", evicted)
	}
	if _, ok := r.Get("node-1"); !ok {
		t.Fatalf("expected node-1 still registered")
	}
}

func TestSweepEmitsAgentLost(t *testing.T) {
	bus := NewEventBus()
	r := NewRegistry(0, bus)
	d := NewDispatcher(r, NewAggregator(), nil, time.Minute)
	m := NewHeartbeatMonitor(r, d, 10*time.Millisecond)

	newActiveSession(t, r, "node-1")

	events, cancel := bus.Subscribe(8)
	defer cancel()

	m.Sweep(time.Now().Add(time.Second))

	select {
	case ev := <-events:
		if ev.Type != EventAgentLost || ev.NodeID != "node-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected AgentLost event")
	}
}
