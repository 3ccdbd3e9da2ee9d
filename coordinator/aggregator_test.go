package coordinator

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

func TestReportLastWriteWins(t *testing.T) {
	a := NewAggregator()
	base := time.Now()

	if !a.Report("node-1", "srv-1", json.RawMessage(`{"cpu":0.1}`), base) {
		t.Fatalf("expected first report applied")
	}
	if !a.Report("node-1", "srv-1", json.RawMessage(`{"cpu":0.9}`), base.Add(time.Second)) {
		t.Fatalf("expected newer report applied")
	}

	state, err := a.SubjectSnapshot("node-1", "srv-1")
	if err != nil {
		t.Fatalf("SubjectSnapshot: %v", err)
	}
	if string(state.Metrics) != `{"cpu":0.9}` {
		t.Fatalf("unexpected metrics: %s", state.Metrics)
	}
}

func TestReportDiscardsStale(t *testing.T) {
	a := NewAggregator()
	base := time.Now()

	a.Report("node-1", "srv-1", json.RawMessage(`{"cpu":0.9}`), base)

	// Strictly older and exactly equal timestamps are both discarded.
	if a.Report("node-1", "srv-1", json.RawMessage(`{"cpu":0.1}`), base.Add(-time.Second)) {
		t.Fatalf("expected stale report discarded")
	}
	if a.Report("node-1", "srv-1", json.RawMessage(`{"cpu":0.2}`), base) {
		t.Fatalf("expected equal-time report discarded")
	}

	state, _ := a.SubjectSnapshot("node-1", "srv-1")
	if string(state.Metrics) != `{"cpu":0.9}` {
		t.Fatalf("stale report overwrote state: %s", state.Metrics)
	}
}

func TestNodeSnapshotIsACopy(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	a.Report("node-1", "srv-1", json.RawMessage(`{"state":"running"}`), now)
	a.Report("node-1", "srv-2", json.RawMessage(`{"state":"stopped"}`), now)

	snapshot, err := a.NodeSnapshot("node-1")
	if err != nil {
		t.Fatalf("NodeSnapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 subjects, got %d", len(snapshot))
	}

	delete(snapshot, "srv-1")
	if _, err := a.SubjectSnapshot("node-1", "srv-1"); err != nil {
		t.Fatalf("mutating the snapshot changed aggregator state")
	}
}

func TestSnapshotUnknownNode(t *testing.T) {
	a := NewAggregator()

	if _, err := a.NodeSnapshot("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.SubjectSnapshot("nope", "srv-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestForgetDropsNodeState(t *testing.T) {
	a := NewAggregator()
	a.Report("node-1", "srv-1", json.RawMessage(`{}`), time.Now())

	a.Forget("node-1")
	if _, err := a.NodeSnapshot("node-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected state forgotten, got %v", err)
	}
}
