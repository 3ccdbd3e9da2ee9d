package domain

import (
	"encoding/json"
	"time"
)

// StatusReport is an unsolicited report from an agent about one workload.
// Transient: merged into latest state, never retained as history here.
type StatusReport struct {
	NodeID     string          `json:"node_id"`
	SubjectID  string          `json:"subject_id"`
	Metrics    json.RawMessage `json:"metrics,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// WorkloadState is the latest known state for one (node, subject) pair.
type WorkloadState struct {
	SubjectID  string          `json:"subject_id"`
	Metrics    json.RawMessage `json:"metrics,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}
