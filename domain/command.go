package domain

import (
	"encoding/json"
	"time"
)

// CommandState represents the status of a dispatched command.
type CommandState string

const (
	CommandPending   CommandState = "PENDING"
	CommandCompleted CommandState = "COMPLETED"
	CommandFailed    CommandState = "FAILED"
	CommandTimedOut  CommandState = "TIMED_OUT"
	CommandCancelled CommandState = "CANCELLED"
)

// Terminal reports whether the state is a terminal outcome.
func (s CommandState) Terminal() bool {
	switch s {
	case CommandCompleted, CommandFailed, CommandTimedOut, CommandCancelled:
		return true
	}
	return false
}

// Well-known command types dispatched to agents. The set is open; the
// capability policy decides what a given node may receive.
const (
	CommandServerStart   = "server_start"
	CommandServerStop    = "server_stop"
	CommandServerRestart = "server_restart"
	CommandServerInstall = "server_install"
	CommandServerDelete  = "server_delete"
	CommandFetchLogs     = "fetch_logs"
)

// Command represents a single command issued to an agent. Created by the
// dispatcher on issuance and dropped from bookkeeping on resolution.
type Command struct {
	CorrelationID string          `json:"correlation_id"`
	NodeID        string          `json:"node_id"`
	Type          string          `json:"type"`
	Params        json.RawMessage `json:"params,omitempty"`
	State         CommandState    `json:"state"`
	IssuedAt      time.Time       `json:"issued_at"`
	TimeoutAt     time.Time       `json:"timeout_at"`
}

// CommandResult is the terminal outcome delivered on a command handle.
type CommandResult struct {
	CorrelationID string          `json:"correlation_id"`
	State         CommandState    `json:"state"`
	Data          json.RawMessage `json:"data,omitempty"`
	Err           error           `json:"-"`
}
