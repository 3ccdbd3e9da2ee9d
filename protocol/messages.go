// Package protocol defines the wire protocol between the coordinator and
// remote agents.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

// Message types from agent to coordinator
const (
	TypeAgentRegister = "agent_register"
	TypeHeartbeat     = "heartbeat"
	TypeCommandResult = "command_result"
	TypeStatusReport  = "status_report"
)

// Message types from coordinator to agent
const (
	TypeRegisterAck    = "register_ack"
	TypeRegisterReject = "register_reject"
	TypeCommand        = "command"
)

// Envelope is the common frame for every message on the agent channel.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	NodeID        string          `json:"node_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// RegisterPayload is carried by agent_register.
type RegisterPayload struct {
	NodeID       string   `json:"node_id"`
	Secret       string   `json:"secret"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterAckPayload is carried by register_ack. It tells the agent the
// heartbeat cadence the coordinator expects.
type RegisterAckPayload struct {
	SessionID          string `json:"session_id"`
	HeartbeatIntervalS int    `json:"heartbeat_interval_s"`
}

// RegisterRejectPayload is carried by register_reject.
type RegisterRejectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// CommandPayload is carried by command; the correlation id lives on the
// envelope.
type CommandPayload struct {
	CommandType string          `json:"command_type"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// CommandResultPayload is carried by command_result.
type CommandResultPayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatusReportPayload is carried by status_report.
type StatusReportPayload struct {
	SubjectID string          `json:"subject_id"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
}

var knownTypes = map[string]bool{
	TypeAgentRegister:  true,
	TypeHeartbeat:      true,
	TypeCommandResult:  true,
	TypeStatusReport:   true,
	TypeRegisterAck:    true,
	TypeRegisterReject: true,
	TypeCommand:        true,
}

// Parse decodes a raw frame into an envelope, rejecting schema violations
// with domain.ErrMalformedMessage.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}
	if !knownTypes[env.Type] {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedMessage, env.Type)
	}
	if env.Type == TypeCommandResult && env.CorrelationID == "" {
		return Envelope{}, fmt.Errorf("%w: command_result without correlation_id", domain.ErrMalformedMessage)
	}
	return env, nil
}

// Decode unmarshals an envelope's data into the given payload struct.
func Decode(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without payload", domain.ErrMalformedMessage, env.Type)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", domain.ErrMalformedMessage, env.Type, err)
	}
	return nil
}

// NewEnvelope builds an envelope with the given payload, stamping the
// current time.
func NewEnvelope(msgType, nodeID string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = data
	}
	return env, nil
}

// NewCommand builds the command envelope for one dispatched command.
func NewCommand(nodeID, correlationID, commandType string, params json.RawMessage) Envelope {
	data, _ := json.Marshal(CommandPayload{CommandType: commandType, Params: params})
	return Envelope{
		Type:          TypeCommand,
		CorrelationID: correlationID,
		NodeID:        nodeID,
		Data:          data,
		Timestamp:     time.Now().UnixMilli(),
	}
}
