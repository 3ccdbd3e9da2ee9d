package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
)

// CommandPolicy gates which command types may be dispatched to a node,
// based on the capabilities its agent reported at registration.
type CommandPolicy interface {
	Authorize(ctx context.Context, nodeID, commandType string, capabilities []string) error
}

// CommandHandle lets the caller await a command's terminal outcome without
// touching the transport.
type CommandHandle struct {
	CorrelationID string
	done          chan domain.CommandResult
}

// Done returns a channel that receives the terminal result exactly once.
func (h *CommandHandle) Done() <-chan domain.CommandResult {
	return h.done
}

// Wait blocks until the command resolves or the context ends.
func (h *CommandHandle) Wait(ctx context.Context) (domain.CommandResult, error) {
	select {
	case res := <-h.done:
		return res, res.Err
	case <-ctx.Done():
		return domain.CommandResult{CorrelationID: h.CorrelationID}, ctx.Err()
	}
}

type pendingCommand struct {
	cmd       *domain.Command
	sessionID string
	done      chan domain.CommandResult
}

// Dispatcher issues commands to agents, correlates asynchronous results
// back to callers, and routes unsolicited reports to the aggregator. The
// pending table is the single synchronization point for correlation.
type Dispatcher struct {
	registry   *Registry
	aggregator *Aggregator
	policy     CommandPolicy
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

// NewDispatcher creates a dispatcher. policy may be nil, which allows every
// command type.
func NewDispatcher(registry *Registry, aggregator *Aggregator, policy CommandPolicy, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		aggregator: aggregator,
		policy:     policy,
		timeout:    timeout,
		pending:    make(map[string]*pendingCommand),
	}
}

// Issue dispatches a command to the node's active session and returns a
// handle for the result. Fails synchronously with domain.ErrNodeUnavailable
// when the node has no active session, and with domain.ErrCommandDenied
// when the capability policy rejects the command type.
func (d *Dispatcher) Issue(ctx context.Context, nodeID, commandType string, params json.RawMessage) (*CommandHandle, error) {
	sess, ok := d.registry.Get(nodeID)
	if !ok || sess.State() != domain.SessionActive {
		return nil, fmt.Errorf("issue %s to %s: %w", commandType, nodeID, domain.ErrNodeUnavailable)
	}

	if d.policy != nil {
		if err := d.policy.Authorize(ctx, nodeID, commandType, sess.Capabilities); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	cmd := &domain.Command{
		CorrelationID: uuid.New().String(),
		NodeID:        nodeID,
		Type:          commandType,
		Params:        params,
		State:         domain.CommandPending,
		IssuedAt:      now,
		TimeoutAt:     now.Add(d.timeout),
	}
	entry := &pendingCommand{
		cmd:       cmd,
		sessionID: sess.ID,
		done:      make(chan domain.CommandResult, 1),
	}
	env := protocol.NewCommand(nodeID, cmd.CorrelationID, commandType, params)

	// Enqueue under the table lock so per-node delivery order matches the
	// order correlation entries were created, even with concurrent callers.
	d.mu.Lock()
	d.pending[cmd.CorrelationID] = entry
	if err := sess.Enqueue(env); err != nil {
		delete(d.pending, cmd.CorrelationID)
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	return &CommandHandle{CorrelationID: cmd.CorrelationID, done: entry.done}, nil
}

// Cancel resolves a pending command as Cancelled and drops its bookkeeping.
// Best-effort: the agent may still execute the command.
func (d *Dispatcher) Cancel(correlationID string) error {
	res := domain.CommandResult{
		CorrelationID: correlationID,
		State:         domain.CommandCancelled,
		Err:           domain.ErrCommandCancelled,
	}
	if !d.resolve(correlationID, res) {
		return fmt.Errorf("command %s: %w", correlationID, domain.ErrNotFound)
	}
	return nil
}

// PendingCount reports the number of unresolved commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// HandleInbound routes one parsed envelope from an agent's read loop.
// Heartbeats refresh liveness, correlated results resolve pending commands,
// status reports flow to the aggregator. Anything else is dropped.
func (d *Dispatcher) HandleInbound(sess *Session, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHeartbeat:
		sess.Touch()

	case protocol.TypeCommandResult:
		d.handleResult(env)

	case protocol.TypeStatusReport:
		var payload protocol.StatusReportPayload
		if err := protocol.Decode(env, &payload); err != nil {
			log.Printf("WARN: dropping bad status report from %s: %v", sess.NodeID, err)
			return
		}
		if payload.SubjectID == "" {
			log.Printf("WARN: dropping status report without subject from %s", sess.NodeID)
			return
		}
		receivedAt := time.UnixMilli(env.Timestamp)
		if env.Timestamp == 0 {
			receivedAt = time.Now()
		}
		d.aggregator.Report(sess.NodeID, payload.SubjectID, payload.Metrics, receivedAt)

	default:
		log.Printf("WARN: dropping unexpected %s message from %s", env.Type, sess.NodeID)
	}
}

// handleResult matches a command_result against the pending table. Results
// with no match (late replies after timeout, duplicates, forged ids) are
// logged and dropped.
func (d *Dispatcher) handleResult(env protocol.Envelope) {
	var payload protocol.CommandResultPayload
	if err := protocol.Decode(env, &payload); err != nil {
		log.Printf("WARN: dropping bad command result %s: %v", env.CorrelationID, err)
		return
	}

	res := domain.CommandResult{
		CorrelationID: env.CorrelationID,
		State:         domain.CommandCompleted,
		Data:          payload.Data,
	}
	if !payload.Success {
		res.State = domain.CommandFailed
		if payload.Error != "" {
			res.Err = fmt.Errorf("agent reported failure: %s", payload.Error)
		} else {
			res.Err = errors.New("agent reported failure")
		}
	}

	if !d.resolve(env.CorrelationID, res) {
		log.Printf("WARN: unmatched correlation id %s from %s (dropped)", env.CorrelationID, env.NodeID)
	}
}

// FailSession resolves every command pending on the given session with
// NodeUnavailable. Used on eviction, transport close, and takeover.
func (d *Dispatcher) FailSession(sessionID string) int {
	d.mu.Lock()
	ids := make([]string, 0)
	for id, entry := range d.pending {
		if entry.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.resolve(id, domain.CommandResult{
			CorrelationID: id,
			State:         domain.CommandFailed,
			Err:           domain.ErrNodeUnavailable,
		})
	}
	return len(ids)
}

// RunTimeoutSweeper expires overdue commands until the context ends.
func (d *Dispatcher) RunTimeoutSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepTimeouts(time.Now())
		}
	}
}

// SweepTimeouts resolves every command past its deadline as TimedOut.
// Returns the number of commands expired.
func (d *Dispatcher) SweepTimeouts(now time.Time) int {
	d.mu.Lock()
	ids := make([]string, 0)
	for id, entry := range d.pending {
		if now.After(entry.cmd.TimeoutAt) {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	expired := 0
	for _, id := range ids {
		if d.resolve(id, domain.CommandResult{
			CorrelationID: id,
			State:         domain.CommandTimedOut,
			Err:           domain.ErrCommandTimeout,
		}) {
			expired++
		}
	}
	if expired > 0 {
		log.Printf("Command timeout sweep expired %d command(s)", expired)
	}
	return expired
}

// resolve applies the single terminal transition for a correlation id. The
// entry leaves the table under the lock, so exactly one resolution wins and
// duplicates find nothing.
func (d *Dispatcher) resolve(correlationID string, res domain.CommandResult) bool {
	d.mu.Lock()
	entry, ok := d.pending[correlationID]
	if ok {
		delete(d.pending, correlationID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	entry.cmd.State = res.State
	entry.done <- res
	return true
}
