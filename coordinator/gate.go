package coordinator

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/store"
)

// Gate authenticates fresh connections and promotes them to registered
// sessions. It never retries a failed credential; the transport layer
// closes the connection.
type Gate struct {
	nodes      store.Store
	registry   *Registry
	dispatcher *Dispatcher

	heartbeatInterval time.Duration
}

// NewGate creates an auth gate backed by the node directory.
func NewGate(nodes store.Store, registry *Registry, dispatcher *Dispatcher, heartbeatInterval time.Duration) *Gate {
	return &Gate{
		nodes:             nodes,
		registry:          registry,
		dispatcher:        dispatcher,
		heartbeatInterval: heartbeatInterval,
	}
}

// Register validates an agent_register envelope against the node directory
// and installs the session. On success the agent receives register_ack and
// the session is Active. Any previous session for the node is taken over
// and its pending commands fail with NodeUnavailable.
func (g *Gate) Register(ctx context.Context, env protocol.Envelope, conn AgentConn) (*Session, error) {
	if env.Type != protocol.TypeAgentRegister {
		return nil, fmt.Errorf("%w: expected %s, got %s", domain.ErrMalformedMessage, protocol.TypeAgentRegister, env.Type)
	}

	var payload protocol.RegisterPayload
	if err := protocol.Decode(env, &payload); err != nil {
		return nil, err
	}
	if payload.NodeID == "" {
		return nil, fmt.Errorf("%w: registration without node_id", domain.ErrMalformedMessage)
	}
	if payload.Secret == "" {
		return nil, fmt.Errorf("node %s: missing credential: %w", payload.NodeID, domain.ErrAuth)
	}

	node, err := g.nodes.GetNode(ctx, payload.NodeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("node %s: unknown node: %w", payload.NodeID, domain.ErrAuth)
		}
		return nil, fmt.Errorf("node lookup for %s: %w", payload.NodeID, err)
	}

	if subtle.ConstantTimeCompare([]byte(node.Secret), []byte(payload.Secret)) != 1 {
		return nil, fmt.Errorf("node %s: bad credential: %w", payload.NodeID, domain.ErrAuth)
	}

	sess := NewSession(payload.NodeID, payload.Capabilities, conn)
	displaced, err := g.registry.Install(sess)
	if err != nil {
		return nil, fmt.Errorf("install session for %s: %w", payload.NodeID, err)
	}
	if displaced != nil {
		if failed := g.dispatcher.FailSession(displaced.ID); failed > 0 {
			log.Printf("Takeover for node %s failed %d pending command(s)", payload.NodeID, failed)
		}
	}

	if err := g.nodes.TouchNode(ctx, payload.NodeID, time.Now()); err != nil {
		log.Printf("WARN: failed to record last seen for %s: %v", payload.NodeID, err)
	}

	ack, err := protocol.NewEnvelope(protocol.TypeRegisterAck, payload.NodeID, protocol.RegisterAckPayload{
		SessionID:          sess.ID,
		HeartbeatIntervalS: int(g.heartbeatInterval.Seconds()),
	})
	if err == nil {
		err = sess.Enqueue(ack)
	}
	if err != nil {
		// The agent never saw the ack; drop the session rather than leave
		// it half-open.
		g.registry.Remove(sess.NodeID, sess)
		return nil, fmt.Errorf("ack to %s: %w", payload.NodeID, domain.ErrNodeUnavailable)
	}

	log.Printf("Agent registered: node=%s session=%s capabilities=%v", payload.NodeID, sess.ID, payload.Capabilities)
	return sess, nil
}
