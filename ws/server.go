// Package ws hosts the WebSocket endpoint agents connect to.
package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/config"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/coordinator"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
)

// Server upgrades agent connections and drives their read/write pumps.
type Server struct {
	cfg        *config.Config
	gate       *coordinator.Gate
	registry   *coordinator.Registry
	dispatcher *coordinator.Dispatcher
	upgrader   websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, gate *coordinator.Gate, registry *coordinator.Registry, dispatcher *coordinator.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		gate:       gate,
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Agents are not browsers; origin checks do not apply.
				return true
			},
		},
	}
}

// RegisterRoutes mounts the agent endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/agents/ws", s.HandleAgent)
}

// HandleAgent handles the WebSocket upgrade and the connection lifecycle.
// The first frame must be agent_register within the auth budget; everything
// after a successful registration flows through the router.
func (s *Server) HandleAgent(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := newAgentConn(ws, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.cfg.PingInterval)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	sess, err := s.authenticate(c.Request().Context(), ws, conn)
	if err != nil {
		s.reject(ws, err)
		conn.Close()
		return nil
	}

	// The write pump starts only after registration, so the reject path
	// above can write directly without racing it. The register_ack enqueued
	// by the gate is the first frame it drains.
	go conn.writePump()
	s.readPump(ws, conn, sess)
	return nil
}

// authenticate reads the registration frame within the auth budget and runs
// it through the gate.
func (s *Server) authenticate(ctx context.Context, ws *websocket.Conn, conn *agentConn) (*coordinator.Session, error) {
	ws.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, domain.ErrAuth
	}
	env, err := protocol.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.gate.Register(ctx, env, conn)
}

// reject sends register_reject directly and logs the refusal. The write is
// safe because the pump has not started yet.
func (s *Server) reject(ws *websocket.Conn, cause error) {
	reason := "registration rejected"
	switch {
	case errors.Is(cause, domain.ErrAuth):
		reason = "authentication failed"
	case errors.Is(cause, domain.ErrAgentLimit):
		reason = "agent limit reached"
	case errors.Is(cause, domain.ErrMalformedMessage):
		reason = "malformed registration"
	}
	log.Printf("Registration rejected: %v", cause)

	env, err := protocol.NewEnvelope(protocol.TypeRegisterReject, "", protocol.RegisterRejectPayload{Reason: reason})
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	ws.WriteJSON(env)
}

// readPump reads frames until the connection dies, routing each one through
// the dispatcher. On exit the session is removed only if it is still the
// current one for the node, so a takeover's stale connection cannot evict
// its successor.
func (s *Server) readPump(ws *websocket.Conn, conn *agentConn, sess *coordinator.Session) {
	defer func() {
		if s.registry.Remove(sess.NodeID, sess) {
			failed := s.dispatcher.FailSession(sess.ID)
			if failed > 0 {
				log.Printf("Connection loss for node %s failed %d pending command(s)", sess.NodeID, failed)
			}
		}
		conn.Close()
	}()

	readWait := s.cfg.HeartbeatTimeout + s.cfg.PingInterval
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for node %s: %v", sess.NodeID, err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readWait))

		env, err := protocol.Parse(data)
		if err != nil {
			log.Printf("WARN: dropping malformed message from %s: %v", sess.NodeID, err)
			continue
		}
		s.dispatcher.HandleInbound(sess, env)
	}
}
