// Package api exposes the coordinator's ops surface: health, active nodes,
// state snapshots, node identity provisioning, and internal command issue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/coordinator"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/store"
)

// Handler serves the ops endpoints.
type Handler struct {
	registry   *coordinator.Registry
	aggregator *coordinator.Aggregator
	dispatcher *coordinator.Dispatcher
	store      store.Store
}

// NewHandler creates the ops handler.
func NewHandler(registry *coordinator.Registry, aggregator *coordinator.Aggregator, dispatcher *coordinator.Dispatcher, st store.Store) *Handler {
	return &Handler{
		registry:   registry,
		aggregator: aggregator,
		dispatcher: dispatcher,
		store:      st,
	}
}

// RegisterRoutes mounts the ops routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/api/nodes", h.ListNodes)
	e.GET("/api/nodes/:node_id/state", h.NodeState)
	e.GET("/api/nodes/:node_id/state/:subject_id", h.SubjectState)
	e.POST("/api/nodes", h.CreateNode)
	e.DELETE("/api/nodes/:node_id", h.DeleteNode)
	e.POST("/api/nodes/:node_id/commands", h.IssueCommand)
}

// Health reports liveness and fleet counters.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"active_nodes":     h.registry.Len(),
		"pending_commands": h.dispatcher.PendingCount(),
	})
}

// ListNodes returns the sessions currently installed.
// GET /api/nodes
func (h *Handler) ListNodes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"nodes": h.registry.Snapshot(),
	})
}

// NodeState returns the latest known state for every workload on a node.
// GET /api/nodes/:node_id/state
func (h *Handler) NodeState(c echo.Context) error {
	nodeID := c.Param("node_id")
	snapshot, err := h.aggregator.NodeSnapshot(nodeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "node state not found"})
		}
		log.Printf("ERROR: failed to snapshot node %s: %v", nodeID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "snapshot failed"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"node_id":  nodeID,
		"subjects": snapshot,
	})
}

// SubjectState returns the latest known state for one workload.
// GET /api/nodes/:node_id/state/:subject_id
func (h *Handler) SubjectState(c echo.Context) error {
	nodeID := c.Param("node_id")
	subjectID := c.Param("subject_id")
	state, err := h.aggregator.SubjectSnapshot(nodeID, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "subject state not found"})
		}
		log.Printf("ERROR: failed to snapshot subject %s/%s: %v", nodeID, subjectID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "snapshot failed"})
	}
	return c.JSON(http.StatusOK, state)
}

// NodeCreateRequest is the request to provision a node identity.
type NodeCreateRequest struct {
	NodeID       string   `json:"node_id"`
	Secret       string   `json:"secret"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CreateNode provisions a node identity in the directory.
// POST /api/nodes
func (h *Handler) CreateNode(c echo.Context) error {
	ctx := c.Request().Context()

	var req NodeCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.NodeID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "node_id is required"})
	}
	if req.Secret == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "secret is required"})
	}

	now := time.Now()
	node := &domain.Node{
		NodeID:       req.NodeID,
		Secret:       req.Secret,
		Capabilities: req.Capabilities,
		CreatedAt:    now,
	}
	if err := h.store.CreateNode(ctx, node); err != nil {
		log.Printf("ERROR: failed to create node: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create node"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":         true,
		"created_at": now.UnixMilli(),
	})
}

// DeleteNode removes a node identity and forgets its aggregated state.
// DELETE /api/nodes/:node_id
func (h *Handler) DeleteNode(c echo.Context) error {
	ctx := c.Request().Context()
	nodeID := c.Param("node_id")

	if err := h.store.DeleteNode(ctx, nodeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "node not found"})
		}
		log.Printf("ERROR: failed to delete node: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete node"})
	}
	h.aggregator.Forget(nodeID)

	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// CommandRequest is the request to issue a command to a node.
type CommandRequest struct {
	Type       string          `json:"type"`
	Params     json.RawMessage `json:"params,omitempty"`
	WaitMs     int             `json:"wait_ms,omitempty"`
	FireForget bool            `json:"fire_and_forget,omitempty"`
}

// IssueCommand dispatches a command and, unless fire_and_forget is set,
// waits up to wait_ms (default: the request context) for the result.
// POST /api/nodes/:node_id/commands
func (h *Handler) IssueCommand(c echo.Context) error {
	ctx := c.Request().Context()
	nodeID := c.Param("node_id")

	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "type is required"})
	}

	handle, err := h.dispatcher.Issue(ctx, nodeID, req.Type, req.Params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNodeUnavailable):
			return c.JSON(http.StatusConflict, map[string]string{"error": "node unavailable"})
		case errors.Is(err, domain.ErrCommandDenied):
			return c.JSON(http.StatusForbidden, map[string]string{"error": "command denied by policy"})
		}
		log.Printf("ERROR: failed to issue command: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to issue command"})
	}

	if req.FireForget {
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"correlation_id": handle.CorrelationID,
		})
	}

	waitCtx := ctx
	if req.WaitMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(req.WaitMs)*time.Millisecond)
		defer cancel()
	}

	res, err := handle.Wait(waitCtx)
	if err != nil && res.State == "" {
		// Context ended before resolution; the command stays pending until
		// the timeout sweep resolves it.
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"correlation_id": handle.CorrelationID,
			"state":          domain.CommandPending,
		})
	}

	body := map[string]interface{}{
		"correlation_id": res.CorrelationID,
		"state":          res.State,
	}
	if len(res.Data) > 0 {
		body["data"] = json.RawMessage(res.Data)
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	return c.JSON(http.StatusOK, body)
}
