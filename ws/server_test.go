package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/config"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/coordinator"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/tests/helpers"
	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/ws"
)

type fixture struct {
	url        string
	registry   *coordinator.Registry
	dispatcher *coordinator.Dispatcher
	aggregator *coordinator.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		CommandTimeout:    time.Minute,
		AuthTimeout:       2 * time.Second,
		WriteTimeout:      2 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    65536,
		SendBuffer:        16,
	}

	db := helpers.NewTestSQLiteStore(t)
	require.NoError(t, db.CreateNode(context.Background(), &domain.Node{
		NodeID:       "node-1",
		Secret:       "s3cret",
		Capabilities: []string{"server:power"},
	}))

	registry := coordinator.NewRegistry(0, coordinator.NewEventBus())
	aggregator := coordinator.NewAggregator()
	dispatcher := coordinator.NewDispatcher(registry, aggregator, nil, cfg.CommandTimeout)
	gate := coordinator.NewGate(db, registry, dispatcher, cfg.HeartbeatInterval)

	e := echo.New()
	server := ws.NewServer(cfg, gate, registry, dispatcher)
	server.RegisterRoutes(e)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return &fixture{
		url:        "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/agents/ws",
		registry:   registry,
		dispatcher: dispatcher,
		aggregator: aggregator,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func register(t *testing.T, conn *websocket.Conn, nodeID, secret string, capabilities ...string) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeAgentRegister, nodeID, protocol.RegisterPayload{
		NodeID:       nodeID,
		Secret:       secret,
		Capabilities: capabilities,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	return readEnvelope(t, conn)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Parse(data)
	require.NoError(t, err)
	return env
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

func TestRegisterAndCommandRoundTrip(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url)

	reply := register(t, conn, "node-1", "s3cret", "server:power")
	require.Equal(t, protocol.TypeRegisterAck, reply.Type)

	var ack protocol.RegisterAckPayload
	require.NoError(t, protocol.Decode(reply, &ack))
	require.Equal(t, 1, ack.HeartbeatIntervalS)

	waitFor(t, func() bool {
		_, ok := f.registry.Get("node-1")
		return ok
	}, "session installed")

	handle, err := f.dispatcher.Issue(context.Background(), "node-1", domain.CommandServerStart, json.RawMessage(`{"server_id":"srv-1"}`))
	require.NoError(t, err)

	cmdEnv := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeCommand, cmdEnv.Type)
	require.Equal(t, handle.CorrelationID, cmdEnv.CorrelationID)

	var cmd protocol.CommandPayload
	require.NoError(t, protocol.Decode(cmdEnv, &cmd))
	require.Equal(t, domain.CommandServerStart, cmd.CommandType)

	result, err := protocol.NewEnvelope(protocol.TypeCommandResult, "node-1", protocol.CommandResultPayload{
		Success: true,
		Data:    json.RawMessage(`{"status":"started"}`),
	})
	require.NoError(t, err)
	result.CorrelationID = cmdEnv.CorrelationID
	require.NoError(t, conn.WriteJSON(result))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, res.State)
	require.JSONEq(t, `{"status":"started"}`, string(res.Data))
}

func TestRegisterInvalidCredentialRejected(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url)

	reply := register(t, conn, "node-1", "wrong")
	require.Equal(t, protocol.TypeRegisterReject, reply.Type)

	var reject protocol.RegisterRejectPayload
	require.NoError(t, protocol.Decode(reply, &reject))
	require.Equal(t, "authentication failed", reject.Reason)

	// The connection is closed and no session was installed.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Equal(t, 0, f.registry.Len())
}

func TestTakeoverReplacesSession(t *testing.T) {
	f := newFixture(t)

	first := dial(t, f.url)
	reply := register(t, first, "node-1", "s3cret", "server:power")
	require.Equal(t, protocol.TypeRegisterAck, reply.Type)

	firstSess, ok := f.registry.Get("node-1")
	require.True(t, ok)

	second := dial(t, f.url)
	reply = register(t, second, "node-1", "s3cret", "server:power")
	require.Equal(t, protocol.TypeRegisterAck, reply.Type)

	waitFor(t, func() bool {
		cur, ok := f.registry.Get("node-1")
		return ok && cur != firstSess
	}, "second session took over")
	require.Equal(t, 1, f.registry.Len())

	// The displaced connection is closed by the coordinator.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// Commands now reach only the second connection.
	handle, err := f.dispatcher.Issue(context.Background(), "node-1", domain.CommandServerStart, nil)
	require.NoError(t, err)

	cmdEnv := readEnvelope(t, second)
	require.Equal(t, protocol.TypeCommand, cmdEnv.Type)
	require.Equal(t, handle.CorrelationID, cmdEnv.CorrelationID)
}

func TestHeartbeatAndStatusReportRouting(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url)

	reply := register(t, conn, "node-1", "s3cret")
	require.Equal(t, protocol.TypeRegisterAck, reply.Type)

	sess, ok := f.registry.Get("node-1")
	require.True(t, ok)
	initial := sess.LastHeartbeat()

	time.Sleep(10 * time.Millisecond)
	hb, err := protocol.NewEnvelope(protocol.TypeHeartbeat, "node-1", struct{}{})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(hb))

	waitFor(t, func() bool {
		return sess.LastHeartbeat().After(initial)
	}, "heartbeat advanced liveness")

	report, err := protocol.NewEnvelope(protocol.TypeStatusReport, "node-1", protocol.StatusReportPayload{
		SubjectID: "srv-1",
		Metrics:   json.RawMessage(`{"state":"running"}`),
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(report))

	waitFor(t, func() bool {
		_, err := f.aggregator.SubjectSnapshot("node-1", "srv-1")
		return err == nil
	}, "status report aggregated")
}

func TestConnectionDropFailsPendingCommands(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url)

	reply := register(t, conn, "node-1", "s3cret")
	require.Equal(t, protocol.TypeRegisterAck, reply.Type)

	handle, err := f.dispatcher.Issue(context.Background(), "node-1", domain.CommandServerStart, nil)
	require.NoError(t, err)

	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := handle.Wait(ctx)
	require.Equal(t, domain.CommandFailed, res.State)
	require.ErrorIs(t, err, domain.ErrNodeUnavailable)

	waitFor(t, func() bool { return f.registry.Len() == 0 }, "session removed after close")
}
