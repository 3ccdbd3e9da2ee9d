// Package main provides a simulated agent for exercising the coordinator:
// it registers, heartbeats, answers commands, and emits status reports.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/api/agents/ws", "coordinator websocket URL")
	nodeID := flag.String("node", "node-1", "node id")
	secret := flag.String("secret", "", "registration secret")
	caps := flag.String("caps", "server:power,server:logs", "comma-separated capabilities")
	subject := flag.String("subject", "srv-1", "workload id for status reports")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	report := flag.Duration("report", 5*time.Second, "status report interval")
	flag.Parse()

	if *secret == "" {
		log.Fatal("missing -secret")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	capabilities := strings.Split(*caps, ",")
	for {
		err := runAgent(*addr, *nodeID, *secret, capabilities, *subject, *heartbeat, *report, interrupt)
		if err == nil {
			return
		}
		log.Printf("Agent disconnected: %v; reconnecting in 3s", err)
		select {
		case <-interrupt:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func runAgent(addr, nodeID, secret string, capabilities []string, subject string, heartbeat, report time.Duration, interrupt <-chan os.Signal) error {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := register(conn, nodeID, secret, capabilities); err != nil {
		return err
	}
	log.Printf("Registered as %s", nodeID)

	// All writes happen in this loop; the read loop hands results over
	// instead of writing them itself.
	done := make(chan error, 1)
	results := make(chan protocol.Envelope, 16)
	go readLoop(conn, nodeID, results, done)

	heartbeatTicker := time.NewTicker(heartbeat)
	defer heartbeatTicker.Stop()
	reportTicker := time.NewTicker(report)
	defer reportTicker.Stop()

	for {
		select {
		case err := <-done:
			return err

		case result := <-results:
			if err := conn.WriteJSON(result); err != nil {
				return fmt.Errorf("write command result: %w", err)
			}

		case <-heartbeatTicker.C:
			env, _ := protocol.NewEnvelope(protocol.TypeHeartbeat, nodeID, struct{}{})
			if err := conn.WriteJSON(env); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}

		case <-reportTicker.C:
			metrics, _ := json.Marshal(map[string]any{
				"state":  "running",
				"cpu":    0.12,
				"memory": 128 << 20,
			})
			env, _ := protocol.NewEnvelope(protocol.TypeStatusReport, nodeID, protocol.StatusReportPayload{
				SubjectID: subject,
				Metrics:   metrics,
			})
			if err := conn.WriteJSON(env); err != nil {
				return fmt.Errorf("write status report: %w", err)
			}

		case <-interrupt:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

func register(conn *websocket.Conn, nodeID, secret string, capabilities []string) error {
	env, err := protocol.NewEnvelope(protocol.TypeAgentRegister, nodeID, protocol.RegisterPayload{
		NodeID:       nodeID,
		Secret:       secret,
		Capabilities: capabilities,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write register: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read register reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	reply, err := protocol.Parse(data)
	if err != nil {
		return err
	}
	switch reply.Type {
	case protocol.TypeRegisterAck:
		return nil
	case protocol.TypeRegisterReject:
		var payload protocol.RegisterRejectPayload
		protocol.Decode(reply, &payload)
		return fmt.Errorf("registration rejected: %s", payload.Reason)
	default:
		return fmt.Errorf("unexpected register reply: %s", reply.Type)
	}
}

// readLoop answers every command with a synthetic success result, handed
// back to the write loop through the results channel.
func readLoop(conn *websocket.Conn, nodeID string, results chan<- protocol.Envelope, done chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		env, err := protocol.Parse(data)
		if err != nil {
			log.Printf("WARN: dropping message: %v", err)
			continue
		}
		if env.Type != protocol.TypeCommand {
			continue
		}

		var payload protocol.CommandPayload
		if err := protocol.Decode(env, &payload); err != nil {
			log.Printf("WARN: bad command payload: %v", err)
			continue
		}
		log.Printf("Executing %s (correlation %s)", payload.CommandType, env.CorrelationID)

		resultData, _ := json.Marshal(map[string]string{"status": "done"})
		result, _ := protocol.NewEnvelope(protocol.TypeCommandResult, nodeID, protocol.CommandResultPayload{
			Success: true,
			Data:    resultData,
		})
		result.CorrelationID = env.CorrelationID
		results <- result
	}
}
