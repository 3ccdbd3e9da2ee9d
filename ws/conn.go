package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/protocol"
)

// ErrBufferFull is returned when a connection's outbound buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// agentConn adapts a websocket connection to the coordinator's transport
// interface. Outbound frames go through a buffered channel drained by a
// single write pump, which preserves FIFO order and keeps one stalled
// agent from blocking anything else.
type agentConn struct {
	ws           *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newAgentConn(ws *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration) *agentConn {
	return &agentConn{
		ws:           ws,
		send:         make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		closed:       make(chan struct{}),
	}
}

// Enqueue queues an envelope for the write pump. Never blocks.
func (c *agentConn) Enqueue(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close shuts the connection down. Safe to call from any goroutine, any
// number of times.
func (c *agentConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// writePump drains the outbound buffer and keeps the connection alive with
// pings. Every write carries a deadline; a stalled transport errors out
// instead of blocking.
func (c *agentConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
