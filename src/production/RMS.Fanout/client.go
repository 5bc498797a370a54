package fanout

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
)

const writeWait = 10 * time.Second

// Client is one live subscriber connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	filterMu sync.RWMutex
	filter   *rmsmodels.SubscriptionFilter

	missedPings atomic.Int32
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// matches evaluates the subscriber's filter. No registered filter means
// "receive everything".
func (c *Client) matches(reading rmsmodels.EnrichedReading) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if c.filter == nil {
		return true
	}
	return c.filter.Matches(reading)
}

// trySend queues a payload without blocking. False means the client is gone
// or too slow to keep up.
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) sendServerMessage(msg rmsmodels.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(payload)
}

// readPump consumes subscriber messages until the connection drops, then
// removes the client from the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	c.conn.SetPongHandler(func(string) error {
		c.missedPings.Store(0)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg rmsmodels.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Logger.Warn().Err(err).Msg("Bad subscriber message")
			continue
		}

		switch msg.Type {
		case rmsmodels.ClientMsgSubscribe:
			filters := msg.Filters
			c.filterMu.Lock()
			c.filter = &filters
			c.filterMu.Unlock()
			c.sendServerMessage(rmsmodels.ServerMessage{
				Type:    rmsmodels.ServerMsgSubscribed,
				Filters: &filters,
			})
		case rmsmodels.ClientMsgUnsubscribe:
			c.filterMu.Lock()
			c.filter = nil
			c.filterMu.Unlock()
			c.sendServerMessage(rmsmodels.ServerMessage{Type: rmsmodels.ServerMsgUnsubscribed})
		case rmsmodels.ClientMsgPing:
			c.sendServerMessage(rmsmodels.ServerMessage{Type: rmsmodels.ServerMsgPong})
		default:
			c.hub.logger.Logger.Warn().Str("type", msg.Type).Msg("Unknown subscriber message type")
		}
	}
}

// writePump drains the send channel and drives the heartbeat. A subscriber
// that misses MaxMissedPings consecutive pings is forcibly disconnected.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.remove(c)
				c.close()
				return
			}
		case <-ticker.C:
			if int(c.missedPings.Load()) >= c.hub.cfg.MaxMissedPings {
				c.hub.logger.Logger.Warn().Msg("Subscriber missed heartbeats, disconnecting")
				c.hub.remove(c)
				c.close()
				return
			}
			c.missedPings.Add(1)
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				c.close()
				return
			}
		}
	}
}

// close tears the connection down exactly once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
