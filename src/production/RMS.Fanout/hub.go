package fanout

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
)

// Hub is the live fan-out server. It tracks subscriber connections,
// evaluates each subscriber's filter independently on every event, and
// evicts subscribers that stop responding to heartbeats.
type Hub struct {
	cfg      config.FanoutConfig
	logger   *logger.Logger
	metrics  *rmsmetrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub creates an empty fan-out hub.
func NewHub(cfg config.FanoutConfig, log *logger.Logger, metrics *rmsmetrics.Metrics) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  log.WithComponent("fanout"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeWS upgrades an HTTP request to a subscriber connection and runs its
// read loop until the subscriber disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorWithError(err, "Websocket upgrade failed")
		return
	}

	client := newClient(h, conn)
	h.add(client)

	client.sendServerMessage(rmsmodels.ServerMessage{Type: rmsmodels.ServerMsgConnected})

	go client.writePump()
	client.readPump()
}

// Broadcast pushes one live event to every subscriber whose filter matches.
// A failing or slow subscriber is evicted; it never affects delivery to the
// others.
func (h *Hub) Broadcast(reading rmsmodels.EnrichedReading) {
	payload, err := json.Marshal(rmsmodels.ServerMessage{
		Type: rmsmodels.ServerMsgSensorData,
		Data: &reading,
	})
	if err != nil {
		h.logger.ErrorWithError(err, "Failed to encode live event")
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.matches(reading) {
			continue
		}
		if !c.trySend(payload) {
			h.logger.Logger.Warn().Msg("Dropping unresponsive subscriber")
			h.remove(c)
			c.close()
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every subscriber.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
	h.metrics.SetActiveConnections("websocket", 0)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetActiveConnections("websocket", n)
	h.logger.Logger.Info().Int("subscribers", n).Msg("Subscriber connected")
}

// remove takes the client out of the active set. The removal is atomic with
// respect to Broadcast: once removed, no broadcast will attempt a send.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		h.metrics.SetActiveConnections("websocket", n)
		h.logger.Logger.Info().Int("subscribers", n).Msg("Subscriber disconnected")
	}
}
