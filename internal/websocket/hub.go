package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

type envelope struct {
	deviceID string
	payload  []byte
	traceID  string
}

// Hub keeps the connected clients grouped by device and routes messages to
// the clients of one device
type Hub struct {
	devices map[string]map[*Client]struct{}

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	count   int
	running bool

	logger  *slog.Logger
	metrics *Metrics

	quit chan struct{}
	done chan struct{}
}

// NewHub creates a Hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		devices:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in the background
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for deviceID, clients := range h.devices {
				for client := range clients {
					close(client.send)
				}
				delete(h.devices, deviceID)
			}
			h.count = 0
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.devices[client.deviceID]
			if !ok {
				clients = make(map[*Client]struct{})
				h.devices[client.deviceID] = clients
			}
			clients[client] = struct{}{}
			h.count++
			count := h.count
			h.mu.Unlock()

			ctx := client.context()
			h.metrics.connected(ctx)
			h.logger.InfoContext(ctx, "Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("device_id", client.deviceID),
				slog.String("remote_addr", client.remoteAddr))

		case client := <-h.unregister:
			if !h.remove(client) {
				continue
			}
			ctx := client.context()
			h.metrics.disconnected(ctx, time.Since(client.connectedAt))
			h.logger.InfoContext(ctx, "Client unregistered",
				slog.String("client_id", client.id),
				slog.String("device_id", client.deviceID),
				slog.Duration("connection_duration", time.Since(client.connectedAt)))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// remove drops client and closes its send channel; it reports false when the
// client was already gone
func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.devices[client.deviceID]
	if !ok {
		return false
	}
	if _, ok := clients[client]; !ok {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.devices, client.deviceID)
	}
	close(client.send)
	h.count--
	return true
}

func (h *Hub) deliver(msg envelope) {
	ctx := context.Background()
	if msg.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, msg.traceID)
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.devices[msg.deviceID]))
	for client := range h.devices[msg.deviceID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, client := range targets {
		select {
		case client.send <- msg.payload:
		default:
			dropped++
			h.remove(client)
			h.logger.WarnContext(ctx, "Client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}

	h.metrics.delivered(ctx, len(targets)-dropped, dropped)
	h.logger.DebugContext(ctx, "Change event delivered",
		slog.String("device_id", msg.deviceID),
		slog.Int("client_count", len(targets)),
		slog.Int("dropped", dropped))
}

// Publish queues message for every client subscribed to deviceID
func (h *Hub) Publish(ctx context.Context, deviceID string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal stream message: %w", err)
	}

	select {
	case h.broadcast <- envelope{deviceID: deviceID, payload: payload, traceID: infrastructure.GetTraceID(ctx)}:
		return nil
	case <-h.quit:
		return fmt.Errorf("hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// DeviceClientCount returns the number of clients watching deviceID
func (h *Hub) DeviceClientCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[deviceID])
}

// Stop closes every client and waits for the hub loop to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}
