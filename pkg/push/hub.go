// Package push provides a WebSocket push hub for delivering session events
// to connected clients addressed by connection ID.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// ErrConnectionGone is returned by Send when no client is registered under
// the given connection ID.
var ErrConnectionGone = errors.New("push: connection gone")

// Hub manages WebSocket client connections keyed by connection ID.
type Hub struct {
	// Registered clients by connection ID
	clients map[string]*Client

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new push hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log.WithFields(zap.String("component", "push_hub")),
	}
}

// Run starts the hub's main processing loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Push hub started")
	defer h.logger.Info("Push hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// addClient registers a client, replacing any existing client with the same
// connection ID.
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	if old, ok := h.clients[client.ID]; ok && old != client {
		close(old.send)
	}
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.logger.Debug("Client registered", zap.String("connection_id", client.ID))
}

// removeClient removes a client from the hub.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
		close(client.send)
		h.logger.Debug("Client unregistered", zap.String("connection_id", client.ID))
	}
}

// closeAllClients closes all client connections.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Send delivers a payload to the client registered under connectionID.
// Returns ErrConnectionGone when no such client is connected.
func (h *Hub) Send(connectionID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()

	if !ok {
		return ErrConnectionGone
	}

	select {
	case client.send <- data:
		return nil
	default:
		// Buffer full, the write pump will clean up the connection
		h.logger.Warn("Client send buffer full", zap.String("connection_id", connectionID))
		return nil
	}
}

// Broadcast delivers a payload to every connected client.
func (h *Hub) Broadcast(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Buffer full, skip
		}
	}
	return nil
}

// ConnectionIDs returns the IDs of all connected clients.
func (h *Hub) ConnectionIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
