package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/session"
	"go.uber.org/zap"
)

// SnapshotProvider returns the current robot state for live clients.
type SnapshotProvider interface {
	LiveSnapshot() any
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *zap.Logger
	done   chan struct{}

	snapshots      SnapshotProvider
	snapshotPeriod time.Duration
}

// NewHub creates a new Hub instance. A positive snapshotPeriod broadcasts
// the provider's snapshot at that rate.
func NewHub(logger *zap.Logger, snapshotPeriod time.Duration) *Hub {
	return &Hub{
		broadcast:      make(chan Message, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		clients:        make(map[*Client]bool),
		logger:         logger,
		done:           make(chan struct{}),
		snapshotPeriod: snapshotPeriod,
	}
}

// SetSnapshotProvider must be called before Run.
func (h *Hub) SetSnapshotProvider(provider SnapshotProvider) {
	h.snapshots = provider
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")

	var tick <-chan time.Time
	if h.snapshots != nil && h.snapshotPeriod > 0 {
		ticker := time.NewTicker(h.snapshotPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", total))
			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.conn.RemoteAddr().String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.deliver(message)

		case <-tick:
			h.deliver(NewSnapshotMessage(h.snapshots.LiveSnapshot()))
		}
	}
}

func (h *Hub) greet(client *Client) {
	if h.snapshots == nil {
		return
	}
	data, err := json.Marshal(NewSnapshotMessage(h.snapshots.LiveSnapshot()))
	if err != nil {
		h.logger.Error("Failed to marshal snapshot message",
			zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) deliver(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message",
			zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow or dead client
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Client send buffer full, unregistering",
				zap.String("remote_addr", client.conn.RemoteAddr().String()))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// HandleEvent forwards a session event to live clients without blocking.
func (h *Hub) HandleEvent(ev session.Event) {
	h.Broadcast(NewSessionEventMessage(ev))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
