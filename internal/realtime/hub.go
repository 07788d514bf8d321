package realtime

import (
	"sync"

	"go.uber.org/zap"

	"mokametrics-ingest/internal/model"
)

// Notification event names.
const (
	EventStatus         = "status"
	EventLotCompleted   = "lotCompleted"
	EventOrderFulfilled = "orderFulfilled"
)

// Hub broadcasts notifications to every connected dashboard. Delivery is
// at-most-once: a client whose buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	logger  *zap.SugaredLogger

	// OnPublish is called after each broadcast with the event name, if set.
	OnPublish func(event string)
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends {"event": event, "data": payload} to all clients.
func (h *Hub) Publish(event string, payload map[string]any) {
	msg, err := model.ValidateJSON(map[string]any{
		"event": event,
		"data":  payload,
	})
	if err != nil {
		h.logger.Errorw("failed to encode notification", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	skipped := 0
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// slow client -> skip
			skipped++
		}
	}
	total := len(h.clients)
	h.mu.RUnlock()

	if skipped > 0 {
		h.logger.Warnw("notification skipped for slow clients", "event", event, "skipped", skipped)
	}
	h.logger.Debugw("notification published", "event", event, "clients", total)
	if h.OnPublish != nil {
		h.OnPublish(event)
	}
}
