package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types pushed to browsers so open views can reload
const (
	EventRecordCreated   = "record.created"
	EventRecordDeleted   = "record.deleted"
	EventSpotCreated     = "spot.created"
	EventMonthlySaved    = "monthly.saved"
	EventThresholdsSaved = "thresholds.saved"
	EventCatalogChanged  = "catalog.changed"
)

// Event is the message sent to subscribers of a department
type Event struct {
	Type         string    `json:"type"`
	DepartmentID uint      `json:"departmentId"`
	Payload      any       `json:"payload,omitempty"`
	At           time.Time `json:"at"`
}

// Hub maintains the set of active clients and fans events out to the
// clients watching the event's department.
type Hub struct {
	// Registered clients map: client id -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
		log:        log,
	}
}

// Run starts the hub's main loop; it returns when ctx is done and closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Debug("ws client connected",
				zap.String("client", client.ID),
				zap.Uint("department", client.DepartmentID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Debug("ws client disconnected", zap.String("client", client.ID))
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends an event to every client of deptID and to clients that
// watch all departments. Slow clients whose buffer is full miss the event.
func (h *Hub) Publish(deptID uint, eventType string, payload any) {
	msg, err := json.Marshal(Event{
		Type:         eventType,
		DepartmentID: deptID,
		Payload:      payload,
		At:           time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("marshal ws event", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.DepartmentID != 0 && c.DepartmentID != deptID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("ws client buffer full, event dropped", zap.String("client", c.ID))
		}
	}
}

// ClientCount reports the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
