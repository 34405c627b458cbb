package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/events"
)

// ErrHubClosed is returned by Publish once Run has returned.
var ErrHubClosed = errors.New("websocket hub closed")

// venueEvent is an internal struct for routing events to specific venues
type venueEvent struct {
	VenueID uuid.UUID
	Event   events.Event
}

// Hub maintains the set of live-board clients per venue and broadcasts
// committed domain events to them.
type Hub struct {
	// Registered clients by venue ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcast chan *venueEvent

	// done is closed when Run returns.
	done chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *venueEvent, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing every
// client's send channel. Run must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for venueID, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, venueID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.venueID] == nil {
				h.rooms[client.venueID] = make(map[*Client]bool)
			}
			h.rooms[client.venueID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			message, err := json.Marshal(ev.Event)
			if err != nil {
				h.logger.Error("marshal websocket event", zap.String("event_type", ev.Event.Type), zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[ev.VenueID] {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than stall the venue.
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.venueID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.venueID)
	}
}

// Publish implements events.Publisher, queueing e for every client watching
// its venue. It gives up when ctx ends or the hub has stopped before the
// broadcast queue has room.
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	select {
	case h.broadcast <- &venueEvent{VenueID: e.VenueID, Event: e}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leave unregisters client unless the hub has already stopped.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount reports connected clients for a venue.
func (h *Hub) ClientCount(venueID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[venueID])
}
