package websocket

import (
	"errors"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/intellicollab/chat-relay/metrics"
	"github.com/intellicollab/chat-relay/models"
)

var (
	ErrHubClosed     = errors.New("hub closed")
	ErrNotRegistered = errors.New("client not registered")
)

// Hub is the connection registry: it indexes live clients by room. It
// never owns a connection; clients are closed by their own pumps, or by
// Close at shutdown.
type Hub struct {
	log          *slog.Logger
	metrics      *metrics.Collector
	dedupeWindow int

	// Guards clients, rooms, recent and every client's rooms set.
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	recent  map[string]*lru.Cache[string, struct{}]
	closed  bool
}

// NewHub creates a hub. dedupeWindow is how many recently broadcast
// message ids are remembered per room; zero disables duplicate skipping.
func NewHub(log *slog.Logger, m *metrics.Collector, dedupeWindow int) *Hub {
	return &Hub{
		log:          log,
		metrics:      m,
		dedupeWindow: dedupeWindow,
		clients:      make(map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		recent:       make(map[string]*lru.Cache[string, struct{}]),
	}
}

// Register adds a connected client with no rooms.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[client] = struct{}{}
	return nil
}

// Unregister removes client from every room it joined. Calling it more
// than once is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for roomID := range client.rooms {
		h.removeLocked(client, roomID)
	}
}

// Join adds client to the room's membership set. Joining twice is the same
// as joining once.
func (h *Hub) Join(client *Client, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return ErrNotRegistered
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.rooms[roomID] = struct{}{}
	client.state.CompareAndSwap(int32(StateConnected), int32(StateJoined))
	return nil
}

// Leave removes client from one room.
func (h *Hub) Leave(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, roomID)
	if len(client.rooms) == 0 {
		client.state.CompareAndSwap(int32(StateJoined), int32(StateConnected))
	}
}

func (h *Hub) removeLocked(client *Client, roomID string) {
	delete(client.rooms, roomID)
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, client)
	// Clean up empty rooms
	if len(members) == 0 {
		delete(h.rooms, roomID)
		delete(h.recent, roomID)
	}
}

// Broadcast queues frame on every client in the room at the moment of the
// call and returns how many accepted it. Sends never block: a client that
// cannot keep up is closed and reaped by its own disconnect path.
func (h *Hub) Broadcast(roomID string, frame []byte) int {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range members {
		if client.trySend(frame) {
			delivered++
			continue
		}
		h.metrics.Dropped()
	}
	h.metrics.Delivered(delivered)
	return delivered
}

// BroadcastMessage sends a persisted message to its room as a message
// frame. A message id already broadcast to the room within the dedupe
// window is skipped and reported as duplicate.
func (h *Hub) BroadcastMessage(message models.Message) (int, bool) {
	if h.seen(message.RoomID, message.ID) {
		h.metrics.DuplicateSkipped()
		return 0, true
	}
	frame, err := EncodeFrame(EventMessage, message)
	if err != nil {
		h.log.Error("Failed to encode message frame", "message_id", message.ID, "error", err)
		return 0, false
	}
	return h.Broadcast(message.RoomID, frame), false
}

// seen records id for the room and reports whether it was already there.
// Rooms without members are not tracked.
func (h *Hub) seen(roomID, id string) bool {
	if h.dedupeWindow <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		return false
	}
	window, ok := h.recent[roomID]
	if !ok {
		var err error
		if window, err = lru.New[string, struct{}](h.dedupeWindow); err != nil {
			h.log.Error("Failed to create dedupe window", "room_id", roomID, "error", err)
			return false
		}
		h.recent[roomID] = window
	}
	// Lookups do not refresh an id, so the oldest broadcast is evicted first.
	found, _ := window.ContainsOrAdd(id, struct{}{})
	return found
}

// Close disconnects every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		client.rooms = make(map[string]struct{})
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.recent = make(map[string]*lru.Cache[string, struct{}])
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	h.log.Info("Hub closed", "clients", len(clients))
}

// ClientCount returns the total number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients joined to a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
