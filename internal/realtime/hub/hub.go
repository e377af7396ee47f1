package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is the envelope every room subscriber receives. Seq is monotonic per
// room, so a client seeing seq 7 after seq 9 knows to drop the older frame.
type Event struct {
	Event     string          `json:"event"`
	Room      string          `json:"room"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const sendBuffer = 32

// Conn is one subscriber. The transport drains Events; a consumer that
// cannot keep up loses events instead of blocking the fanout (emissions are
// at-most-once notifications, not a source of truth).
type Conn struct {
	UserID string

	events chan Event
}

func (c *Conn) Events() <-chan Event { return c.events }

// Hub is the room registry: room key -> set of connections.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	joins map[*Conn]map[string]struct{}
	seqs  map[string]uint64
}

func New() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Conn]struct{}),
		joins: make(map[*Conn]map[string]struct{}),
		seqs:  make(map[string]uint64),
	}
}

// Connect registers a new connection. UserID may be empty for anonymous
// tracking-only clients.
func (h *Hub) Connect(userID string) *Conn {
	c := &Conn{UserID: userID, events: make(chan Event, sendBuffer)}
	h.mu.Lock()
	h.joins[c] = make(map[string]struct{})
	h.mu.Unlock()
	return c
}

// Disconnect removes the connection from every room and closes its event
// channel. Safe against concurrent Broadcast: emissions happen under the
// read lock and only to connections still present in the registry.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.joins[c]
	if !ok {
		return
	}
	for room := range rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joins, c)
	close(c.events)
}

// Join подписывает соединение на комнату; повторный join — no-op.
func (h *Hub) Join(c *Conn, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.joins[c]
	if !ok {
		return // already disconnected
	}
	if _, ok := joined[room]; ok {
		return
	}
	joined[room] = struct{}{}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if joined, ok := h.joins[c]; ok {
		delete(joined, room)
	}
	delete(h.rooms[room], c)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast fans data out to every current member of the room. Fire and
// forget: nobody in the room, or a full subscriber buffer, is not an error.
func (h *Hub) Broadcast(room, event string, data json.RawMessage, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	h.mu.Lock()
	h.seqs[room]++
	ev := Event{Event: event, Room: room, Seq: h.seqs[room], Timestamp: at, Data: data}
	members := h.rooms[room]
	for c := range members {
		select {
		case c.events <- ev:
		default:
			slog.Warn("subscriber buffer full, dropping event", "room", room, "event", event)
		}
	}
	h.mu.Unlock()
}

// RoomSize reports current membership, for diagnostics.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
