package server

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// outboundEnvelope frames every server-to-client message.
type outboundEnvelope struct {
	Event string `json:"event"`
	Seq   int64  `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// client is one registered websocket connection with its write queue.
type client struct {
	id   string
	send chan []byte
}

// Broadcaster is the in-process connection registry and fanout. It
// implements race.Broadcaster: the engine subscribes connections to room
// codes and publishes events; slow consumers are dropped rather than
// allowed to stall the coordinator.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]struct{} // room code -> conn ids
	member  map[string]string              // conn id -> room code
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]struct{}),
		member:  make(map[string]string),
	}
}

const sendQueueSize = 64

// Register adds a connection and returns its write queue.
func (b *Broadcaster) Register(id string) <-chan []byte {
	c := &client{id: id, send: make(chan []byte, sendQueueSize)}
	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()
	return c.send
}

// Deregister drops a connection and any room membership it still holds.
func (b *Broadcaster) Deregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		close(c.send)
		delete(b.clients, id)
	}
	b.dropMembership(id)
}

func (b *Broadcaster) Subscribe(conn, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropMembership(conn)
	if b.rooms[code] == nil {
		b.rooms[code] = make(map[string]struct{})
	}
	b.rooms[code][conn] = struct{}{}
	b.member[conn] = code
}

func (b *Broadcaster) Unsubscribe(conn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropMembership(conn)
}

// dropMembership must be called with the lock held.
func (b *Broadcaster) dropMembership(conn string) {
	code, ok := b.member[conn]
	if !ok {
		return
	}
	delete(b.member, conn)
	delete(b.rooms[code], conn)
	if len(b.rooms[code]) == 0 {
		delete(b.rooms, code)
	}
}

// enqueue pushes pre-marshaled bytes onto a connection's send queue.
func (b *Broadcaster) enqueue(conn string, data []byte) bool {
	b.mu.RLock()
	c, ok := b.clients[conn]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		b.logger.Warn("dropping reply for slow connection", "conn", conn)
		return false
	}
}

func (b *Broadcaster) SendToRoom(code, event string, payload any) {
	data, err := json.Marshal(outboundEnvelope{Event: event, Data: payload})
	if err != nil {
		b.logger.Error("marshaling room event failed", "event", event, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for conn := range b.rooms[code] {
		c, ok := b.clients[conn]
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Drop if the consumer is slow.
			b.logger.Warn("dropping event for slow connection", "conn", conn, "event", event)
		}
	}
}

func (b *Broadcaster) SendToConnection(conn, event string, payload any) bool {
	b.mu.RLock()
	c, ok := b.clients[conn]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(outboundEnvelope{Event: event, Data: payload})
	if err != nil {
		b.logger.Error("marshaling event failed", "event", event, "error", err)
		return false
	}
	select {
	case c.send <- data:
	default:
		b.logger.Warn("dropping event for slow connection", "conn", conn, "event", event)
	}
	return true
}
