// Package hub tracks which live connections are watching which
// conversation and fans lifecycle events out to them.
//
// Membership is process-local and in-memory: a reconnecting client
// re-joins its rooms from scratch.
package hub

import (
	"sync"

	"decisionlens/internal/lifecycle"
)

// Subscriber is one live connection. Deliver must not block; a
// subscriber that cannot accept an event (closed, backed up) reports
// false and is skipped for that broadcast.
type Subscriber interface {
	Deliver(ev lifecycle.Event) bool
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Subscriber]struct{}
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[Subscriber]struct{})}
}

// Join adds sub to the conversation's room. Joining twice is a no-op:
// the subscriber still receives each broadcast once.
func (h *Hub) Join(sub Subscriber, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[Subscriber]struct{})
		h.rooms[conversationID] = room
	}
	room[sub] = struct{}{}
}

// Leave removes sub from the room; safe when sub never joined.
func (h *Hub) Leave(sub Subscriber, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// Drop removes sub from every room it had joined. Called on
// connection teardown so no membership leaks.
func (h *Hub) Drop(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, room := range h.rooms {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

// Broadcast delivers ev to every current member of the conversation's
// room. A member that refuses delivery is skipped; the broadcast never
// fails as a whole.
func (h *Hub) Broadcast(conversationID string, ev lifecycle.Event) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.rooms[conversationID]))
	for sub := range h.rooms[conversationID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(ev)
	}
}
