// Package hub fans coordinator events out to realtime subscribers grouped
// by room. It is transport-agnostic: the websocket gateway is one consumer,
// tests are another.
package hub

import (
	"log/slog"
	"sync"
)

// EventType identifies a broadcast event kind.
type EventType string

const (
	EventAuctionState EventType = "auction_state"
	EventItemSold     EventType = "item_sold"
	EventAuctionEnded EventType = "auction_ended"
)

// Event is a single broadcast message.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Room returns the room name for an auction.
func Room(auctionID string) string { return "auction:" + auctionID }

// Subscription receives the events published to one room. Events arrive in
// publish order.
type Subscription struct {
	room string
	ch   chan Event
}

// Events returns the subscription's event channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Room returns the room this subscription is attached to.
func (s *Subscription) Room() string { return s.room }

// Hub is a room-keyed publish/subscribe primitive. Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	logger *slog.Logger
	buffer int
}

// New creates a hub. buffer is the per-subscription channel depth; events
// published to a subscriber whose buffer is full are dropped for that
// subscriber only.
func New(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		logger: logger,
		buffer: buffer,
	}
}

// Subscribe attaches a new subscription to a room.
func (h *Hub) Subscribe(room string) *Subscription {
	sub := &Subscription{room: room, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the subscription and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[sub.room]
	if !ok {
		return
	}
	if _, member := subs[sub]; !member {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, sub.room)
	}
	close(sub.ch)
}

// Publish delivers the event to every subscriber of the room. Publishing
// never blocks: a subscriber that cannot keep up loses the event.
func (h *Hub) Publish(room string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[room] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				slog.String("room", room),
				slog.String("event_type", string(ev.Type)),
			)
		}
	}
}

// SubscriberCount returns the number of subscriptions in a room.
func (h *Hub) SubscriberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
