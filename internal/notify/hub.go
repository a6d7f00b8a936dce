// Package notify fans events out to clients watching a listing. Delivery is
// best effort: a subscriber whose buffer is full misses the event, and a
// subscriber that joins late sees nothing that came before.
package notify

import "sync"

// Event is the frame pushed to subscribers. It serialises as
// {"event": "...", "data": ...}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

const EventOfferCreated = "offer_created"

// Subscriber is one open connection watching a listing.
type Subscriber struct {
	listingID uint64
	ch        chan Event
}

// Events yields frames until the subscriber is unregistered, after which the
// channel is closed.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// ListingID is the listing this subscriber watches.
func (s *Subscriber) ListingID() uint64 { return s.listingID }

// Hub owns one subscriber set per listing.
type Hub struct {
	mu     sync.RWMutex
	groups map[uint64]map[*Subscriber]struct{}
	buffer int
	closed bool

	// OnChange, when set, is called with +1 or -1 as subscribers come and go.
	OnChange func(delta int)
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{groups: make(map[uint64]map[*Subscriber]struct{}), buffer: buffer}
}

// Register adds a subscriber to the listing's group. After Close it returns
// a subscriber whose channel is already closed.
func (h *Hub) Register(listingID uint64) *Subscriber {
	sub := &Subscriber{listingID: listingID, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	g, ok := h.groups[listingID]
	if !ok {
		g = make(map[*Subscriber]struct{})
		h.groups[listingID] = g
	}
	g[sub] = struct{}{}
	h.mu.Unlock()

	if h.OnChange != nil {
		h.OnChange(1)
	}
	return sub
}

// Unregister removes the subscriber and closes its channel. Calling it more
// than once is harmless.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	g, ok := h.groups[sub.listingID]
	if ok {
		_, ok = g[sub]
	}
	if ok {
		delete(g, sub)
		if len(g) == 0 {
			delete(h.groups, sub.listingID)
		}
		// closing under the write lock means no Broadcast can be sending
		close(sub.ch)
	}
	h.mu.Unlock()

	if ok && h.OnChange != nil {
		h.OnChange(-1)
	}
}

// Broadcast offers ev to every subscriber of the listing without blocking and
// returns how many accepted it.
func (h *Hub) Broadcast(listingID uint64, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.groups[listingID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Close unregisters every subscriber so open streams return. It is called
// on shutdown; calling it again does nothing.
func (h *Hub) Close() {
	h.mu.Lock()
	n := 0
	for id, g := range h.groups {
		for sub := range g {
			close(sub.ch)
			n++
		}
		delete(h.groups, id)
	}
	h.closed = true
	h.mu.Unlock()

	if h.OnChange != nil && n > 0 {
		h.OnChange(-n)
	}
}

// Count returns the number of subscribers watching a listing.
func (h *Hub) Count(listingID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[listingID])
}
