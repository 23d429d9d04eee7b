package events

import (
	"sync"

	"github.com/rados-io/saturn-presale/core/types"
)

// Hub delivers event payloads to live subscribers. Slow subscribers lose
// events rather than stalling the emitter.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]chan *types.Event
	buffer int
}

// NewHub creates a hub whose subscriber channels hold up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[uint64]chan *types.Event), buffer: buffer}
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	payload := PayloadOf(evt)
	if h == nil || payload == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- payload.Clone():
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function unregisters
// it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan *types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan *types.Event, h.buffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
