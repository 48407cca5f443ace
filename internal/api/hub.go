package api

import (
	"sync"

	"github.com/tanq16/velodown/internal/utils"
)

const subscriberBuffer = 64

// Hub fans scheduler events out to SSE subscribers. A subscriber that falls
// behind loses events instead of stalling the scheduler.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan utils.Event]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan utils.Event]struct{})}
}

func (h *Hub) Notify(ev utils.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns an event channel and the function that releases it.
func (h *Hub) Subscribe() (<-chan utils.Event, func()) {
	ch := make(chan utils.Event, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Close ends every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
