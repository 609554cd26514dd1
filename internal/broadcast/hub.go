package broadcast

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// Hub fans messages out to the SSE clients connected to this instance.
// Slow clients lose messages instead of holding up the others.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Message]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan Message]struct{}),
		done: make(chan struct{}),
	}
}

// Close ends every open stream. Register it with http.Server.RegisterOnShutdown,
// since Shutdown alone waits for streaming requests forever.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Closed is closed once Close has been called.
func (h *Hub) Closed() <-chan struct{} {
	return h.done
}

// Subscribe registers a client. Call the returned func to leave.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Name() string { return "hub" }

// Deliver never blocks.
func (h *Hub) Deliver(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}
