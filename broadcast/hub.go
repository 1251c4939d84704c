package broadcast

import (
	"context"
	"sync"
)

// Hub is an in-process Transport. Each Endpoint stands in for one process:
// a publish reaches every other endpoint subscribed to the channel, never
// the publishing endpoint itself. Delivery is synchronous, on the
// publisher's goroutine.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]hubSub
}

type hubSub struct {
	ep *Endpoint
	fn func([]byte)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]hubSub)}
}

// Endpoint returns a new, independent attachment point.
func (h *Hub) Endpoint() *Endpoint { return &Endpoint{hub: h} }

type Endpoint struct {
	hub *Hub
}

var _ Transport = (*Endpoint)(nil)

func (e *Endpoint) Publish(_ context.Context, channel string, payload []byte) error {
	e.hub.mu.RLock()
	targets := make([]func([]byte), 0, len(e.hub.subs[channel]))
	for _, s := range e.hub.subs[channel] {
		if s.ep != e {
			targets = append(targets, s.fn)
		}
	}
	e.hub.mu.RUnlock()

	for _, fn := range targets {
		fn(append([]byte(nil), payload...))
	}
	return nil
}

func (e *Endpoint) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	h := e.hub
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[uint64]hubSub)
	}
	h.subs[channel][id] = hubSub{ep: e, fn: handler}
	h.mu.Unlock()

	return sync.OnceFunc(func() {
		h.mu.Lock()
		delete(h.subs[channel], id)
		if len(h.subs[channel]) == 0 {
			delete(h.subs, channel)
		}
		h.mu.Unlock()
	}), nil
}
