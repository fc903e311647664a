package signaling

import (
	"errors"
	"sync"
)

var (
	ErrTransportClosed = errors.New("signaling transport closed")
	ErrQueueFull       = errors.New("signaling send queue full")
)

// Transport delivers envelopes between the peers of one room.
//
// Send is fire-and-forget: it enqueues and returns without waiting for
// delivery. Envelopes sent back-to-back by one caller are delivered in order.
// OnEnvelope handlers receive envelopes addressed to the room, excluding the
// sender's own echoes. The returned cancel func unregisters the handler.
type Transport interface {
	Send(env Envelope) error
	OnEnvelope(fn func(Envelope)) (cancel func())
	Close() error
}

// handlers is a small registry of envelope callbacks shared by the
// Transport implementations.
type handlers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(Envelope)
}

func (h *handlers) add(fn func(Envelope)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(Envelope))
	}
	id := h.next
	h.next++
	h.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.fns, id)
			h.mu.Unlock()
		})
	}
}

func (h *handlers) dispatch(env Envelope) {
	h.mu.RLock()
	fns := make([]func(Envelope), 0, len(h.fns))
	for id := 0; id < h.next; id++ {
		if fn, ok := h.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}

func (h *handlers) clear() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}
