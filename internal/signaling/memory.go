package signaling

import (
	"log/slog"
	"sync"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// Hub is an in-process room: every MemoryTransport joined to it receives the
// envelopes the others send. It stands in for the relay in tests and local
// demos. Each member has its own delivery goroutine so a slow handler never
// reorders another member's stream.
type Hub struct {
	mu      sync.Mutex
	members map[*MemoryTransport]struct{}
}

// NewHub creates an empty in-process room.
func NewHub() *Hub {
	return &Hub{members: make(map[*MemoryTransport]struct{})}
}

// MemoryTransport is one member of a Hub.
type MemoryTransport struct {
	hub      *Hub
	userID   string
	handlers handlers
	logger   *slog.Logger

	inbox     chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

// Join adds a member identified by userID to the hub.
func (h *Hub) Join(userID string, logger *slog.Logger) *MemoryTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &MemoryTransport{
		hub:    h,
		userID: userID,
		logger: logger,
		inbox:  make(chan Envelope, 256),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	h.members[t] = struct{}{}
	h.mu.Unlock()

	go t.deliverLoop()
	return t
}

// Send fans env out to every other member of the hub.
func (t *MemoryTransport) Send(env Envelope) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	for member := range t.hub.members {
		if member == t || !env.IsFor(member.userID) {
			continue
		}
		select {
		case member.inbox <- env:
		default:
			t.logger.Warn("memory transport inbox full, dropping envelope",
				"from", env.FromUserID, "to", member.userID, "type", env.Type)
		}
	}
	return nil
}

// OnEnvelope registers fn for inbound envelopes.
func (t *MemoryTransport) OnEnvelope(fn func(Envelope)) func() {
	return t.handlers.add(fn)
}

func (t *MemoryTransport) deliverLoop() {
	for {
		select {
		case <-t.closed:
			return
		case env := <-t.inbox:
			t.handlers.dispatch(env)
		}
	}
}

// Close leaves the hub. Safe to call more than once, including from inside
// an envelope handler.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		t.hub.mu.Lock()
		delete(t.hub.members, t)
		t.hub.mu.Unlock()

		close(t.closed)
		t.handlers.clear()
	})
	return nil
}
