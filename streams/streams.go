// Package streams tracks the currently-open push channels (SSE connections,
// WebSocket writers, stdio pipes) per session and delivers live events to
// them.
//
// The one concurrency invariant transports rely on: Broadcast snapshots a
// session's handles outside the registry lock, performs writes with no lock
// held, then reaps handles that failed or whose context fired. A stalled
// client can therefore never block registration or unregistration by
// unrelated callers.
package streams

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sink is one writable push channel. WriteEvent delivers a single framed
// event; implementations own their framing (SSE lines, WebSocket frames,
// newline-delimited JSON).
type Sink interface {
	WriteEvent(ctx context.Context, eventID string, event string, data []byte) error
}

// Handle is one live stream for a session. A session may hold several
// concurrent handles (e.g. multiple tabs).
type Handle struct {
	id        string
	sessionID string
	sink      Sink
	ctx       context.Context
}

// SessionID returns the session this handle belongs to.
func (h *Handle) SessionID() string { return h.sessionID }

// Registry is the set of open push channels. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[string][]*Handle // sessionID -> open handles
	log     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for reaped-handle events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates an empty stream registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handles: make(map[string][]*Handle),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds a live handle for the session. The returned handle is used
// to unregister when the channel closes. ctx is the channel's cancellation
// signal; once it fires the handle is treated as dead on the next broadcast.
func (r *Registry) Register(ctx context.Context, sessionID string, sink Sink) *Handle {
	h := &Handle{
		id:        uuid.NewString(),
		sessionID: sessionID,
		sink:      sink,
		ctx:       ctx,
	}

	r.mu.Lock()
	r.handles[sessionID] = append(r.handles[sessionID], h)
	r.mu.Unlock()
	return h
}

// Unregister removes one handle. The session's entry disappears entirely
// once its handle list is empty.
func (r *Registry) Unregister(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(h)
}

func (r *Registry) removeLocked(h *Handle) {
	list := r.handles[h.sessionID]
	for i, other := range list {
		if other.id == h.id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.handles, h.sessionID)
	} else {
		r.handles[h.sessionID] = list
	}
}

// Broadcast delivers one event to every open handle of the session. Writes
// happen against a snapshot with no lock held; handles whose context has
// fired or whose write fails are marked dead and unregistered after the
// pass. Delivery is best-effort.
func (r *Registry) Broadcast(ctx context.Context, sessionID string, eventID string, event string, data []byte) {
	r.mu.RLock()
	snapshot := make([]*Handle, len(r.handles[sessionID]))
	copy(snapshot, r.handles[sessionID])
	r.mu.RUnlock()

	var dead []*Handle
	for _, h := range snapshot {
		if h.ctx.Err() != nil {
			dead = append(dead, h)
			continue
		}
		if err := h.sink.WriteEvent(ctx, eventID, event, data); err != nil {
			r.log.DebugContext(ctx, "stream write failed, reaping handle",
				slog.String("session_id", sessionID), slog.Any("error", err))
			dead = append(dead, h)
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, h := range dead {
			r.removeLocked(h)
		}
		r.mu.Unlock()
	}
}

// CleanupSession forcibly drops all handles for a session. Wired to the
// session registry's deletion callback.
func (r *Registry) CleanupSession(sessionID string) {
	r.mu.Lock()
	delete(r.handles, sessionID)
	r.mu.Unlock()
}

// HasStream reports whether the session has at least one open handle.
func (r *Registry) HasStream(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[sessionID]) > 0
}

// SessionsWithStreams returns a snapshot of every session id with at least
// one open handle. It is the recipient set for untargeted broadcasts.
func (r *Registry) SessionsWithStreams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handles))
	for sessionID := range r.handles {
		out = append(out, sessionID)
	}
	return out
}
