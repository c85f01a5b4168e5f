package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is the sliding inactivity window after which a
// session expires.
const DefaultSessionTimeout = 30 * time.Minute

// ErrSessionNotFound indicates an unknown or already-expired session id.
// Transports translate it to a protocol-level error at their boundary; it is
// never surfaced as a JSON-RPC error by this package itself.
var ErrSessionNotFound = errors.New("session not found or expired")

// DeletedCallback observes session removal. It fires exactly once per
// session, synchronously, from whichever path removed it: explicit deletion,
// validate-triggered expiry, or the periodic sweep. It is the mechanism by
// which subscription and stream state scoped to the session is released;
// the registry never reaches into those components directly.
type DeletedCallback func(sessionID string)

// Registry tracks client sessions with sliding expiry. Safe for concurrent
// use.
type Registry struct {
	store   Store
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	cbMu      sync.RWMutex
	onDeleted DeletedCallback

	bufMu      sync.Mutex
	buffers    map[string]*MessageBuffer
	bufferSize int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore replaces the default in-memory record store.
func WithStore(s Store) RegistryOption {
	return func(r *Registry) {
		if s != nil {
			r.store = s
		}
	}
}

// WithTimeout overrides the sliding inactivity timeout.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBufferCapacity sets the per-session replay buffer capacity.
func WithBufferCapacity(n int) RegistryOption {
	return func(r *Registry) { r.bufferSize = n }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry with the default in-memory store.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		store:      NewMemoryStore(),
		timeout:    DefaultSessionTimeout,
		log:        slog.Default(),
		now:        time.Now,
		buffers:    make(map[string]*MessageBuffer),
		bufferSize: DefaultBufferCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnSessionDeleted registers the deletion callback. Only one callback is
// held; registering again replaces it.
func (r *Registry) OnSessionDeleted(cb DeletedCallback) {
	r.cbMu.Lock()
	r.onDeleted = cb
	r.cbMu.Unlock()
}

// CreateSession mints a fresh session token and stores a new record. The
// token is 32 lowercase hex digits.
func (r *Registry) CreateSession(ctx context.Context) (string, error) {
	id := newSessionID()
	now := r.now()
	if err := r.store.Put(ctx, Record{ID: id, CreatedAt: now, LastActivity: now}); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	r.bufMu.Lock()
	r.buffers[id] = NewMessageBuffer(r.bufferSize)
	r.bufMu.Unlock()

	r.log.DebugContext(ctx, "session created", slog.String("session_id", id))
	return id, nil
}

// ValidateSession reports whether id names a live session. A session past
// its inactivity window is evicted (firing the deletion callback) and
// reported invalid. A live session has its activity refreshed, so expiry
// is sliding: idle sessions lapse, busy ones never do.
func (r *Registry) ValidateSession(ctx context.Context, id string) bool {
	rec, ok, err := r.store.Get(ctx, id)
	if err != nil {
		r.log.ErrorContext(ctx, "session lookup failed", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}

	now := r.now()
	if now.Sub(rec.LastActivity) > r.timeout {
		r.remove(ctx, id, "expired")
		return false
	}

	if err := r.store.Touch(ctx, id, now); err != nil && !errors.Is(err, ErrSessionNotFound) {
		r.log.WarnContext(ctx, "session touch failed", slog.String("session_id", id), slog.Any("error", err))
	}
	return true
}

// GetSession returns the record for a live session without refreshing its
// activity.
func (r *Registry) GetSession(ctx context.Context, id string) (Record, bool) {
	rec, ok, err := r.store.Get(ctx, id)
	if err != nil || !ok {
		return Record{}, false
	}
	return rec, true
}

// DeleteSession removes a session explicitly. The deletion callback fires on
// this path just as it does on expiry; callers must not assume it only
// fires on timeout.
func (r *Registry) DeleteSession(ctx context.Context, id string) bool {
	return r.remove(ctx, id, "deleted")
}

// NextEventID atomically increments the session's private event counter.
// This is a distinct id space from the process-wide event id generator.
func (r *Registry) NextEventID(ctx context.Context, id string) (int64, error) {
	n, err := r.store.NextEventID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("session %s: %w", id, err)
	}
	return n, nil
}

// Buffer returns the session's replay buffer, if the session is known to
// this process.
func (r *Registry) Buffer(id string) (*MessageBuffer, bool) {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	b, ok := r.buffers[id]
	return b, ok
}

// CleanupExpiredSessions evaluates the expiry predicate for every session,
// removing lapsed ones, and returns the removed count. Safe to run
// concurrently with live validation and creation.
func (r *Registry) CleanupExpiredSessions(ctx context.Context) int {
	recs, err := r.store.List(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "session sweep failed", slog.Any("error", err))
		return 0
	}

	now := r.now()
	removed := 0
	for _, rec := range recs {
		if now.Sub(rec.LastActivity) > r.timeout {
			if r.remove(ctx, rec.ID, "swept") {
				removed++
			}
		}
	}
	return removed
}

// StartSweeper runs CleanupExpiredSessions on a ticker until ctx is
// cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.timeout / 2
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := r.CleanupExpiredSessions(ctx); n > 0 {
					r.log.DebugContext(ctx, "expired sessions swept", slog.Int("count", n))
				}
			}
		}
	}()
}

// remove deletes the record, drops the buffer, and fires the callback if the
// record was actually present. Delete's presence report keeps the callback
// exactly-once even when expiry and explicit deletion race.
func (r *Registry) remove(ctx context.Context, id string, reason string) bool {
	ok, err := r.store.Delete(ctx, id)
	if err != nil {
		r.log.ErrorContext(ctx, "session delete failed", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}

	r.bufMu.Lock()
	delete(r.buffers, id)
	r.bufMu.Unlock()

	r.log.DebugContext(ctx, "session removed",
		slog.String("session_id", id), slog.String("reason", reason))

	r.cbMu.RLock()
	cb := r.onDeleted
	r.cbMu.RUnlock()
	if cb != nil {
		cb(id)
	}
	return true
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
