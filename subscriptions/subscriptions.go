// Package subscriptions tracks which sessions have registered interest in
// which resource URIs. The notification dispatcher consults it to compute
// recipient sets for resource-targeted push notifications.
package subscriptions

import "sync"

// Registry is a per-session set of subscribed resource URIs. Safe for
// concurrent use; the internal lock is held only for map mutation, never
// across I/O.
type Registry struct {
	mu sync.RWMutex
	// sessionID -> set of resource URIs
	bySession map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bySession: make(map[string]map[string]struct{})}
}

// Subscribe registers interest. It is idempotent and reports whether the
// subscription was newly added.
func (r *Registry) Subscribe(sessionID, uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySession[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.bySession[sessionID] = set
	}
	if _, exists := set[uri]; exists {
		return false
	}
	set[uri] = struct{}{}
	return true
}

// Unsubscribe removes interest. It never fails; it reports whether a
// subscription was actually removed.
func (r *Registry) Unsubscribe(sessionID, uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	if _, exists := set[uri]; !exists {
		return false
	}
	delete(set, uri)
	if len(set) == 0 {
		delete(r.bySession, sessionID)
	}
	return true
}

// IsSubscribed reports whether the session is subscribed to the URI.
func (r *Registry) IsSubscribed(sessionID, uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySession[sessionID][uri]
	return ok
}

// ClearSession removes every subscription belonging to the session and
// returns the removed count. It is wired to the session registry's deletion
// callback.
func (r *Registry) ClearSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.bySession[sessionID])
	delete(r.bySession, sessionID)
	return n
}

// SubscribedSessions returns a point-in-time snapshot of the sessions
// subscribed to the URI, safe to iterate without holding any lock.
func (r *Registry) SubscribedSessions(uri string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for sessionID, set := range r.bySession {
		if _, ok := set[uri]; ok {
			out = append(out, sessionID)
		}
	}
	return out
}
