package sessions

import (
	"context"
	"sync"
	"time"
)

// Record is the persisted state of one session. Replay buffers are not part
// of the record; they are process-local (see MessageBuffer).
type Record struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store holds session records. Implementations must be safe for concurrent
// use. The Registry owns all lifecycle policy (expiry evaluation, deletion
// callbacks); stores only hold state.
type Store interface {
	// Put inserts or replaces a record.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for id, if present.
	Get(ctx context.Context, id string) (Record, bool, error)

	// Touch refreshes the record's last-activity time.
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes the record and reports whether it was present. The
	// exactly-once contract of the deletion callback rests on this report.
	Delete(ctx context.Context, id string) (bool, error)

	// NextEventID increments and returns the session's private event
	// counter. The counter is dense per session and distinct from the
	// process-wide event id generator.
	NextEventID(ctx context.Context, id string) (int64, error)

	// List returns a snapshot of all records.
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore is the default single-node Store.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]Record
	counters map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Record),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrSessionNotFound
	}
	rec.LastActivity = at
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	if ok {
		delete(s.records, id)
		delete(s.counters, id)
	}
	return ok, nil
}

func (s *MemoryStore) NextEventID(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return 0, ErrSessionNotFound
	}
	s.counters[id]++
	return s.counters[id], nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}
