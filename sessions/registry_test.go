package sessions

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCreateSessionTokenShape(t *testing.T) {
	r := NewRegistry()
	id, err := r.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(id) {
		t.Errorf("session id %q is not 32 lowercase hex digits", id)
	}
}

func TestValidateSessionSlidingExpiry(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithTimeout(10*time.Minute), withClock(clock.Now))
	ctx := context.Background()

	id, err := r.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Touch the session every 8 minutes; it must stay alive indefinitely.
	for i := 0; i < 5; i++ {
		clock.Advance(8 * time.Minute)
		if !r.ValidateSession(ctx, id) {
			t.Fatalf("session expired despite activity every 8m (iteration %d)", i)
		}
	}

	// Now go idle past the window.
	clock.Advance(10*time.Minute + time.Second)
	if r.ValidateSession(ctx, id) {
		t.Error("session still valid after exceeding idle timeout")
	}
	if r.ValidateSession(ctx, id) {
		t.Error("expired session must stay invalid")
	}
}

func TestValidateSessionUnknownID(t *testing.T) {
	r := NewRegistry()
	if r.ValidateSession(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef") {
		t.Error("unknown session id validated")
	}
}

func TestDeletionCallbackFiresExactlyOnce(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	var mu sync.Mutex
	fired := map[string]int{}
	r.OnSessionDeleted(func(id string) {
		mu.Lock()
		fired[id]++
		mu.Unlock()
	})

	id, _ := r.CreateSession(ctx)
	if !r.DeleteSession(ctx, id) {
		t.Fatal("DeleteSession returned false for a live session")
	}
	if r.DeleteSession(ctx, id) {
		t.Error("second DeleteSession returned true")
	}

	mu.Lock()
	defer mu.Unlock()
	if fired[id] != 1 {
		t.Errorf("deletion callback fired %d times, want exactly 1", fired[id])
	}
}

func TestExpiryPathFiresCallback(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithTimeout(time.Minute), withClock(clock.Now))
	ctx := context.Background()

	var fired []string
	var mu sync.Mutex
	r.OnSessionDeleted(func(id string) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	})

	id, _ := r.CreateSession(ctx)
	clock.Advance(2 * time.Minute)
	r.ValidateSession(ctx, id)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != id {
		t.Errorf("callback invocations = %v, want exactly [%s]", fired, id)
	}
}

func TestNextEventIDDensePerSession(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	a, _ := r.CreateSession(ctx)
	b, _ := r.CreateSession(ctx)

	for i := int64(1); i <= 3; i++ {
		n, err := r.NextEventID(ctx, a)
		if err != nil {
			t.Fatalf("NextEventID(a): %v", err)
		}
		if n != i {
			t.Errorf("session a counter = %d, want %d", n, i)
		}
	}

	n, err := r.NextEventID(ctx, b)
	if err != nil {
		t.Fatalf("NextEventID(b): %v", err)
	}
	if n != 1 {
		t.Errorf("session b counter = %d, want 1 (counters are per session)", n)
	}

	if _, err := r.NextEventID(ctx, "unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("NextEventID(unknown) err = %v, want ErrSessionNotFound", err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithTimeout(time.Minute), withClock(clock.Now))
	ctx := context.Background()

	stale1, _ := r.CreateSession(ctx)
	stale2, _ := r.CreateSession(ctx)
	clock.Advance(2 * time.Minute)
	fresh, _ := r.CreateSession(ctx)

	if n := r.CleanupExpiredSessions(ctx); n != 2 {
		t.Errorf("CleanupExpiredSessions removed %d, want 2", n)
	}
	if r.ValidateSession(ctx, stale1) || r.ValidateSession(ctx, stale2) {
		t.Error("stale sessions survived the sweep")
	}
	if !r.ValidateSession(ctx, fresh) {
		t.Error("fresh session removed by the sweep")
	}
}

func TestSweepConcurrentWithValidation(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithTimeout(time.Minute), withClock(clock.Now))
	ctx := context.Background()

	ids := make([]string, 50)
	for i := range ids {
		ids[i], _ = r.CreateSession(ctx)
	}
	clock.Advance(90 * time.Second)

	var g errgroup.Group
	g.Go(func() error {
		r.CleanupExpiredSessions(ctx)
		return nil
	})
	for _, id := range ids {
		g.Go(func() error {
			r.ValidateSession(ctx, id)
			return nil
		})
	}
	g.Go(func() error {
		_, err := r.CreateSession(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent sweep/validate/create: %v", err)
	}

	for _, id := range ids {
		if _, ok := r.GetSession(ctx, id); ok {
			t.Errorf("expired session %s survived concurrent sweep", id)
		}
	}
}

func TestBufferLifecycleFollowsSession(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	id, _ := r.CreateSession(ctx)
	buf, ok := r.Buffer(id)
	if !ok {
		t.Fatal("no buffer for live session")
	}
	if err := buf.Add("1", []byte("x")); err != nil {
		t.Fatalf("buffer Add: %v", err)
	}

	r.DeleteSession(ctx, id)
	if _, ok := r.Buffer(id); ok {
		t.Error("buffer survived session deletion")
	}
}
