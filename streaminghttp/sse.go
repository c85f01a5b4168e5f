package streaminghttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// lockedWriteFlusher serializes writes and flushes on one response writer
// and refuses to write once the request context has fired. Replay, live
// broadcasts and keepalive pings all funnel through it.
type lockedWriteFlusher struct {
	w   io.Writer
	f   http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ctx.Err(); err != nil {
		return 0, err
	}
	return l.w.Write(p)
}

func (l *lockedWriteFlusher) WriteString(s string) error {
	_, err := l.Write([]byte(s))
	return err
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}
	l.f.Flush()
}

// sseSink frames engine events as server-sent events:
//
//	id: <event id>
//	event: <event name>
//	data: <payload>
//	<blank line>
type sseSink struct {
	wf *lockedWriteFlusher
}

func (s *sseSink) WriteEvent(ctx context.Context, eventID string, event string, data []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(s.wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("write sse id: %w", err)
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.wf, "event: %s\n", event); err != nil {
			return fmt.Errorf("write sse event name: %w", err)
		}
	}
	if _, err := s.wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write sse data prefix: %w", err)
	}
	if _, err := s.wf.Write(data); err != nil {
		return fmt.Errorf("write sse payload: %w", err)
	}
	if _, err := s.wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write sse terminator: %w", err)
	}
	s.wf.Flush()
	return nil
}
