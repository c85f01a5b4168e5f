// Package stdio implements a single-connection transport over an
// io.Reader/io.Writer pair, newline-delimited JSON both ways. It is meant
// for embedding the server as a subprocess: one process, one client, one
// implicit session created at startup.
//
// For multi-client deployments, replay on reconnect, or horizontal scaling
// prefer the streaming HTTP transport.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/internal/logctx"
	"github.com/mcplane/mcplane-go/mcp"
)

const transportName = "stdio"

// The pipe is private to one client and both directions stream freely.
const transportCaps = mcp.CapStandard | mcp.CapTextStreaming | mcp.CapBinaryStreaming | mcp.CapRequiresFullDuplex

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer. Defaults to os.Stdin and os.Stdout.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger. Log output must not share the message
// writer; it defaults to slog.Default(), which writes to stderr.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMaxLineBytes caps the size of a single inbound line. Defaults to 4MiB.
func WithMaxLineBytes(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxLine = n
		}
	}
}

// Handler runs the engine over a local pipe.
type Handler struct {
	eng     *engine.Engine
	r       io.Reader
	w       io.Writer
	log     *slog.Logger
	maxLine int

	writeMu sync.Mutex
}

// NewHandler builds a stdio binding for the engine.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng:     eng,
		r:       os.Stdin,
		w:       os.Stdout,
		log:     slog.Default(),
		maxLine: 4 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	return h
}

// Serve reads newline-delimited messages until EOF or context
// cancellation. The implicit session is created before the first read and
// deleted on the way out, releasing its subscriptions and buffer.
func (h *Handler) Serve(ctx context.Context) error {
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{Transport: transportName})

	sessionID, err := h.eng.Sessions().CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	ctx = logctx.WithSessionID(ctx, sessionID)
	defer h.eng.Sessions().DeleteSession(context.WithoutCancel(ctx), sessionID)

	handle := h.eng.Streams().Register(ctx, sessionID, sink{h})
	defer h.eng.Streams().Unregister(handle)

	h.log.InfoContext(ctx, "stdio.serve.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 64*1024), h.maxLine)
		for sc.Scan() {
			line := make([]byte, len(sc.Bytes()))
			copy(line, sc.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "stdio.serve.stop")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				h.log.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}

			res := h.eng.Dispatch(ctx, line, engine.Transport{
				Name:         transportName,
				Capabilities: transportCaps,
				SessionID:    sessionID,
			})
			if res.Response == nil {
				continue
			}
			b, err := res.Response.Encode()
			if err != nil {
				h.log.ErrorContext(ctx, "stdio.response.encode.fail", slog.Any("error", err))
				continue
			}
			if err := h.writeLine(b); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

// writeLine serializes writes so a push notification can never interleave
// with a response mid-line.
func (h *Handler) writeLine(b []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		return err
	}
	_, err := h.w.Write([]byte{'\n'})
	return err
}

// sink delivers engine push notifications as output lines. Event ids have
// no framing slot here; a stdio client cannot resume anyway.
type sink struct {
	h *Handler
}

func (s sink) WriteEvent(ctx context.Context, _ string, _ string, data []byte) error {
	return s.h.writeLine(data)
}
