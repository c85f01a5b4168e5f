// Package wsduplex binds the engine to a full-duplex WebSocket endpoint.
// Every inbound frame is dispatched independently; responses and push
// notifications are multiplexed onto the same socket. The handler also
// retains an unconditional broadcast mode that writes to every attached
// socket, for clients that never establish a session.
package wsduplex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"golang.org/x/sync/errgroup"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/internal/jsonrpc"
	"github.com/mcplane/mcplane-go/internal/logctx"
	"github.com/mcplane/mcplane-go/mcp"
	"github.com/mcplane/mcplane-go/streams"
)

var _ http.Handler = (*Handler)(nil)

const (
	transportName = "websocket"

	// A socket pushes text and binary frames both ways concurrently.
	transportCaps = mcp.CapStandard | mcp.CapTextStreaming | mcp.CapBinaryStreaming | mcp.CapRequiresFullDuplex
)

// Config is the environment-driven configuration for the handler.
type Config struct {
	ReadLimit    int64         `env:"WS_READ_LIMIT,default=1048576"`
	PingInterval time.Duration `env:"WS_PING_INTERVAL,default=25s"`
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the handler logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithReadLimit caps the size of a single inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithPingInterval sets the interval between protocol-level pings used to
// detect dead peers.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// Handler serves one engine over WebSocket connections.
type Handler struct {
	eng          *engine.Engine
	log          *slog.Logger
	readLimit    int64
	pingInterval time.Duration

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewHandler builds a WebSocket binding for the engine.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng:          eng,
		readLimit:    1 << 20,
		pingInterval: 25 * time.Second,
		log:          slog.Default(),
		conns:        make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	return h
}

// NewHandlerFromEnv builds a handler configured from the environment, then
// applies any explicit options on top.
func NewHandlerFromEnv(eng *engine.Engine, opts ...Option) (*Handler, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode websocket config: %w", err)
	}
	merged := append([]Option{WithReadLimit(cfg.ReadLimit), WithPingInterval(cfg.PingInterval)}, opts...)
	return NewHandler(eng, merged...), nil
}

// conn is one attached socket with serialized writes.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WriteEvent implements the stream sink. Event ids are not representable in
// WebSocket framing; replay on this transport relies on reconnecting over
// the resumable HTTP stream instead.
func (c *conn) WriteEvent(ctx context.Context, _ string, _ string, data []byte) error {
	return c.write(ctx, data)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Transport:  transportName,
		RemoteAddr: r.RemoteAddr,
	})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		// Accept has already written the error response.
		h.log.WarnContext(ctx, "ws.accept.fail", slog.Any("error", err))
		return
	}
	ws.SetReadLimit(h.readLimit)

	c := &conn{ws: ws}
	h.track(c)
	defer h.untrack(c)

	h.log.InfoContext(ctx, "ws.conn.open")
	err = h.serve(ctx, c)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway ||
		ctx.Err() != nil {
		h.log.InfoContext(ctx, "ws.conn.close")
	} else if err != nil {
		h.log.WarnContext(ctx, "ws.conn.fail", slog.Any("error", err))
	}
	_ = ws.CloseNow()
}

// serve runs the read loop and keepalive pinger until either fails.
func (h *Handler) serve(ctx context.Context, c *conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sessionID string
	var handle *streams.Handle

	defer func() {
		if handle != nil {
			h.eng.Streams().Unregister(handle)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := c.ws.Ping(ctx); err != nil {
					return fmt.Errorf("ping: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := c.ws.Read(ctx)
			if err != nil {
				return err
			}

			dispatchCtx := ctx
			if sessionID != "" {
				dispatchCtx = logctx.WithSessionID(ctx, sessionID)
			}
			res := h.eng.Dispatch(dispatchCtx, data, engine.Transport{
				Name:         transportName,
				Capabilities: transportCaps,
				SessionID:    sessionID,
			})

			// The handshake binds this socket to its session: live pushes are
			// delivered on the same connection from here on.
			if res.NewSessionID != "" {
				sessionID = res.NewSessionID
				handle = h.eng.Streams().Register(ctx, sessionID, c)
			}

			if res.Response != nil {
				b, err := res.Response.Encode()
				if err != nil {
					h.log.ErrorContext(dispatchCtx, "ws.response.encode.fail", slog.Any("error", err))
					continue
				}
				if err := c.write(ctx, b); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			}
		}
	})

	return g.Wait()
}

// Broadcast writes a notification to every attached socket, session or not.
// This is the legacy delivery mode for clients that skip the handshake;
// messages sent this way carry no event id and are never replayable.
func (h *Handler) Broadcast(ctx context.Context, method mcp.Method, params any) error {
	env, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return fmt.Errorf("build broadcast: %w", err)
	}
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}

	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.write(ctx, payload); err != nil {
			h.log.WarnContext(ctx, "ws.broadcast.drop", slog.Any("error", err))
		}
	}
	return nil
}

// ConnCount reports the number of attached sockets.
func (h *Handler) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
