// Package streaminghttp binds the engine to HTTP: POST for
// request/response exchanges and GET for a resumable server-sent-event
// stream. Reconnecting clients present the Last-Event-ID header and missed
// notifications are replayed from the session's buffer before the stream
// goes live.
package streaminghttp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/internal/jsonrpc"
	"github.com/mcplane/mcplane-go/internal/logctx"
	"github.com/mcplane/mcplane-go/mcp"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	lastEventIDHeader  = "Last-Event-ID"
	mcpSessionIDHeader = "Mcp-Session-Id"

	transportName = "streaming-http"

	// SSE can push server-to-client but the request leg is plain HTTP, so
	// the binding offers text streaming without full duplex.
	transportCaps = mcp.CapStandard | mcp.CapTextStreaming

	defaultPingInterval = 25 * time.Second
	defaultMaxBodyBytes = 4 << 20
)

// Config is the environment-driven configuration for the handler.
type Config struct {
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES,default=4194304"`
	PingInterval time.Duration `env:"HTTP_PING_INTERVAL,default=25s"`
}

// NewHandlerFromEnv builds a handler configured from the environment.
func NewHandlerFromEnv(eng *engine.Engine, opts ...Option) (*Handler, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode streaminghttp config: %w", err)
	}
	opts = append([]Option{
		WithMaxBodyBytes(cfg.MaxBodyBytes),
		WithPingInterval(cfg.PingInterval),
	}, opts...)
	return NewHandler(eng, opts...), nil
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

// WithPingInterval sets how often keepalive comments are written on open
// event streams. Defaults to 25s.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithMaxBodyBytes caps the size of accepted POST bodies. Defaults to 4 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// Handler serves one engine over HTTP. Route it at a single path:
//
//	mux.Handle("/mcp", streaminghttp.NewHandler(eng))
type Handler struct {
	eng          *engine.Engine
	log          *slog.Logger
	pingInterval time.Duration
	maxBody      int64
}

// NewHandler builds an HTTP binding for the engine.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng:          eng,
		log:          slog.Default(),
		pingInterval: defaultPingInterval,
		maxBody:      defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Transport:  transportName,
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handlePost runs one request/response exchange. The first exchange of a
// session is an initialize request with no session header; the minted
// session id is returned in the Mcp-Session-Id response header.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		h.log.WarnContext(ctx, "body.read.fail", slog.Any("error", err))
		return
	}
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		writeJSONError(w, http.StatusBadRequest, "batch messages are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.rejected")
		return
	}

	sessionID := r.Header.Get(mcpSessionIDHeader)
	if sessionID != "" {
		if !h.eng.Sessions().ValidateSession(ctx, sessionID) {
			writeSessionNotFound(w)
			h.log.InfoContext(ctx, "session.miss", slog.String("session_id", sessionID))
			return
		}
		ctx = logctx.WithSessionID(ctx, sessionID)
	}

	res := h.eng.Dispatch(ctx, raw, engine.Transport{
		Name:         transportName,
		Capabilities: transportCaps,
		SessionID:    sessionID,
	})

	if res.NewSessionID != "" {
		w.Header().Set(mcpSessionIDHeader, res.NewSessionID)
	}

	if res.Response == nil {
		// Notification: accepted, nothing to say.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	body, err := res.Response.Encode()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		h.log.ErrorContext(ctx, "response.encode.fail", slog.Any("error", err))
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.log.WarnContext(ctx, "response.write.fail", slog.Any("error", err))
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet opens the resumable event stream for a session: replay what the
// Last-Event-ID header says was missed, then stay attached for live pushes
// until the client goes away.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "accept.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	sessionID := r.Header.Get(mcpSessionIDHeader)
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	if !h.eng.Sessions().ValidateSession(ctx, sessionID) {
		writeSessionNotFound(w)
		h.log.InfoContext(ctx, "session.miss", slog.String("session_id", sessionID))
		return
	}
	ctx = logctx.WithSessionID(ctx, sessionID)

	lastEventID := r.Header.Get(lastEventIDHeader)

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{w: w, f: f, ctx: ctx}
	wf.Flush()
	sink := &sseSink{wf: wf}

	// Replay before going live so a reconnecting client observes its missed
	// notifications in original order.
	if buf, ok := h.eng.Sessions().Buffer(sessionID); ok {
		for _, msg := range buf.MessagesAfter(lastEventID) {
			if err := sink.WriteEvent(ctx, msg.EventID, "message", msg.Payload); err != nil {
				h.log.WarnContext(ctx, "sse.replay.fail", slog.Any("error", err))
				return
			}
		}
	}

	handle := h.eng.Streams().Register(ctx, sessionID, sink)
	defer h.eng.Streams().Unregister(handle)

	h.log.InfoContext(ctx, "sse.stream.start",
		slog.String("last_event_id", lastEventID))

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case <-ticker.C:
			if err := wf.WriteString(": ping\n\n"); err != nil {
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			}
			wf.Flush()
		}
	}
}

// handleDelete terminates a session explicitly.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.Header.Get(mcpSessionIDHeader)
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		return
	}
	if !h.eng.Sessions().DeleteSession(ctx, sessionID) {
		writeSessionNotFound(w)
		h.log.InfoContext(ctx, "session.delete.miss", slog.String("session_id", sessionID))
		return
	}
	h.log.InfoContext(ctx, "session.delete.ok", slog.String("session_id", sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// writeSessionNotFound reports an unknown or expired session as 404 with a
// -32001 error envelope so clients can distinguish it from routing errors
// and re-initialize.
func writeSessionNotFound(w http.ResponseWriter) {
	env := jsonrpc.NewErrorResponse(nil,
		jsonrpc.NewError(jsonrpc.ErrorCodeSessionNotFound, "session not found"))
	body, err := env.Encode()
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(body)
}

// writeJSONError emits a transport-level rejection before any JSON-RPC
// exchange is possible. The shape is deliberately not a JSON-RPC envelope.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}
