// Package engine is the transport-agnostic core of the server: it parses
// and validates JSON-RPC envelopes, routes them to built-in protocol
// methods or registered functions, and fans push notifications out to
// sessions by subscription.
//
// Transports stay thin: they move bytes, manage connection lifecycles, and
// carry the session token; every protocol decision happens here, once,
// shared across all of them.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcplane/mcplane-go/hooks"
	"github.com/mcplane/mcplane-go/internal/eventid"
	"github.com/mcplane/mcplane-go/mcp"
	"github.com/mcplane/mcplane-go/sessions"
	"github.com/mcplane/mcplane-go/streams"
	"github.com/mcplane/mcplane-go/subscriptions"
)

// Engine wires the session registry, subscription registry, stream registry
// and notification fan-out around the protocol dispatcher. One Engine is
// shared by every transport binding of a server.
type Engine struct {
	log        *slog.Logger
	serverInfo mcp.ImplementationInfo

	sessions *sessions.Registry
	subs     *subscriptions.Registry
	streams  *streams.Registry
	eventIDs *eventid.Generator
	notifier *Notifier

	tools     ToolCapability
	prompts   PromptCapability
	resources ResourceCapability
	functions FunctionRegistry
	observers []hooks.Observer

	pageSize      int
	sweepInterval time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo sets the implementation info returned by the handshake.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.serverInfo = info }
}

// WithSessionRegistry replaces the default in-memory session registry, e.g.
// to use a redis-backed store.
func WithSessionRegistry(r *sessions.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.sessions = r
		}
	}
}

// WithTools wires the tool surface of the function-registry collaborator.
func WithTools(t ToolCapability) Option {
	return func(e *Engine) { e.tools = t }
}

// WithPrompts wires the prompt surface of the collaborator.
func WithPrompts(p PromptCapability) Option {
	return func(e *Engine) { e.prompts = p }
}

// WithResources wires the resource surface of the collaborator.
func WithResources(r ResourceCapability) Option {
	return func(e *Engine) { e.resources = r }
}

// WithFunctions wires directly registered functions reached by exact method
// name after the built-in methods decline.
func WithFunctions(f FunctionRegistry) Option {
	return func(e *Engine) { e.functions = f }
}

// WithObservers appends lifecycle observers invoked around every registered
// function call, in order, with failure isolation.
func WithObservers(obs ...hooks.Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// WithPageSize overrides the default page size for list operations.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithSweepInterval overrides how often expired sessions are swept by Run.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// New creates an Engine. The session deletion callback is wired so that a
// session's subscriptions and open streams are released on every deletion
// path: explicit delete, validate-triggered expiry, and sweep.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:           slog.Default(),
		serverInfo:    mcp.ImplementationInfo{Name: "mcplane", Version: "0.1.0"},
		subs:          subscriptions.NewRegistry(),
		eventIDs:      eventid.NewGenerator(),
		pageSize:      100,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.sessions == nil {
		e.sessions = sessions.NewRegistry(sessions.WithLogger(e.log))
	}
	e.streams = streams.NewRegistry(streams.WithLogger(e.log))

	e.sessions.OnSessionDeleted(func(sessionID string) {
		n := e.subs.ClearSession(sessionID)
		e.streams.CleanupSession(sessionID)
		e.log.Debug("session state released",
			slog.String("session_id", sessionID), slog.Int("subscriptions", n))
	})

	e.notifier = &Notifier{
		sessions: e.sessions,
		subs:     e.subs,
		streams:  e.streams,
		eventIDs: e.eventIDs,
		log:      e.log,
	}
	return e
}

// Run starts the expiry sweeper and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.sessions.StartSweeper(ctx, e.sweepInterval)
	<-ctx.Done()
	return ctx.Err()
}

// Sessions exposes the session registry to transport bindings.
func (e *Engine) Sessions() *sessions.Registry { return e.sessions }

// Subscriptions exposes the subscription registry.
func (e *Engine) Subscriptions() *subscriptions.Registry { return e.subs }

// Streams exposes the stream registry to transport bindings.
func (e *Engine) Streams() *streams.Registry { return e.streams }

// Notifier exposes the notification dispatcher.
func (e *Engine) Notifier() *Notifier { return e.notifier }
