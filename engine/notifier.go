package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcplane/mcplane-go/internal/eventid"
	"github.com/mcplane/mcplane-go/internal/jsonrpc"
	"github.com/mcplane/mcplane-go/mcp"
	"github.com/mcplane/mcplane-go/sessions"
	"github.com/mcplane/mcplane-go/streams"
	"github.com/mcplane/mcplane-go/subscriptions"
)

// Notification is one server-initiated push message. When ResourceURI is
// set, only sessions subscribed to that URI receive it; otherwise it goes to
// every session with at least one open stream.
type Notification struct {
	Method      mcp.Method
	Params      any
	ResourceURI string
}

// Notifier decides recipients, stamps event ids, records messages for
// replay, and delivers them to open streams. Delivery is best-effort: a
// session with no open stream still gets the message buffered so a client
// that reconnects can catch up, but there is no acknowledgement or retry.
type Notifier struct {
	sessions *sessions.Registry
	subs     *subscriptions.Registry
	streams  *streams.Registry
	eventIDs *eventid.Generator
	log      *slog.Logger
}

// Send fans the notification out to its recipient set.
func (n *Notifier) Send(ctx context.Context, note Notification) error {
	env, err := jsonrpc.NewNotification(string(note.Method), note.Params)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	var recipients []string
	if note.ResourceURI != "" {
		recipients = n.subs.SubscribedSessions(note.ResourceURI)
	} else {
		recipients = n.streams.SessionsWithStreams()
	}

	for _, sessionID := range recipients {
		n.deliver(ctx, sessionID, payload)
	}
	return nil
}

// SendToSession delivers a notification to exactly one session, regardless
// of its subscriptions.
func (n *Notifier) SendToSession(ctx context.Context, sessionID string, note Notification) error {
	env, err := jsonrpc.NewNotification(string(note.Method), note.Params)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	n.deliver(ctx, sessionID, payload)
	return nil
}

func (n *Notifier) deliver(ctx context.Context, sessionID string, payload []byte) {
	eventID := n.eventIDs.GenerateScoped(sessionID)

	// Record first so a client that reconnects between now and the live
	// write still sees the message on replay.
	if buf, ok := n.sessions.Buffer(sessionID); ok {
		if err := buf.Add(eventID, payload); err != nil {
			n.log.WarnContext(ctx, "buffer notification failed",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
	}

	n.streams.Broadcast(ctx, sessionID, eventID, "message", payload)
}
