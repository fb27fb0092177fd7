// Package nats implements the agent bridge port using NATS.
// Session event streams ride on JetStream so a reconnecting consumer
// picks up where it left off; control traffic (prompts, permission
// replies) and the todo query use core NATS.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/agentbridge"
)

const streamName = "CELLBOX"

// Subject patterns for the agent runtime bridge.
const (
	subjectEvents     = "sessions.events."  // + session id: runtime -> control plane push stream
	subjectPrompt     = "sessions.prompt."  // + session id: control plane -> runtime
	subjectPermission = "sessions.perm."    // + session id: permission decisions
	subjectTodos      = "sessions.todos."   // + session id: request/reply task list query
)

// todoRequestTimeout bounds the synchronous todo query.
const todoRequestTimeout = 5 * time.Second

// Bridge implements agentbridge.Bridge over NATS.
type Bridge struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a NATS connection and ensures the session stream exists.
func Connect(ctx context.Context, url string) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"sessions.events.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Bridge{nc: nc, js: js}, nil
}

// Subscribe attaches handler to a session's event stream. Events are
// delivered one at a time in stream order; a handler error naks the
// message for redelivery so the projection never skips an event.
func (b *Bridge) Subscribe(ctx context.Context, sessionID string, handler agentbridge.Handler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subjectEvents + sessionID,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: 1, // strict per-session ordering, one in-flight event
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev session.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Error("session event unmarshal failed", "session", sessionID, "error", err)
			_ = msg.Term()
			return
		}
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		if err := handler(ctx, ev); err != nil {
			slog.Error("session event handler failed", "session", sessionID, "type", ev.Type, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// SendPrompt delivers a user-authored prompt to the session's runtime.
func (b *Bridge) SendPrompt(ctx context.Context, sessionID, text string) error {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	if err := b.nc.Publish(subjectPrompt+sessionID, data); err != nil {
		return fmt.Errorf("publish prompt: %w", err)
	}
	return nil
}

// ReplyPermission forwards a permission decision upstream.
func (b *Bridge) ReplyPermission(ctx context.Context, sessionID, permissionID string, reply session.PermissionReply) error {
	data, err := json.Marshal(map[string]string{
		"permission_id": permissionID,
		"reply":         string(reply),
	})
	if err != nil {
		return fmt.Errorf("marshal permission reply: %w", err)
	}
	if err := b.nc.Publish(subjectPermission+sessionID, data); err != nil {
		return fmt.Errorf("publish permission reply: %w", err)
	}
	return nil
}

// Todos fetches the session's declared task list via request/reply.
func (b *Bridge) Todos(ctx context.Context, sessionID string) ([]session.TodoItem, error) {
	reqCtx, cancel := context.WithTimeout(ctx, todoRequestTimeout)
	defer cancel()

	msg, err := b.nc.RequestWithContext(reqCtx, subjectTodos+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("todo request for %s: %w", sessionID, err)
	}

	var todos []session.TodoItem
	if err := json.Unmarshal(msg.Data, &todos); err != nil {
		return nil, fmt.Errorf("todo unmarshal for %s: %w", sessionID, err)
	}
	return todos, nil
}

// IsConnected reports whether the NATS connection is up.
func (b *Bridge) IsConnected() bool { return b.nc.IsConnected() }

// Drain gracefully drains subscriptions before closing.
func (b *Bridge) Drain() error { return b.nc.Drain() }

// Close shuts down the NATS connection immediately.
func (b *Bridge) Close() error {
	b.nc.Close()
	return nil
}
