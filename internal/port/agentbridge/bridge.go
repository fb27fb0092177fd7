// Package agentbridge defines the port to the external agent runtime.
// The bridge pushes per-session event streams to the control plane and
// accepts prompts and permission replies going the other way.
package agentbridge

import (
	"context"

	"github.com/cellbox-dev/cellbox/internal/domain/session"
)

// Handler processes one event from a session's push stream. Events for
// one session are delivered strictly in arrival order, at most one
// in-flight at a time.
type Handler func(ctx context.Context, ev session.Event) error

// Bridge is the port interface for the agent runtime connection.
type Bridge interface {
	// Subscribe attaches a handler to a session's event stream. The
	// bridge owns reconnection; after a transport drop it re-delivers a
	// full history event on the same subscription. The returned
	// function cancels the subscription.
	Subscribe(ctx context.Context, sessionID string, handler Handler) (cancel func(), err error)

	// SendPrompt delivers a user-authored prompt to the session.
	SendPrompt(ctx context.Context, sessionID, text string) error

	// ReplyPermission forwards a permission decision upstream.
	ReplyPermission(ctx context.Context, sessionID, permissionID string, reply session.PermissionReply) error

	// Todos fetches the session's current declared task list.
	Todos(ctx context.Context, sessionID string) ([]session.TodoItem, error)
}
