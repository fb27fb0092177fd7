// Package session defines the agent work session model: the session
// itself, its message/part projection, and pending permission requests.
package session

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an agent session.
type Status string

const (
	StatusStarting      Status = "starting"
	StatusWorking       Status = "working"
	StatusAwaitingInput Status = "awaiting_input"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

// Session is one AI-agent work session bound to a cell.
type Session struct {
	ID        string    `json:"id"`
	CellID    string    `json:"cell_id"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageState is derived from a message's role, error and timing;
// it is never stored.
type MessageState string

const (
	StateStreaming MessageState = "streaming"
	StateCompleted MessageState = "completed"
	StateError     MessageState = "error"
)

// PartType classifies a message part.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartTool      PartType = "tool"
	PartFile      PartType = "file"
)

// Part is a fragment of a message. Text parts can grow incrementally
// through deltas while the agent streams.
type Part struct {
	ID        string   `json:"id"`
	MessageID string   `json:"message_id"`
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	ToolState string   `json:"tool_state,omitempty"`
}

// Message is one conversation entry. Content is always recomputed from
// Parts (newline-joined text of text/reasoning parts, in part order)
// and never stored independently.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitzero"`
	Parts       []Part       `json:"parts"`
	Content     string       `json:"content"`
	State       MessageState `json:"state"`
}

// Clone returns a copy with its own Parts slice, safe to hand out
// while the live projection keeps mutating parts in place.
func (m *Message) Clone() Message {
	c := *m
	c.Parts = make([]Part, len(m.Parts))
	copy(c.Parts, m.Parts)
	return c
}

// RecomputeContent rebuilds Content from the text and reasoning parts
// in part order, then refreshes the derived State.
func (m *Message) RecomputeContent() {
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText || p.Type == PartReasoning {
			texts = append(texts, p.Text)
		}
	}
	m.Content = strings.Join(texts, "\n")
	m.State = m.deriveState()
}

// deriveState returns error for a failed assistant message, streaming
// for an assistant message still being produced, completed otherwise.
func (m *Message) deriveState() MessageState {
	if m.Role == RoleAssistant {
		if m.Error != "" {
			return StateError
		}
		if m.CompletedAt.IsZero() {
			return StateStreaming
		}
	}
	return StateCompleted
}

// PermissionRequest is an ephemeral approval request from the agent.
// It exists from the moment the agent asks until a reply is recorded
// and is never persisted as conversation content.
type PermissionRequest struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Title     string            `json:"title"`
	Type      string            `json:"type"`
	Pattern   string            `json:"pattern,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PermissionReply is the user's decision on a permission request.
type PermissionReply string

const (
	ReplyOnce   PermissionReply = "once"
	ReplyAlways PermissionReply = "always"
	ReplyReject PermissionReply = "reject"
)
