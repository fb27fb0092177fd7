package session

// Event type constants for the per-session push stream from the agent
// runtime bridge. history is always the first event of a connection
// and may arrive again at any time after a transport reconnect.
const (
	EventHistory           = "history"
	EventMessageUpdated    = "message.updated"
	EventPartUpdated       = "message.part.updated"
	EventPartRemoved       = "message.part.removed"
	EventStatus            = "status"
	EventPermissionUpdated = "permission.updated"
	EventPermissionReplied = "permission.replied"
)

// Event is the envelope for all stream events. Only the fields
// relevant to Type are populated.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	// history
	Messages []Message `json:"messages,omitempty"`

	// message.updated: identity, role, timing and error info only;
	// the text lives in part events.
	Message *Message `json:"message,omitempty"`

	// message.part.updated: Delta, when non-empty, is appended to the
	// stored part text; the Part.Text field may be stale in that case.
	Part  *Part  `json:"part,omitempty"`
	Delta string `json:"delta,omitempty"`

	// message.part.removed
	MessageID string `json:"message_id,omitempty"`
	PartID    string `json:"part_id,omitempty"`

	// status
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// permission.updated / permission.replied
	Permission   *PermissionRequest `json:"permission,omitempty"`
	PermissionID string             `json:"permission_id,omitempty"`
}
