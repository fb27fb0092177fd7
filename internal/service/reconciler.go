package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cellbox-dev/cellbox/internal/adapter/ws"
	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/agentbridge"
	"github.com/cellbox-dev/cellbox/internal/port/broadcast"
	"github.com/cellbox-dev/cellbox/internal/port/database"
)

// SessionObserver receives session lifecycle notifications derived
// from the event stream. The continuation enforcer is the one
// consumer; observers must not block.
type SessionObserver interface {
	OnIdle(sessionID string)
	OnError(sessionID, errMsg string)
	OnMessage(sessionID string, role session.Role)
	OnDeleted(sessionID string)
}

// SessionReconciler owns the in-memory message/part/permission
// projection for every live session. Each projection is rebuilt from a
// full history snapshot on (re)connect and updated incrementally from
// the per-session push stream; events for one session are applied
// strictly in arrival order.
type SessionReconciler struct {
	store     database.Store
	bridge    agentbridge.Bridge
	hub       broadcast.Broadcaster
	observers []SessionObserver

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// sessionState is one session's projection. All fields behind mu.
type sessionState struct {
	mu sync.RWMutex

	id        string
	status    session.Status
	statusErr string

	messages    map[string]*session.Message
	order       []string // message ids sorted by creation time
	permissions map[string]*session.PermissionRequest

	cancel func() // bridge subscription
}

// NewSessionReconciler creates the reconciler registry.
func NewSessionReconciler(store database.Store, bridge agentbridge.Bridge, hub broadcast.Broadcaster) *SessionReconciler {
	return &SessionReconciler{
		store:    store,
		bridge:   bridge,
		hub:      hub,
		sessions: make(map[string]*sessionState),
	}
}

// AddObserver registers a lifecycle observer. Not safe to call once
// event streams are live; wire observers during startup.
func (r *SessionReconciler) AddObserver(obs SessionObserver) {
	r.observers = append(r.observers, obs)
}

// Start creates the agent session for a cell and attaches its event
// stream. It implements SessionStarter for the provisioner.
func (r *SessionReconciler) Start(ctx context.Context, cellID string) (*session.Session, error) {
	sess, err := r.store.CreateSession(ctx, &session.Session{CellID: cellID})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := r.Attach(ctx, sess.ID); err != nil {
		// The cell keeps its one-session slot free for the next
		// attempt; a row without a stream is useless anyway.
		if delErr := r.store.DeleteSession(ctx, sess.ID); delErr != nil {
			slog.Warn("cleanup of unattached session failed", "session", sess.ID, "error", delErr)
		}
		return nil, err
	}
	return sess, nil
}

// Attach starts consuming a session's event stream into a fresh
// projection. Attaching an already-attached session is an error.
func (r *SessionReconciler) Attach(ctx context.Context, sessionID string) error {
	st := &sessionState{
		id:          sessionID,
		status:      session.StatusStarting,
		messages:    make(map[string]*session.Message),
		permissions: make(map[string]*session.PermissionRequest),
	}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("session %s: already attached", sessionID)
	}
	r.sessions[sessionID] = st
	r.mu.Unlock()

	cancel, err := r.bridge.Subscribe(ctx, sessionID, func(ctx context.Context, ev session.Event) error {
		r.apply(ctx, st, ev)
		return nil
	})
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		return fmt.Errorf("subscribe session %s: %w", sessionID, err)
	}

	st.mu.Lock()
	st.cancel = cancel
	st.mu.Unlock()
	return nil
}

// Delete tears a session down: stream detached, projection dropped,
// observers purged, store record removed.
func (r *SessionReconciler) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok {
		st.mu.Lock()
		cancel := st.cancel
		st.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	for _, obs := range r.observers {
		obs.OnDeleted(sessionID)
	}

	if err := r.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Messages returns the session's message list, sorted by creation time
// ascending.
func (r *SessionReconciler) Messages(sessionID string) ([]session.Message, error) {
	st, err := r.state(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	msgs := make([]session.Message, 0, len(st.order))
	for _, id := range st.order {
		msgs = append(msgs, st.messages[id].Clone())
	}
	return msgs, nil
}

// Permissions returns the session's pending permission requests.
func (r *SessionReconciler) Permissions(sessionID string) ([]session.PermissionRequest, error) {
	st, err := r.state(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	perms := make([]session.PermissionRequest, 0, len(st.permissions))
	for _, p := range st.permissions {
		perms = append(perms, *p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

// Status returns the session's current status and last error.
func (r *SessionReconciler) Status(sessionID string) (session.Status, string, error) {
	st, err := r.state(sessionID)
	if err != nil {
		return "", "", err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status, st.statusErr, nil
}

// ReplyPermission forwards a permission decision to the agent runtime.
// The overlay entry is removed when the permission.replied event comes
// back on the stream, keeping the projection stream-authoritative.
func (r *SessionReconciler) ReplyPermission(ctx context.Context, sessionID, permissionID string, reply session.PermissionReply) error {
	if _, err := r.state(sessionID); err != nil {
		return err
	}
	if err := r.bridge.ReplyPermission(ctx, sessionID, permissionID, reply); err != nil {
		return fmt.Errorf("reply permission %s: %w", permissionID, err)
	}
	return nil
}

func (r *SessionReconciler) state(sessionID string) (*sessionState, error) {
	r.mu.RLock()
	st, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st, nil
}

// --- event application ---

// apply dispatches one stream event into the projection. Callers
// guarantee per-session ordering; apply serializes against readers
// with the state mutex.
func (r *SessionReconciler) apply(ctx context.Context, st *sessionState, ev session.Event) {
	switch ev.Type {
	case session.EventHistory:
		r.applyHistory(ctx, st, ev)
	case session.EventMessageUpdated:
		r.applyMessageUpdated(ctx, st, ev)
	case session.EventPartUpdated:
		r.applyPartUpdated(ctx, st, ev)
	case session.EventPartRemoved:
		r.applyPartRemoved(ctx, st, ev)
	case session.EventStatus:
		r.applyStatus(ctx, st, ev)
	case session.EventPermissionUpdated:
		r.applyPermissionUpdated(ctx, st, ev)
	case session.EventPermissionReplied:
		r.applyPermissionReplied(ctx, st, ev)
	default:
		slog.Debug("unknown session event ignored", "session", st.id, "type", ev.Type)
	}
}

// applyHistory replaces the entire projection with the snapshot. A
// history event is authoritative whenever it arrives: anything applied
// from a previous connection is discarded wholesale.
func (r *SessionReconciler) applyHistory(ctx context.Context, st *sessionState, ev session.Event) {
	st.mu.Lock()
	st.messages = make(map[string]*session.Message, len(ev.Messages))
	st.order = st.order[:0]
	for i := range ev.Messages {
		m := ev.Messages[i]
		m.RecomputeContent()
		st.messages[m.ID] = &m
		st.order = append(st.order, m.ID)
	}
	st.resortLocked()
	st.mu.Unlock()

	slog.Debug("session history applied", "session", st.id, "messages", len(ev.Messages))
}

// applyMessageUpdated merges identity/role/timing/error info with the
// parts already held for that message id.
func (r *SessionReconciler) applyMessageUpdated(ctx context.Context, st *sessionState, ev session.Event) {
	if ev.Message == nil {
		return
	}
	incoming := *ev.Message

	st.mu.Lock()
	if existing, ok := st.messages[incoming.ID]; ok {
		// The update never carries text; the parts we hold are newer.
		incoming.Parts = existing.Parts
	} else {
		st.order = append(st.order, incoming.ID)
	}
	incoming.RecomputeContent()
	st.messages[incoming.ID] = &incoming
	st.resortLocked()
	snapshot := incoming.Clone()
	st.mu.Unlock()

	r.broadcastMessage(ctx, st.id, snapshot)
	for _, obs := range r.observers {
		obs.OnMessage(st.id, snapshot.Role)
	}
}

// applyPartUpdated merges one part into its message. A non-empty delta
// appends to the stored part text (the incoming part's own text field
// may be stale); without a delta the incoming text wins outright. All
// other part fields overwrite. New part ids append in order, known ids
// replace in place. Part updates never reorder messages.
func (r *SessionReconciler) applyPartUpdated(ctx context.Context, st *sessionState, ev session.Event) {
	if ev.Part == nil {
		return
	}
	part := *ev.Part

	st.mu.Lock()
	msg, ok := st.messages[part.MessageID]
	if !ok {
		st.mu.Unlock()
		slog.Debug("part update for unknown message dropped", "session", st.id, "message", part.MessageID)
		return
	}

	idx := -1
	for i := range msg.Parts {
		if msg.Parts[i].ID == part.ID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		if ev.Delta != "" {
			part.Text = msg.Parts[idx].Text + ev.Delta
		}
		msg.Parts[idx] = part
	} else {
		if ev.Delta != "" {
			part.Text = ev.Delta
		}
		msg.Parts = append(msg.Parts, part)
	}
	msg.RecomputeContent()
	snapshot := msg.Clone()
	st.mu.Unlock()

	r.broadcastMessage(ctx, st.id, snapshot)
}

// applyPartRemoved deletes a part by id and recomputes the message.
func (r *SessionReconciler) applyPartRemoved(ctx context.Context, st *sessionState, ev session.Event) {
	st.mu.Lock()
	msg, ok := st.messages[ev.MessageID]
	if !ok {
		st.mu.Unlock()
		return
	}
	kept := msg.Parts[:0]
	for _, p := range msg.Parts {
		if p.ID != ev.PartID {
			kept = append(kept, p)
		}
	}
	msg.Parts = kept
	msg.RecomputeContent()
	snapshot := msg.Clone()
	st.mu.Unlock()

	r.broadcastMessage(ctx, st.id, snapshot)
}

// applyStatus updates session-level status. An error string is
// surfaced to observers and the UI but never mutates message state.
func (r *SessionReconciler) applyStatus(ctx context.Context, st *sessionState, ev session.Event) {
	st.mu.Lock()
	if ev.Status != "" {
		st.status = ev.Status
	}
	st.statusErr = ev.Error
	status := st.status
	st.mu.Unlock()

	if err := r.store.UpdateSessionStatus(ctx, st.id, status, ev.Error); err != nil {
		slog.Warn("session status write failed", "session", st.id, "error", err)
	}
	r.hub.BroadcastEvent(ctx, ws.EventSessionStatus, ws.SessionStatusEvent{
		SessionID: st.id,
		Status:    status,
		Error:     ev.Error,
	})

	if ev.Error != "" {
		for _, obs := range r.observers {
			obs.OnError(st.id, ev.Error)
		}
		return
	}
	if status == session.StatusAwaitingInput || status == session.StatusCompleted {
		for _, obs := range r.observers {
			obs.OnIdle(st.id)
		}
	}
}

func (r *SessionReconciler) applyPermissionUpdated(ctx context.Context, st *sessionState, ev session.Event) {
	if ev.Permission == nil {
		return
	}
	perm := *ev.Permission

	st.mu.Lock()
	st.permissions[perm.ID] = &perm
	st.mu.Unlock()

	r.hub.BroadcastEvent(ctx, ws.EventPermissionUpdated, ws.PermissionEvent{
		SessionID:  st.id,
		Permission: &perm,
	})
}

func (r *SessionReconciler) applyPermissionReplied(ctx context.Context, st *sessionState, ev session.Event) {
	id := ev.PermissionID
	if id == "" && ev.Permission != nil {
		id = ev.Permission.ID
	}

	st.mu.Lock()
	delete(st.permissions, id)
	st.mu.Unlock()

	r.hub.BroadcastEvent(ctx, ws.EventPermissionReplied, ws.PermissionEvent{
		SessionID:    st.id,
		PermissionID: id,
	})
}

func (r *SessionReconciler) broadcastMessage(ctx context.Context, sessionID string, msg session.Message) {
	r.hub.BroadcastEvent(ctx, ws.EventMessageUpdated, ws.MessageUpdatedEvent{
		SessionID: sessionID,
		Message:   msg,
	})
}

// resortLocked re-sorts the message order by creation time ascending.
// Must be called with st.mu held.
func (st *sessionState) resortLocked() {
	sort.SliceStable(st.order, func(i, j int) bool {
		return st.messages[st.order[i]].CreatedAt.Before(st.messages[st.order[j]].CreatedAt)
	})
}
