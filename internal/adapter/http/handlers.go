package http

import (
	"net/http"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/agentbridge"
	"github.com/cellbox-dev/cellbox/internal/resilience"
	"github.com/cellbox-dev/cellbox/internal/service"
)

// Handlers bundles the services the HTTP layer dispatches to.
type Handlers struct {
	Cells    *service.CellService
	Sessions *service.SessionReconciler
	Bridge   agentbridge.Bridge
	Breaker  *resilience.Breaker
}

// --- Cells ---

// ListCells handles GET /api/v1/cells
func (h *Handlers) ListCells(w http.ResponseWriter, r *http.Request) {
	cells, err := h.Cells.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "cells not found")
		return
	}
	if cells == nil {
		cells = []cell.Cell{}
	}
	writeJSON(w, http.StatusOK, cells)
}

// CreateCell handles POST /api/v1/cells
func (h *Handlers) CreateCell(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[cell.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}

	c, err := h.Cells.Create(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCell handles GET /api/v1/cells/{id}
func (h *Handlers) GetCell(w http.ResponseWriter, r *http.Request) {
	c, err := h.Cells.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "cell not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetCellStatus handles GET /api/v1/cells/{id}/status. It is the
// polling endpoint and answers from the status cache.
func (h *Handlers) GetCellStatus(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	status, setupErr, err := h.Cells.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "cell not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":               id,
		"status":           string(status),
		"last_setup_error": setupErr,
	})
}

// RetryCell handles POST /api/v1/cells/{id}/retry
func (h *Handlers) RetryCell(w http.ResponseWriter, r *http.Request) {
	c, err := h.Cells.Retry(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "cell not found")
		return
	}
	writeJSON(w, http.StatusAccepted, c)
}

// DeleteCell handles DELETE /api/v1/cells/{id}
func (h *Handlers) DeleteCell(w http.ResponseWriter, r *http.Request) {
	if err := h.Cells.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "cell not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCellServices handles GET /api/v1/cells/{id}/services
func (h *Handlers) ListCellServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Cells.Services(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "cell not found")
		return
	}
	if services == nil {
		services = []cell.ServiceRecord{}
	}
	writeJSON(w, http.StatusOK, services)
}

// ListCellSteps handles GET /api/v1/cells/{id}/steps?run={runID}
func (h *Handlers) ListCellSteps(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	if !requireField(w, runID, "run") {
		return
	}
	steps, err := h.Cells.Steps(r.Context(), urlParam(r, "id"), runID)
	if err != nil {
		writeDomainError(w, err, "cell not found")
		return
	}
	if steps == nil {
		steps = []cell.Step{}
	}
	writeJSON(w, http.StatusOK, steps)
}

// GetCellSession handles GET /api/v1/cells/{id}/session
func (h *Handlers) GetCellSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Cells.Session(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Sessions ---

// ListSessionMessages handles GET /api/v1/sessions/{id}/messages
func (h *Handlers) ListSessionMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Sessions.Messages(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ListSessionPermissions handles GET /api/v1/sessions/{id}/permissions
func (h *Handlers) ListSessionPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.Sessions.Permissions(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// GetSessionStatus handles GET /api/v1/sessions/{id}/status
func (h *Handlers) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	status, errMsg, err := h.Sessions.Status(id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(status),
		"error":  errMsg,
	})
}

type replyPermissionRequest struct {
	Reply session.PermissionReply `json:"reply"`
}

// ReplyPermission handles POST /api/v1/sessions/{id}/permissions/{pid}/reply
func (h *Handlers) ReplyPermission(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[replyPermissionRequest](w, r)
	if !ok {
		return
	}
	switch req.Reply {
	case session.ReplyOnce, session.ReplyAlways, session.ReplyReject:
	default:
		writeError(w, http.StatusBadRequest, "reply must be one of once, always, reject")
		return
	}

	err := h.Sessions.ReplyPermission(r.Context(), urlParam(r, "id"), urlParam(r, "pid"), req.Reply)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type sendPromptRequest struct {
	Text string `json:"text"`
}

// SendPrompt handles POST /api/v1/sessions/{id}/prompt
func (h *Handlers) SendPrompt(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sendPromptRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Text, "text") {
		return
	}

	id := urlParam(r, "id")
	err := h.Breaker.Execute(func() error {
		return h.Bridge.SendPrompt(r.Context(), id, req.Text)
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen {
			writeError(w, http.StatusServiceUnavailable, "agent runtime unavailable")
			return
		}
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
