package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/identity"
	"github.com/ashureev/inkwell/internal/session"
	"github.com/go-chi/chi/v5"
)

// startLocks prevents concurrent session starts for the same user so that
// ranked quotas are checked against a settled count.
var startLocks sync.Map

// historyLimit is the number of past sessions shown in the history view.
const historyLimit = 50

// SessionHandler serves the session phase workflow.
type SessionHandler struct {
	*Handler
	submitLimit func(http.Handler) http.Handler
}

// NewSessionHandler creates a session handler. submitLimit, when non-nil,
// wraps the submit endpoint.
func NewSessionHandler(base *Handler, submitLimit func(http.Handler) http.Handler) *SessionHandler {
	return &SessionHandler{Handler: base, submitLimit: submitLimit}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Close)
			r.Post("/load", h.Load)
			r.Post("/begin", h.Begin)
			r.Post("/select", h.Select)
			r.Put("/draft", h.UpdateDraft)
			if h.submitLimit != nil {
				r.With(h.submitLimit).Post("/submit", h.Submit)
			} else {
				r.Post("/submit", h.Submit)
			}
			r.Post("/revise", h.Revise)
			r.Post("/accept", h.Accept)
			r.Post("/history", h.EnterHistory)
			r.Delete("/history", h.ExitHistory)
			r.Post("/abort", h.Abort)
		})
	})
}

type startRequest struct {
	Mode string `json:"mode" validate:"required,oneof=ranked quick_match practice"`
}

type selectRequest struct {
	Option string `json:"option" validate:"required"`
}

// textRequest carries draft text. Content rules are applied by the session
// so that blank drafts are reported the same way everywhere.
type textRequest struct {
	Text string `json:"text"`
}

// Start creates a session and resolves its prompt.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req startRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		h.writeError(w, r, &domain.ValidationError{Field: "mode", Reason: err.Error()})
		return
	}

	lock, _ := startLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		h.logger.Warn("Session start already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "session_start_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		startLocks.Delete(userID)
	}()

	c, view, err := h.sessions.Start(r.Context(), userID, mode)
	if err != nil {
		h.loadFailed(w, r, c.ID(), err)
		return
	}
	JSON(w, http.StatusCreated, view)
}

// Load retries prompt resolution for a session left in loading.
func (h *SessionHandler) Load(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	view, err := c.Load(r.Context())
	if err != nil && !errors.Is(err, session.ErrIllegalTransition) && !errors.Is(err, session.ErrClosed) {
		h.loadFailed(w, r, c.ID(), err)
		return
	}
	h.respond(w, r, view, err)
}

// loadFailed reports a prompt provider error. The session stays in loading
// and its id is returned so the client can retry.
func (h *SessionHandler) loadFailed(w http.ResponseWriter, r *http.Request, id string, err error) {
	h.logger.Error("Prompt resolution failed", "session_id", id, "path", r.URL.Path, "error", err)
	JSON(w, http.StatusServiceUnavailable, errorBody{
		Error:     "prompt provider unavailable, try again",
		Code:      string(session.KindInternal),
		SessionID: id,
	})
}

// controller resolves the {id} path parameter for the caller.
func (h *SessionHandler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	userID := identity.UserIDFromContext(r.Context())
	c, err := h.sessions.Get(userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return c, true
}

// respond writes view, or the mapped error.
func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, view session.View, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Get returns the session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.controller(w, r); ok {
		JSON(w, http.StatusOK, c.Snapshot())
	}
}

// Close abandons and forgets the session.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.sessions.Close(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Begin leaves the prompt phase.
func (h *SessionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.controller(w, r); ok {
		view, err := c.Begin()
		h.respond(w, r, view, err)
	}
}

// Select picks one of the prompt's options.
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := c.Select(req.Option)
	h.respond(w, r, view, err)
}

// UpdateDraft saves work-in-progress text.
func (h *SessionHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := c.UpdateDraft(req.Text); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit grades a draft. The call blocks until grading finishes, fails or
// is aborted.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := c.Submit(r.Context(), req.Text)
	h.respond(w, r, view, err)
}

// Revise reopens the draft after feedback.
func (h *SessionHandler) Revise(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.controller(w, r); ok {
		view, err := c.Revise()
		h.respond(w, r, view, err)
	}
}

// Accept finalizes the latest result.
func (h *SessionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.controller(w, r); ok {
		view, err := c.Accept(r.Context())
		h.respond(w, r, view, err)
	}
}

type historyView struct {
	Session session.View           `json:"session"`
	Past    []domain.SessionRecord `json:"past"`
}

// EnterHistory opens the side view and returns past sessions with it.
func (h *SessionHandler) EnterHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	view, err := c.EnterHistory()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	past, err := c.PastSessions(r.Context(), historyLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, historyView{Session: view, Past: nonNil(past)})
}

// ExitHistory returns to the phase the view was opened from.
func (h *SessionHandler) ExitHistory(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.controller(w, r); ok {
		view, err := c.ExitHistory()
		h.respond(w, r, view, err)
	}
}

// Abort cancels in-flight grading.
func (h *SessionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.controller(w, r); ok {
		JSON(w, http.StatusOK, c.Abort())
	}
}

// ListHistory returns the caller's archived sessions.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	past, err := h.repo.List(r.Context(), userID, historyLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": nonNil(past)})
}

func nonNil(records []domain.SessionRecord) []domain.SessionRecord {
	if records == nil {
		return []domain.SessionRecord{}
	}
	return records
}
