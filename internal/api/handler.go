// Package api provides HTTP handlers for the inkwell API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/grading"
	"github.com/ashureev/inkwell/internal/session"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds request bodies; drafts themselves are capped lower.
const maxBodyBytes = 4 * domain.MaxContentBytes

// Store is the subset of persistence the API reads directly.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	List(ctx context.Context, userID string, limit int) ([]domain.SessionRecord, error)
	Ping(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	repo     Store
	sessions *session.Manager
	grader   grading.Grader
	budgets  grading.Budgets
	logger   *slog.Logger
	validate *validator.Validate

	healthTimeout time.Duration
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo Store, sessions *session.Manager, grader grading.Grader, budgets grading.Budgets, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:          repo,
		sessions:      sessions,
		grader:        grader,
		budgets:       budgets,
		logger:        logger.With("component", "api"),
		validate:      newValidator(),
		healthTimeout: 5 * time.Second,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SetHealthTimeout bounds the database ping behind /health.
func (h *Handler) SetHealthTimeout(d time.Duration) {
	if d > 0 {
		h.healthTimeout = d
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of every typed error response. SessionID is
// set when a session was created but could not load.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Kind      string `json:"kind,omitempty"`
	Field     string `json:"field,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// writeError maps err onto a status code and a user-safe body. Unknown
// errors are logged and reported as a generic internal error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		JSON(w, http.StatusBadRequest, errorBody{Error: vErr.Error(), Code: string(session.KindValidation), Field: vErr.Field})
		return
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		JSON(w, http.StatusNotFound, errorBody{Error: "session not found", Code: "NOT_FOUND"})
		return
	case errors.Is(err, session.ErrGradingInFlight):
		JSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "GRADING_IN_FLIGHT"})
		return
	case errors.Is(err, session.ErrAborted):
		JSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "ABORTED"})
		return
	case errors.Is(err, session.ErrRevisionLimit):
		JSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "REVISION_LIMIT"})
		return
	case errors.Is(err, session.ErrClosed):
		JSON(w, http.StatusGone, errorBody{Error: err.Error(), Code: "CLOSED"})
		return
	case errors.Is(err, session.ErrIllegalTransition):
		JSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "ILLEGAL_TRANSITION"})
		return
	}

	if kind, ok := grading.KindOf(err); ok {
		JSON(w, failureStatus(kind), errorBody{
			Error: failureMessage(kind),
			Code:  string(session.KindPipelineFailure),
			Kind:  string(kind),
		})
		return
	}

	h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	JSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: string(session.KindInternal)})
}

func failureStatus(kind grading.FailureKind) int {
	switch kind {
	case grading.KindRateLimited:
		return http.StatusTooManyRequests
	case grading.KindTimeout:
		return http.StatusGatewayTimeout
	case grading.KindInvalidInput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func failureMessage(kind grading.FailureKind) string {
	switch kind {
	case grading.KindRateLimited:
		return "grading is busy, try again shortly"
	case grading.KindTimeout:
		return "grading timed out, try again"
	case grading.KindInvalidInput:
		return "the grader rejected this draft"
	default:
		return "grading failed, try again"
	}
}

// decode reads a bounded JSON body into v and runs struct validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := h.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &domain.ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q rule", fe.Tag())}
		}
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
