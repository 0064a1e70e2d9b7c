package session

import (
	"errors"
	"fmt"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/grading"
)

var (
	// ErrIllegalTransition is matched by every *TransitionError.
	ErrIllegalTransition = errors.New("illegal phase transition")
	// ErrGradingInFlight rejects a submission while another is being graded.
	ErrGradingInFlight = errors.New("grading already in flight")
	// ErrRevisionLimit rejects feedback -> revise once the ceiling is hit.
	ErrRevisionLimit = errors.New("revision limit reached")
	// ErrAborted is returned to a Submit whose grading was cancelled.
	ErrAborted = errors.New("grading aborted")
	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNotFound is returned by the Manager for unknown or foreign sessions.
	ErrNotFound = errors.New("session not found")
)

// TransitionError describes an operation refused in the current phase.
type TransitionError struct {
	Op    string
	Phase domain.Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in phase %s", e.Op, e.Phase)
}

// Is makes errors.Is(err, ErrIllegalTransition) hold.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

func illegal(op string, phase domain.Phase) error {
	return &TransitionError{Op: op, Phase: phase}
}

// ErrorKind is the top-level error taxonomy surfaced to callers.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION"
	KindPipelineFailure     ErrorKind = "PIPELINE_FAILURE"
	KindProviderUnavailable ErrorKind = "PROVIDER_UNAVAILABLE"
	KindConflict            ErrorKind = "CONFLICT"
	KindInternal            ErrorKind = "INTERNAL"
)

// KindOf classifies err. Provider unavailability is never an error; it is
// reported through the no_prompt and blocked phases.
func KindOf(err error) ErrorKind {
	var vErr *domain.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return KindValidation
	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrGradingInFlight),
		errors.Is(err, ErrRevisionLimit),
		errors.Is(err, ErrAborted),
		errors.Is(err, ErrClosed):
		return KindConflict
	}
	if _, ok := grading.KindOf(err); ok {
		return KindPipelineFailure
	}
	return KindInternal
}
