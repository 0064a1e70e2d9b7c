package grading

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a grading call did not produce a result.
type FailureKind string

const (
	KindRateLimited  FailureKind = "RATE_LIMITED"
	KindModelError   FailureKind = "MODEL_ERROR"
	KindTimeout      FailureKind = "TIMEOUT"
	KindInvalidInput FailureKind = "INVALID_INPUT"
)

// Failure is the typed error returned by graders.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "grading failed: " + string(f.Kind)
	}
	return fmt.Sprintf("grading failed: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail builds a Failure of kind wrapping err.
func Fail(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// Classify normalizes err into a *Failure. Errors that already carry a kind
// are returned as-is; context deadline errors become TIMEOUT; anything else
// becomes MODEL_ERROR.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return Fail(KindTimeout, err)
	}
	return Fail(KindModelError, err)
}
