// Package grading implements the layered LLM grading pipeline and its
// transports.
package grading

import (
	"context"

	"github.com/ashureev/inkwell/internal/domain"
)

// Request carries one draft to be graded.
type Request struct {
	Text      string
	Prompt    *domain.Prompt
	Selection string
	// Previous is the last graded attempt when grading a revision.
	Previous *domain.Attempt
	CallType CallType
	Budget   int
}

// Grader turns a draft into a GradingResult or a *Failure.
type Grader interface {
	Grade(ctx context.Context, req Request) (*domain.GradingResult, error)
}

// GraderFunc adapts a function to the Grader interface.
type GraderFunc func(ctx context.Context, req Request) (*domain.GradingResult, error)

// Grade calls f.
func (f GraderFunc) Grade(ctx context.Context, req Request) (*domain.GradingResult, error) {
	return f(ctx, req)
}
