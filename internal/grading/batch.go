package grading

import (
	"context"

	"github.com/ashureev/inkwell/internal/domain"
	"golang.org/x/sync/errgroup"
)

// MaxBatchItems caps the number of drafts in one batch evaluation.
const MaxBatchItems = 20

// batchConcurrency bounds in-flight calls for one batch evaluation.
const batchConcurrency = 4

// BatchItem is one draft in a batch evaluation.
type BatchItem struct {
	ID     string
	Prompt *domain.Prompt
	Text   string
}

// BatchOutcome is the per-item result of a batch evaluation. Exactly one of
// Result and Err is set.
type BatchOutcome struct {
	ID     string
	Result *domain.GradingResult
	Err    error
}

// EvaluateBatch grades items concurrently with the budget of ct. A failing
// item does not stop the others.
func EvaluateBatch(ctx context.Context, g Grader, budgets Budgets, ct CallType, items []BatchItem) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(items))

	var eg errgroup.Group
	eg.SetLimit(batchConcurrency)
	for i, item := range items {
		eg.Go(func() error {
			outcomes[i] = evaluateOne(ctx, g, budgets, ct, item)
			return nil
		})
	}
	_ = eg.Wait()

	return outcomes
}

func evaluateOne(ctx context.Context, g Grader, budgets Budgets, ct CallType, item BatchItem) BatchOutcome {
	out := BatchOutcome{ID: item.ID}
	if err := domain.ValidateContent(item.Text); err != nil {
		out.Err = Fail(KindInvalidInput, err)
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, budgets.Timeout(ct))
	defer cancel()

	result, err := g.Grade(callCtx, Request{
		Text:     item.Text,
		Prompt:   item.Prompt,
		CallType: ct,
		Budget:   budgets.For(ct),
	})
	if err != nil {
		out.Err = Classify(callCtx, err)
		return out
	}
	out.Result = result
	return out
}
