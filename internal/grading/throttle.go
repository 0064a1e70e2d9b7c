package grading

import (
	"context"
	"errors"

	"github.com/ashureev/inkwell/internal/domain"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("grading rate limit exceeded")

// Throttled wraps a Grader with a process-wide token bucket. Calls that find
// the bucket empty fail immediately with RATE_LIMITED; the caller decides
// whether to retry.
type Throttled struct {
	next    Grader
	limiter *rate.Limiter
}

// NewThrottled limits next to requestsPerMinute calls. The burst is 20% of
// the per-minute rate but never below MaxBatchItems, so a full batch fits a
// fresh bucket.
func NewThrottled(next Grader, requestsPerMinute int) *Throttled {
	rps := float64(requestsPerMinute) / 60.0
	burst := max(MaxBatchItems, requestsPerMinute/5)
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Grade implements Grader.
func (t *Throttled) Grade(ctx context.Context, req Request) (*domain.GradingResult, error) {
	if !t.limiter.Allow() {
		return nil, Fail(KindRateLimited, errRateLimited)
	}
	return t.next.Grade(ctx, req)
}
