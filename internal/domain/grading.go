package domain

import (
	"maps"
	"time"
)

// PhaseScore is the score and commentary for one named grading sub-phase.
type PhaseScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// GradingResult is the outcome of grading a single draft.
type GradingResult struct {
	Composite float64               `json:"composite"`
	Phases    map[string]PhaseScore `json:"phases"`
	Feedback  string                `json:"feedback"`
	GradedAt  time.Time             `json:"graded_at"`
}

// Clone returns a deep copy so callers cannot mutate a recorded result.
func (r *GradingResult) Clone() *GradingResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Phases = maps.Clone(r.Phases)
	return &out
}

// Band returns the presentation band for the composite score.
func (r *GradingResult) Band() Band {
	return BandFor(r.Composite)
}

// Attempt pairs one submitted draft with the result it was graded to.
type Attempt struct {
	Seq         int            `json:"seq"`
	Draft       string         `json:"draft"`
	Result      *GradingResult `json:"result"`
	CallType    string         `json:"call_type"`
	SubmittedAt time.Time      `json:"submitted_at"`
}
