package grading

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// CallType identifies the kind of remote grading call. Each type has its
// own token budget.
type CallType string

const (
	CallGrading        CallType = "grading"
	CallBatchFeedback  CallType = "batch_feedback"
	CallBatchRevisions CallType = "batch_revisions"
	CallBatchWriting   CallType = "batch_writing"
)

// ParseCallType validates a call type name.
func ParseCallType(s string) (CallType, error) {
	switch ct := CallType(s); ct {
	case CallGrading, CallBatchFeedback, CallBatchRevisions, CallBatchWriting:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown call type %q", s)
	}
}

// defaultPerToken is the response latency allowance used to derive call
// timeouts from token budgets.
const defaultPerToken = 20 * time.Millisecond

// Budgets is the fixed per-call token budget table.
type Budgets struct {
	Tokens   map[CallType]int
	PerToken time.Duration
}

// DefaultBudgets returns the stock budget table.
func DefaultBudgets() Budgets {
	return Budgets{
		Tokens: map[CallType]int{
			CallGrading:        2500,
			CallBatchFeedback:  2500,
			CallBatchRevisions: 3500,
			CallBatchWriting:   3000,
		},
		PerToken: defaultPerToken,
	}
}

type budgetsFile struct {
	Budgets map[string]int `toml:"budgets"`
}

// LoadBudgets reads overrides from a TOML file of the form
//
//	[budgets]
//	grading = 2500
//	batch_revisions = 3500
//
// on top of DefaultBudgets. An empty path returns the defaults.
func LoadBudgets(path string, perToken time.Duration) (Budgets, error) {
	b := DefaultBudgets()
	if perToken > 0 {
		b.PerToken = perToken
	}
	if path == "" {
		return b, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Budgets{}, fmt.Errorf("read budgets file: %w", err)
	}

	var f budgetsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Budgets{}, fmt.Errorf("parse budgets file: %w", err)
	}

	for name, tokens := range f.Budgets {
		ct, err := ParseCallType(name)
		if err != nil {
			return Budgets{}, err
		}
		b.Tokens[ct] = tokens
	}

	if err := b.Validate(); err != nil {
		return Budgets{}, err
	}
	return b, nil
}

// Validate checks that every call type has a positive budget.
func (b Budgets) Validate() error {
	for _, ct := range []CallType{CallGrading, CallBatchFeedback, CallBatchRevisions, CallBatchWriting} {
		if b.Tokens[ct] <= 0 {
			return fmt.Errorf("budget for %s must be > 0", ct)
		}
	}
	if b.PerToken <= 0 {
		return fmt.Errorf("per-token latency must be > 0")
	}
	return nil
}

// For returns the token budget for ct.
func (b Budgets) For(ct CallType) int {
	return b.Tokens[ct]
}

// Timeout returns the deadline allowed for one call of type ct.
func (b Budgets) Timeout(ct CallType) time.Duration {
	return time.Duration(b.Tokens[ct]) * b.PerToken
}
