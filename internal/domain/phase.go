package domain

import "fmt"

// Phase is a named step in the guided writing-and-grading workflow.
type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhasePrompt    Phase = "prompt"
	PhaseSelection Phase = "selection"
	PhaseWrite     Phase = "write"
	PhaseFeedback  Phase = "feedback"
	PhaseRevise    Phase = "revise"
	PhaseResults   Phase = "results"
	PhaseNoPrompt  Phase = "no_prompt"
	PhaseBlocked   Phase = "blocked"
	PhaseHistory   Phase = "history"
)

// Phases returns every phase in declaration order.
func Phases() []Phase {
	return []Phase{
		PhaseLoading, PhasePrompt, PhaseSelection, PhaseWrite, PhaseFeedback,
		PhaseRevise, PhaseResults, PhaseNoPrompt, PhaseBlocked, PhaseHistory,
	}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	for _, known := range Phases() {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether a session in phase p accepts no further
// workflow transitions.
func (p Phase) Terminal() bool {
	return p == PhaseResults || p == PhaseNoPrompt || p == PhaseBlocked
}

// Composing reports whether p accepts draft text.
func (p Phase) Composing() bool {
	return p == PhaseWrite || p == PhaseRevise
}

// ParsePhase converts a stored phase name back into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}
