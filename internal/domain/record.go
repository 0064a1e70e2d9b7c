package domain

import "time"

// SessionStatus is the persisted lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
	StatusNoPrompt  SessionStatus = "no_prompt"
	StatusBlocked   SessionStatus = "blocked"
)

// StatusFor maps a terminal phase to the status recorded for the session.
func StatusFor(p Phase) SessionStatus {
	switch p {
	case PhaseResults:
		return StatusCompleted
	case PhaseNoPrompt:
		return StatusNoPrompt
	case PhaseBlocked:
		return StatusBlocked
	default:
		return StatusActive
	}
}

// SessionRecord is the archived view of a session kept by the history store.
type SessionRecord struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Mode        Mode          `json:"mode"`
	PromptID    string        `json:"prompt_id,omitempty"`
	Selection   string        `json:"selection,omitempty"`
	Phase       Phase         `json:"phase"`
	Status      SessionStatus `json:"status"`
	Attempts    []Attempt     `json:"attempts,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// BestScore returns the highest composite across attempts, or 0.
func (s *SessionRecord) BestScore() float64 {
	best := 0.0
	for _, a := range s.Attempts {
		if a.Result != nil && a.Result.Composite > best {
			best = a.Result.Composite
		}
	}
	return best
}
