package session

import (
	"time"

	"github.com/ashureev/inkwell/internal/domain"
)

// View is a point-in-time copy of a session safe to hand to callers.
type View struct {
	ID          string                `json:"id"`
	UserID      string                `json:"user_id"`
	Mode        domain.Mode           `json:"mode"`
	Phase       domain.Phase          `json:"phase"`
	ReturnPhase domain.Phase          `json:"return_phase,omitempty"`
	Prompt      *domain.Prompt        `json:"prompt,omitempty"`
	Selection   string                `json:"selection,omitempty"`
	Draft       string                `json:"draft"`
	Pending     bool                  `json:"pending"`
	Attempts    []domain.Attempt      `json:"attempts"`
	Latest      *domain.GradingResult `json:"latest,omitempty"`
	Band        *domain.Band          `json:"band,omitempty"`
	Revisions   int                   `json:"revisions"`
	// Unavailable is set to PROVIDER_UNAVAILABLE with a Reason when the
	// session ended in no_prompt or blocked.
	Unavailable ErrorKind `json:"unavailable,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Controller) viewLocked() View {
	v := View{
		ID:        c.id,
		UserID:    c.userID,
		Mode:      c.mode,
		Phase:     c.phase,
		Prompt:    c.prompt.Clone(),
		Selection: c.selection,
		Draft:     c.draft,
		Pending:   c.pending,
		Attempts:  c.attemptsLocked(),
		Revisions: c.revisionsLocked(),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	if c.phase == domain.PhaseHistory {
		v.ReturnPhase = c.returnTo
	}
	if n := len(v.Attempts); n > 0 {
		v.Latest = v.Attempts[n-1].Result
		band := v.Latest.Band()
		v.Band = &band
	}
	switch c.current() {
	case domain.PhaseNoPrompt:
		v.Unavailable = KindProviderUnavailable
		v.Reason = "no_prompt"
	case domain.PhaseBlocked:
		v.Unavailable = KindProviderUnavailable
		v.Reason = c.blockReason
	}
	return v
}
