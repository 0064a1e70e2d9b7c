package domain

import (
	"slices"
	"time"
)

// Prompt is a writing exercise offered to users of a given mode.
type Prompt struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Options   []string  `json:"options,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy that shares no slices with p.
func (p *Prompt) Clone() *Prompt {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = slices.Clone(p.Options)
	return &out
}

// NeedsSelection returns true if the user must pick one of several options
// before writing.
func (p *Prompt) NeedsSelection() bool {
	return len(p.Options) > 1
}

// HasOption reports whether option is one of the prompt's choices.
func (p *Prompt) HasOption(option string) bool {
	for _, o := range p.Options {
		if o == option {
			return true
		}
	}
	return false
}
