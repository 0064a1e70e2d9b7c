package domain

import "fmt"

// Mode selects the flavor of a writing session.
type Mode string

const (
	ModeRanked     Mode = "ranked"
	ModeQuickMatch Mode = "quick_match"
	ModePractice   Mode = "practice"
)

// ParseMode validates a mode name from a request or the prompt catalog.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRanked, ModeQuickMatch, ModePractice:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}
