// Package prompt resolves which writing prompt a new session gets, or why
// it gets none.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
)

// Status is the outcome class of a prompt resolution.
type Status string

const (
	StatusAvailable Status = "available"
	StatusNone      Status = "none"
	StatusBlocked   Status = "blocked"
)

// Reasons reported with StatusBlocked.
const (
	ReasonRankIneligible = "rank_ineligible"
	ReasonRateLimited    = "rate_limited"
)

// SessionContext identifies who is asking for a prompt and for which mode.
type SessionContext struct {
	UserID string
	Mode   domain.Mode
}

// Resolution is the answer to a prompt request. Prompt is set only when
// Status is StatusAvailable; Reason only when Status is StatusBlocked.
type Resolution struct {
	Status Status         `json:"status"`
	Prompt *domain.Prompt `json:"prompt,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// Available wraps p in a resolution.
func Available(p *domain.Prompt) Resolution {
	return Resolution{Status: StatusAvailable, Prompt: p}
}

// None is the resolution when no prompt is left.
func None() Resolution {
	return Resolution{Status: StatusNone}
}

// Blocked is the resolution when the user is not entitled to a session.
func Blocked(reason string) Resolution {
	return Resolution{Status: StatusBlocked, Reason: reason}
}

// Provider supplies a prompt for a new session.
type Provider interface {
	Resolve(ctx context.Context, sc SessionContext) (Resolution, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, sc SessionContext) (Resolution, error)

// Resolve implements Provider.
func (f ProviderFunc) Resolve(ctx context.Context, sc SessionContext) (Resolution, error) {
	return f(ctx, sc)
}

// Source is the subset of the store the Service reads from.
type Source interface {
	NextPrompt(ctx context.Context, userID string, mode domain.Mode) (*domain.Prompt, error)
	CountSessionsSince(ctx context.Context, userID string, mode domain.Mode, since time.Time) (int, error)
	CountCompleted(ctx context.Context, userID string, mode domain.Mode) (int, error)
}

// RankedPolicy gates access to ranked sessions.
type RankedPolicy struct {
	DailyLimit  int
	MinPractice int
}

// Service is the store-backed Provider.
type Service struct {
	source Source
	ranked RankedPolicy
	logger *slog.Logger
	now    func() time.Time
}

var _ Provider = (*Service)(nil)

// NewService creates a prompt service.
func NewService(source Source, ranked RankedPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source: source,
		ranked: ranked,
		logger: logger.With("component", "prompt"),
		now:    time.Now,
	}
}

// Resolve implements Provider. Ranked entitlement is checked before the
// catalog is consulted.
func (s *Service) Resolve(ctx context.Context, sc SessionContext) (Resolution, error) {
	if sc.Mode == domain.ModeRanked {
		res, ok, err := s.checkRanked(ctx, sc.UserID)
		if err != nil {
			return Resolution{}, err
		}
		if !ok {
			s.logger.Info("Ranked session blocked", "user_id", sc.UserID, "reason", res.Reason)
			return res, nil
		}
	}

	p, err := s.source.NextPrompt(ctx, sc.UserID, sc.Mode)
	if err != nil {
		return Resolution{}, fmt.Errorf("next prompt: %w", err)
	}
	if p == nil {
		return None(), nil
	}
	return Available(p), nil
}

func (s *Service) checkRanked(ctx context.Context, userID string) (Resolution, bool, error) {
	if s.ranked.MinPractice > 0 {
		done, err := s.source.CountCompleted(ctx, userID, domain.ModePractice)
		if err != nil {
			return Resolution{}, false, fmt.Errorf("count practice sessions: %w", err)
		}
		if done < s.ranked.MinPractice {
			return Blocked(ReasonRankIneligible), false, nil
		}
	}

	if s.ranked.DailyLimit > 0 {
		started, err := s.source.CountSessionsSince(ctx, userID, domain.ModeRanked, s.now().Add(-24*time.Hour))
		if err != nil {
			return Resolution{}, false, fmt.Errorf("count ranked sessions: %w", err)
		}
		if started >= s.ranked.DailyLimit {
			return Blocked(ReasonRateLimited), false, nil
		}
	}
	return Resolution{}, true, nil
}
