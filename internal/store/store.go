// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
)

// ErrDuplicateAttempt is returned when an attempt sequence number was
// already recorded for a session.
var ErrDuplicateAttempt = errors.New("attempt already recorded")

// Repository defines the interface for persisting users, prompts and
// session history.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpsertPrompt creates or replaces a prompt in the catalog.
	UpsertPrompt(ctx context.Context, prompt *domain.Prompt) error

	// NextPrompt returns the oldest prompt of mode that the user has not
	// completed, or nil if none is left.
	NextPrompt(ctx context.Context, userID string, mode domain.Mode) (*domain.Prompt, error)

	// CountSessionsSince counts sessions of mode started by the user after since.
	CountSessionsSince(ctx context.Context, userID string, mode domain.Mode, since time.Time) (int, error)

	// CountCompleted counts completed sessions of mode for the user.
	CountCompleted(ctx context.Context, userID string, mode domain.Mode) (int, error)

	// Append upserts the session row and inserts one graded attempt.
	Append(ctx context.Context, rec domain.SessionRecord, attempt domain.Attempt) error

	// Finalize records the session's current phase and status.
	Finalize(ctx context.Context, rec domain.SessionRecord) error

	// List returns the user's sessions newest first, attempts in order.
	List(ctx context.Context, userID string, limit int) ([]domain.SessionRecord, error)

	// AbandonStale marks active sessions untouched for longer than ttl as
	// abandoned, skipping the ids in live.
	AbandonStale(ctx context.Context, ttl time.Duration, live []string) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
