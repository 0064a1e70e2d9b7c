package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/grading"
	"github.com/ashureev/inkwell/internal/metrics"
	"github.com/ashureev/inkwell/internal/prompt"
	"github.com/google/uuid"
)

// Dependencies are the process-wide services shared by every session.
type Dependencies struct {
	Provider       prompt.Provider
	Grader         grading.Grader
	History        HistoryStore
	Budgets        grading.Budgets
	MaxRevisions   int
	Notifier       Notifier
	Logger         *slog.Logger
	PersistTimeout time.Duration
}

// Manager tracks live sessions by id and owner.
type Manager struct {
	deps   Dependencies
	logger *slog.Logger
	newID  func() string

	mu     sync.RWMutex
	active map[string]*Controller
}

// NewManager creates an empty session registry.
func NewManager(deps Dependencies) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	return &Manager{
		deps:   deps,
		logger: logger.With("component", "session_manager"),
		newID:  uuid.NewString,
		active: make(map[string]*Controller),
	}
}

// Start creates a session for userID in mode and runs prompt resolution.
// The session is registered even when Load fails so the caller can retry
// it or close it.
func (m *Manager) Start(ctx context.Context, userID string, mode domain.Mode) (*Controller, View, error) {
	c := New(Options{
		ID:             m.newID(),
		UserID:         userID,
		Mode:           mode,
		Provider:       m.deps.Provider,
		Grader:         m.deps.Grader,
		History:        m.deps.History,
		Budgets:        m.deps.Budgets,
		MaxRevisions:   m.deps.MaxRevisions,
		Notifier:       m.deps.Notifier,
		Logger:         m.deps.Logger,
		PersistTimeout: m.deps.PersistTimeout,
	})

	m.mu.Lock()
	m.active[c.ID()] = c
	n := len(m.active)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)
	m.logger.Info("Session started", "session_id", c.ID(), "user_id", userID, "mode", mode)

	view, err := c.Load(ctx)
	return c, view, err
}

// Get returns the session with id if it belongs to userID.
func (m *Manager) Get(userID, id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.active[id]
	if !ok || c.UserID() != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns the live sessions owned by userID.
func (m *Manager) List(userID string) []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Controller
	for _, c := range m.active {
		if c.UserID() == userID {
			out = append(out, c)
		}
	}
	return out
}

// Close closes and unregisters the session with id owned by userID.
func (m *Manager) Close(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	c, ok := m.active[id]
	if !ok || c.UserID() != userID {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.active, id)
	n := len(m.active)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)

	m.logger.Info("Session closed", "session_id", id, "user_id", userID)
	return c.Close(ctx)
}

// Sweep closes sessions idle for longer than ttl and returns how many it
// closed.
func (m *Manager) Sweep(ctx context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var expired []*Controller
	for id, c := range m.active {
		if c.LastActive().Before(cutoff) {
			expired = append(expired, c)
			delete(m.active, id)
		}
	}
	n := len(m.active)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)

	for _, c := range expired {
		if err := c.Close(ctx); err != nil {
			m.logger.Warn("Failed to close expired session", "session_id", c.ID(), "error", err)
		}
	}
	return len(expired)
}

// Shutdown closes every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Controller, 0, len(m.active))
	for _, c := range m.active {
		sessions = append(sessions, c)
	}
	m.active = make(map[string]*Controller)
	m.mu.Unlock()
	metrics.SetActiveSessions(0)

	for _, c := range sessions {
		_ = c.Close(ctx)
	}
	m.logger.Info("Session manager shut down", "closed", len(sessions))
}

// IDs returns the ids of every live session.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
