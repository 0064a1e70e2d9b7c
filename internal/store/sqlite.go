package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	maxRetries int
	baseDelay  time.Duration
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets history reads proceed while a grading result is written.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, maxRetries: 3, baseDelay: 50 * time.Millisecond}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// SetRetry configures retries on SQLITE_BUSY for write operations.
func (s *SQLiteStore) SetRetry(maxRetries int, baseDelay time.Duration) {
	if maxRetries > 0 {
		s.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		s.baseDelay = baseDelay
	}
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		options_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_mode ON prompts(mode, created_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		prompt_id TEXT,
		selection TEXT NOT NULL DEFAULT '',
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, updated_at);

	CREATE TABLE IF NOT EXISTS attempts (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		draft TEXT NOT NULL CHECK (length(trim(draft)) > 0),
		composite REAL NOT NULL,
		phases_json TEXT NOT NULL,
		feedback TEXT NOT NULL,
		call_type TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		graded_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs op, retrying with exponential backoff while SQLite reports
// lock contention.
func (s *SQLiteStore) withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == s.maxRetries-1 {
			break
		}

		delay := s.baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
		slog.Debug("Database locked, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// UpsertPrompt creates or replaces a prompt in the catalog.
func (s *SQLiteStore) UpsertPrompt(ctx context.Context, prompt *domain.Prompt) error {
	options, err := json.Marshal(prompt.Options)
	if err != nil {
		return fmt.Errorf("marshal prompt options: %w", err)
	}
	if prompt.Options == nil {
		options = []byte("[]")
	}

	query := `
	INSERT INTO prompts (id, mode, title, body, options_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		mode = excluded.mode,
		title = excluded.title,
		body = excluded.body,
		options_json = excluded.options_json`

	return s.withRetry(ctx, "upsert_prompt", func() error {
		_, err := s.db.ExecContext(ctx, query,
			prompt.ID, string(prompt.Mode), prompt.Title, prompt.Body,
			string(options), prompt.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert prompt: %w", err)
		}
		return nil
	})
}

// NextPrompt returns the oldest prompt of mode the user has not completed.
func (s *SQLiteStore) NextPrompt(ctx context.Context, userID string, mode domain.Mode) (*domain.Prompt, error) {
	query := `
		SELECT id, mode, title, body, options_json, created_at
		FROM prompts
		WHERE mode = ?
		  AND id NOT IN (
			SELECT prompt_id FROM sessions
			WHERE user_id = ? AND status = ? AND prompt_id IS NOT NULL
		  )
		ORDER BY created_at, id
		LIMIT 1`

	var p domain.Prompt
	var modeStr, optionsJSON string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, string(mode), userID, string(domain.StatusCompleted)).Scan(
		&p.ID, &modeStr, &p.Title, &p.Body, &optionsJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt row: %w", err)
	}

	p.Mode = domain.Mode(modeStr)
	p.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(optionsJSON), &p.Options); err != nil {
		return nil, fmt.Errorf("decode prompt options: %w", err)
	}
	return &p, nil
}

// CountSessionsSince counts sessions of mode started after since. Sessions
// that never got a prompt do not count.
func (s *SQLiteStore) CountSessionsSince(ctx context.Context, userID string, mode domain.Mode, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = ? AND mode = ? AND created_at >= ?
		  AND status NOT IN (?, ?)`

	var n int
	err := s.db.QueryRowContext(ctx, query,
		userID, string(mode), since.Unix(),
		string(domain.StatusBlocked), string(domain.StatusNoPrompt),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// CountCompleted counts completed sessions of mode for the user.
func (s *SQLiteStore) CountCompleted(ctx context.Context, userID string, mode domain.Mode) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = ? AND mode = ? AND status = ?`

	var n int
	if err := s.db.QueryRowContext(ctx, query, userID, string(mode), string(domain.StatusCompleted)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completed sessions: %w", err)
	}
	return n, nil
}

const upsertSessionQuery = `
	INSERT INTO sessions (id, user_id, mode, prompt_id, selection, phase, status, created_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		prompt_id = COALESCE(excluded.prompt_id, sessions.prompt_id),
		selection = excluded.selection,
		phase = excluded.phase,
		status = excluded.status,
		updated_at = excluded.updated_at,
		completed_at = COALESCE(excluded.completed_at, sessions.completed_at)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSession(ctx context.Context, ex execer, rec domain.SessionRecord) error {
	var promptID any
	if rec.PromptID != "" {
		promptID = rec.PromptID
	}
	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.Unix()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := ex.ExecContext(ctx, upsertSessionQuery,
		rec.ID, rec.UserID, string(rec.Mode), promptID, rec.Selection,
		string(rec.Phase), string(rec.Status),
		rec.CreatedAt.Unix(), updatedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Append upserts the session row and inserts one graded attempt in a
// single transaction. Attempts are never replaced.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.SessionRecord, attempt domain.Attempt) error {
	if err := domain.ValidateContent(attempt.Draft); err != nil {
		return err
	}
	if attempt.Result == nil {
		return fmt.Errorf("append attempt %d: missing grading result", attempt.Seq)
	}
	phases, err := json.Marshal(attempt.Result.Phases)
	if err != nil {
		return fmt.Errorf("marshal attempt phases: %w", err)
	}

	return s.withRetry(ctx, "append_attempt", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back append", "error", rbErr)
			}
		}()

		if err := upsertSession(ctx, tx, rec); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO attempts (session_id, seq, draft, composite, phases_json, feedback, call_type, submitted_at, graded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, attempt.Seq, attempt.Draft, attempt.Result.Composite, string(phases),
			attempt.Result.Feedback, attempt.CallType,
			attempt.SubmittedAt.Unix(), attempt.Result.GradedAt.Unix(),
		)
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("%w: session %s seq %d", ErrDuplicateAttempt, rec.ID, attempt.Seq)
		}
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append: %w", err)
		}
		return nil
	})
}

// Finalize records the session's current phase and status.
func (s *SQLiteStore) Finalize(ctx context.Context, rec domain.SessionRecord) error {
	return s.withRetry(ctx, "finalize_session", func() error {
		return upsertSession(ctx, s.db, rec)
	})
}

// List returns the user's sessions newest first with attempts in order.
func (s *SQLiteStore) List(ctx context.Context, userID string, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, mode, prompt_id, selection, phase, status, created_at, updated_at, completed_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var records []domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var mode, phase, status string
		var promptID sql.NullString
		var createdAt, updatedAt int64
		var completedAt sql.NullInt64

		if err := rows.Scan(
			&rec.ID, &rec.UserID, &mode, &promptID, &rec.Selection,
			&phase, &status, &createdAt, &updatedAt, &completedAt,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		rec.Mode = domain.Mode(mode)
		rec.PromptID = promptID.String
		rec.Phase = domain.Phase(phase)
		rec.Status = domain.SessionStatus(status)
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		if completedAt.Valid {
			ts := time.Unix(completedAt.Int64, 0)
			rec.CompletedAt = &ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close session rows", "error", err)
	}

	for i := range records {
		attempts, err := s.listAttempts(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Attempts = attempts
	}
	return records, nil
}

func (s *SQLiteStore) listAttempts(ctx context.Context, sessionID string) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, draft, composite, phases_json, feedback, call_type, submitted_at, graded_at
		FROM attempts WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var result domain.GradingResult
		var phasesJSON string
		var submittedAt, gradedAt int64

		if err := rows.Scan(
			&a.Seq, &a.Draft, &result.Composite, &phasesJSON, &result.Feedback,
			&a.CallType, &submittedAt, &gradedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		if err := json.Unmarshal([]byte(phasesJSON), &result.Phases); err != nil {
			return nil, fmt.Errorf("decode attempt phases: %w", err)
		}
		a.SubmittedAt = time.Unix(submittedAt, 0)
		result.GradedAt = time.Unix(gradedAt, 0)
		a.Result = &result
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// AbandonStale marks active sessions untouched for longer than ttl as
// abandoned. Sessions in live are still held in memory and are skipped.
func (s *SQLiteStore) AbandonStale(ctx context.Context, ttl time.Duration, live []string) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `UPDATE sessions SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`
	args := []any{string(domain.StatusAbandoned), time.Now().Unix(), string(domain.StatusActive), threshold}
	if len(live) > 0 {
		query += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(live)), ",") + `)`
		for _, id := range live {
			args = append(args, id)
		}
	}

	var affected int64
	err := s.withRetry(ctx, "abandon_stale", func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("abandon stale sessions: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}
