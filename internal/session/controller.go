// Package session drives a single writing exercise through its phases:
// prompt resolution, optional option selection, writing, grading, revision
// and results, with a history side view available at any point.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/grading"
	"github.com/ashureev/inkwell/internal/metrics"
	"github.com/ashureev/inkwell/internal/prompt"
)

// HistoryStore persists graded attempts and session outcomes.
type HistoryStore interface {
	Append(ctx context.Context, rec domain.SessionRecord, attempt domain.Attempt) error
	Finalize(ctx context.Context, rec domain.SessionRecord) error
	List(ctx context.Context, userID string, limit int) ([]domain.SessionRecord, error)
}

// Event reports one phase change.
type Event struct {
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	From      domain.Phase `json:"from"`
	To        domain.Phase `json:"to"`
	At        time.Time    `json:"at"`
}

// Notifier receives phase events. Notify must not block.
type Notifier interface {
	Notify(ev Event)
}

// Options wires a Controller to its collaborators.
type Options struct {
	ID       string
	UserID   string
	Mode     domain.Mode
	Provider prompt.Provider
	Grader   grading.Grader
	History  HistoryStore
	Budgets  grading.Budgets
	// MaxRevisions caps feedback -> revise transitions. Zero means no cap.
	MaxRevisions int
	Notifier     Notifier
	Logger       *slog.Logger
	// PersistTimeout bounds each history write.
	PersistTimeout time.Duration
}

// Controller owns the phase of one session and rejects illegal transitions.
// All methods are safe for concurrent use; only grading and prompt
// resolution run without the lock held.
type Controller struct {
	id             string
	userID         string
	mode           domain.Mode
	provider       prompt.Provider
	grader         grading.Grader
	history        HistoryStore
	budgets        grading.Budgets
	maxRevisions   int
	notifier       Notifier
	logger         *slog.Logger
	persistTimeout time.Duration
	now            func() time.Time

	mu          sync.Mutex
	phase       domain.Phase
	returnTo    domain.Phase // underlying phase while phase == history
	prompt      *domain.Prompt
	selection   string
	draft       string
	attempts    []domain.Attempt
	blockReason string
	resolving   bool
	pending     bool
	cancel      context.CancelFunc
	gen         uint64
	recorded    bool
	closed      bool
	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time
}

// New creates a Controller in the loading phase.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	budgets := opts.Budgets
	if budgets.Tokens == nil {
		budgets = grading.DefaultBudgets()
	}
	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	now := time.Now()
	return &Controller{
		id:             opts.ID,
		userID:         opts.UserID,
		mode:           opts.Mode,
		provider:       opts.Provider,
		grader:         opts.Grader,
		history:        opts.History,
		budgets:        budgets,
		maxRevisions:   opts.MaxRevisions,
		notifier:       opts.Notifier,
		logger:         logger.With("component", "session", "session_id", opts.ID, "user_id", opts.UserID),
		persistTimeout: persistTimeout,
		now:            time.Now,
		phase:          domain.PhaseLoading,
		createdAt:      now,
		updatedAt:      now,
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// UserID returns the owning user.
func (c *Controller) UserID() string { return c.userID }

// Phase returns the visible phase.
func (c *Controller) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Load asks the provider for a prompt and leaves loading for prompt,
// no_prompt or blocked. A provider error keeps the session in loading so
// the caller may retry.
func (c *Controller) Load(ctx context.Context) (View, error) {
	c.mu.Lock()
	if err := c.guardLocked("load"); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if c.phase != domain.PhaseLoading || c.resolving {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("load", c.phase)
	}
	c.resolving = true
	c.mu.Unlock()

	res, err := c.provider.Resolve(ctx, prompt.SessionContext{UserID: c.userID, Mode: c.mode})

	c.mu.Lock()
	c.resolving = false
	if c.closed {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrClosed
	}
	if err != nil {
		defer c.mu.Unlock()
		c.logger.Error("Prompt resolution failed", "error", err)
		return c.viewLocked(), fmt.Errorf("resolve prompt: %w", err)
	}

	var ev Event
	switch res.Status {
	case prompt.StatusAvailable:
		if res.Prompt == nil {
			defer c.mu.Unlock()
			return c.viewLocked(), errors.New("resolve prompt: available without prompt")
		}
		c.prompt = res.Prompt
		ev = c.transitionLocked(domain.PhasePrompt)
	case prompt.StatusNone:
		ev = c.transitionLocked(domain.PhaseNoPrompt)
	case prompt.StatusBlocked:
		c.blockReason = res.Reason
		ev = c.transitionLocked(domain.PhaseBlocked)
	default:
		defer c.mu.Unlock()
		return c.viewLocked(), fmt.Errorf("resolve prompt: unknown status %q", res.Status)
	}
	c.recorded = true
	rec := c.recordLocked()
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	c.persist(ctx, rec)
	return view, nil
}

// Begin leaves prompt for selection when the prompt offers several options,
// or for write otherwise. A single option is selected implicitly.
func (c *Controller) Begin() (View, error) {
	c.mu.Lock()
	if err := c.guardLocked("begin"); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if c.phase != domain.PhasePrompt {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("begin", c.phase)
	}

	var ev Event
	if c.prompt.NeedsSelection() {
		ev = c.transitionLocked(domain.PhaseSelection)
	} else {
		if len(c.prompt.Options) == 1 {
			c.selection = c.prompt.Options[0]
		}
		ev = c.transitionLocked(domain.PhaseWrite)
	}
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	return view, nil
}

// Select records the chosen option and moves to write.
func (c *Controller) Select(option string) (View, error) {
	c.mu.Lock()
	if err := c.guardLocked("select"); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if c.phase != domain.PhaseSelection {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("select", c.phase)
	}
	if !c.prompt.HasOption(option) {
		defer c.mu.Unlock()
		return c.viewLocked(), &domain.ValidationError{Field: "option", Reason: "not one of the prompt's options"}
	}

	c.selection = option
	ev := c.transitionLocked(domain.PhaseWrite)
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	return view, nil
}

// UpdateDraft stores work-in-progress text. Blank text is allowed here;
// only submission requires content.
func (c *Controller) UpdateDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked("update draft"); err != nil {
		return err
	}
	if !c.phase.Composing() {
		return illegal("update draft", c.phase)
	}
	if len(text) > domain.MaxContentBytes {
		return &domain.ValidationError{Field: "content", Reason: fmt.Sprintf("must be at most %d bytes", domain.MaxContentBytes)}
	}
	c.draft = text
	c.updatedAt = c.now()
	return nil
}

// Submit grades text and, on success, appends an attempt and moves to
// feedback. On failure the phase is unchanged and the typed failure is
// returned; the caller may submit again.
func (c *Controller) Submit(ctx context.Context, text string) (View, error) {
	c.mu.Lock()
	if err := c.guardLocked("submit"); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if c.pending {
		defer c.mu.Unlock()
		metrics.RecordRejectedSubmission("in_flight")
		return c.viewLocked(), ErrGradingInFlight
	}
	if !c.phase.Composing() {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("submit", c.phase)
	}
	if err := domain.ValidateContent(text); err != nil {
		defer c.mu.Unlock()
		metrics.RecordRejectedSubmission("validation")
		return c.viewLocked(), err
	}

	ct := grading.CallGrading
	var previous *domain.Attempt
	if c.phase == domain.PhaseRevise && len(c.attempts) > 0 {
		ct = grading.CallBatchRevisions
		last := c.attempts[len(c.attempts)-1]
		last.Result = last.Result.Clone()
		previous = &last
	}

	gctx, cancel := context.WithTimeout(ctx, c.budgets.Timeout(ct))
	c.gen++
	gen := c.gen
	c.pending = true
	c.cancel = cancel
	c.draft = text
	req := grading.Request{
		Text:      text,
		Prompt:    c.prompt,
		Selection: c.selection,
		Previous:  previous,
		CallType:  ct,
		Budget:    c.budgets.For(ct),
	}
	submittedAt := c.now()
	c.mu.Unlock()

	result, err := c.grader.Grade(gctx, req)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.closed {
		// Aborted, closed or superseded while grading; the result is stale.
		defer c.mu.Unlock()
		c.logger.Info("Discarding stale grading result", "call_type", ct)
		return c.viewLocked(), ErrAborted
	}
	c.pending = false
	c.cancel = nil

	if err == nil && result == nil {
		err = grading.Fail(grading.KindModelError, errors.New("grader returned no result"))
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			c.gen++
			defer c.mu.Unlock()
			return c.viewLocked(), ErrAborted
		}
		err = grading.Classify(gctx, err)
		kind, _ := grading.KindOf(err)
		metrics.RecordGradingFailure(string(kind))
		c.logger.Warn("Grading failed", "call_type", ct, "kind", kind, "error", err)
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}

	attempt := domain.Attempt{
		Seq:         len(c.attempts) + 1,
		Draft:       text,
		Result:      result.Clone(),
		CallType:    string(ct),
		SubmittedAt: submittedAt,
	}
	c.attempts = append(c.attempts, attempt)
	ev := c.transitionLocked(domain.PhaseFeedback)
	rec := c.recordLocked()
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	c.persistAttempt(ctx, rec, attempt)
	return view, nil
}

// Revise moves from feedback to revise, seeding the draft with the last
// submitted text.
func (c *Controller) Revise() (View, error) {
	c.mu.Lock()
	if err := c.guardLocked("revise"); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if c.phase != domain.PhaseFeedback {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("revise", c.phase)
	}
	if c.maxRevisions > 0 && c.revisionsLocked() >= c.maxRevisions {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrRevisionLimit
	}

	c.draft = c.attempts[len(c.attempts)-1].Draft
	ev := c.transitionLocked(domain.PhaseRevise)
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	return view, nil
}

// Accept finalizes the latest result and moves to results.
func (c *Controller) Accept(ctx context.Context) (View, error) {
	c.mu.Lock()
	if err := c.guardLocked("accept"); err != nil {
		defer c.mu.Unlock()
		return c.viewLocked(), err
	}
	if c.phase != domain.PhaseFeedback || len(c.attempts) == 0 {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("accept", c.phase)
	}

	ev := c.transitionLocked(domain.PhaseResults)
	done := c.now()
	c.completedAt = &done
	rec := c.recordLocked()
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	c.persist(ctx, rec)
	return view, nil
}

// EnterHistory opens the history side view, remembering the current phase.
func (c *Controller) EnterHistory() (View, error) {
	c.mu.Lock()
	if c.closed {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrClosed
	}
	if c.phase == domain.PhaseHistory {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("enter history", c.phase)
	}

	from := c.phase
	c.returnTo = from
	c.phase = domain.PhaseHistory
	ev := c.eventLocked(from, domain.PhaseHistory)
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	return view, nil
}

// ExitHistory closes the side view and restores the remembered phase.
func (c *Controller) ExitHistory() (View, error) {
	c.mu.Lock()
	if c.closed {
		defer c.mu.Unlock()
		return c.viewLocked(), ErrClosed
	}
	if c.phase != domain.PhaseHistory {
		defer c.mu.Unlock()
		return c.viewLocked(), illegal("exit history", c.phase)
	}

	to := c.returnTo
	c.phase = to
	c.returnTo = ""
	ev := c.eventLocked(domain.PhaseHistory, to)
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ev)
	return view, nil
}

// PastSessions lists the owner's archived sessions for the history view.
func (c *Controller) PastSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if c.history == nil {
		return nil, nil
	}
	records, err := c.history.List(ctx, c.userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// Abort cancels an in-flight grading call. Its result, if it still
// arrives, is discarded. Aborting with nothing in flight is a no-op.
func (c *Controller) Abort() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked()
	return c.viewLocked()
}

func (c *Controller) abortLocked() {
	if !c.pending {
		return
	}
	c.cancel()
	c.cancel = nil
	c.pending = false
	c.gen++
	c.logger.Info("Grading aborted")
}

// Close abandons the session. In-flight grading is cancelled and the
// outcome is recorded. Closing twice is a no-op.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.abortLocked()
	c.closed = true
	c.updatedAt = c.now()
	recorded := c.recorded
	rec := c.recordLocked()
	c.mu.Unlock()

	if recorded {
		c.persist(ctx, rec)
	}
	return nil
}

// Attempts returns a copy of the graded attempts in submission order.
func (c *Controller) Attempts() []domain.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptsLocked()
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// LastActive returns the time of the last state change.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

func (c *Controller) guardLocked(op string) error {
	if c.closed {
		return ErrClosed
	}
	if c.phase.Terminal() {
		return illegal(op, c.phase)
	}
	return nil
}

// current returns the workflow phase, looking through the history view.
func (c *Controller) current() domain.Phase {
	if c.phase == domain.PhaseHistory {
		return c.returnTo
	}
	return c.phase
}

// transitionLocked moves the workflow phase. While the history view is
// open only the remembered phase changes.
func (c *Controller) transitionLocked(to domain.Phase) Event {
	from := c.current()
	if c.phase == domain.PhaseHistory {
		c.returnTo = to
	} else {
		c.phase = to
	}
	return c.eventLocked(from, to)
}

func (c *Controller) eventLocked(from, to domain.Phase) Event {
	c.updatedAt = c.now()
	metrics.RecordTransition(string(from), string(to))
	c.logger.Debug("Phase transition", "from", from, "to", to)
	return Event{SessionID: c.id, UserID: c.userID, From: from, To: to, At: c.updatedAt}
}

func (c *Controller) notify(ev Event) {
	if c.notifier != nil {
		c.notifier.Notify(ev)
	}
}

func (c *Controller) revisionsLocked() int {
	return max(0, len(c.attempts)-1)
}

func (c *Controller) attemptsLocked() []domain.Attempt {
	out := make([]domain.Attempt, len(c.attempts))
	for i, a := range c.attempts {
		a.Result = a.Result.Clone()
		out[i] = a
	}
	return out
}

func (c *Controller) recordLocked() domain.SessionRecord {
	phase := c.current()
	status := domain.StatusFor(phase)
	if c.closed && status == domain.StatusActive {
		status = domain.StatusAbandoned
	}
	rec := domain.SessionRecord{
		ID:          c.id,
		UserID:      c.userID,
		Mode:        c.mode,
		Selection:   c.selection,
		Phase:       phase,
		Status:      status,
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.updatedAt,
		CompletedAt: c.completedAt,
	}
	if c.prompt != nil {
		rec.PromptID = c.prompt.ID
	}
	return rec
}

// persistCtx detaches history writes from request cancellation.
func (c *Controller) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
}

// persist records the session outcome. Failures are logged; the in-memory
// session stays authoritative.
func (c *Controller) persist(ctx context.Context, rec domain.SessionRecord) {
	if c.history == nil {
		return
	}
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	if err := c.history.Finalize(pctx, rec); err != nil {
		c.logger.Error("Failed to record session", "status", rec.Status, "error", err)
	}
}

func (c *Controller) persistAttempt(ctx context.Context, rec domain.SessionRecord, attempt domain.Attempt) {
	if c.history == nil {
		return
	}
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	if err := c.history.Append(pctx, rec, attempt); err != nil {
		c.logger.Error("Failed to append attempt", "seq", attempt.Seq, "error", err)
	}
}
