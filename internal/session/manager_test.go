package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/prompt"
)

func newTestManager() (*Manager, *memHistory) {
	history := &memHistory{}
	m := NewManager(Dependencies{
		Provider: providerFor(prompt.Available(singlePrompt())),
		Grader:   &scoreGrader{scores: []float64{75}},
		History:  history,
	})
	return m, history
}

func TestManagerStartAndGet(t *testing.T) {
	m, _ := newTestManager()

	c, view, err := m.Start(context.Background(), "u1", domain.ModePractice)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if view.Phase != domain.PhasePrompt {
		t.Errorf("phase = %s, want prompt", view.Phase)
	}
	if c.ID() == "" {
		t.Fatal("session id is empty")
	}

	got, err := m.Get("u1", c.ID())
	if err != nil || got != c {
		t.Fatalf("Get(owner) = %v, %v", got, err)
	}
	if _, err := m.Get("u2", c.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(other user) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get("u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if n := len(m.List("u1")); n != 1 {
		t.Errorf("List(u1) = %d sessions, want 1", n)
	}
}

func TestManagerStartKeepsSessionOnLoadError(t *testing.T) {
	m := NewManager(Dependencies{
		Provider: prompt.ProviderFunc(func(context.Context, prompt.SessionContext) (prompt.Resolution, error) {
			return prompt.Resolution{}, errors.New("offline")
		}),
	})

	c, view, err := m.Start(context.Background(), "u1", domain.ModeRanked)
	if err == nil {
		t.Fatal("Start() error = nil, want provider error")
	}
	if view.Phase != domain.PhaseLoading {
		t.Errorf("phase = %s, want loading", view.Phase)
	}
	if _, err := m.Get("u1", c.ID()); err != nil {
		t.Errorf("session not registered after load failure: %v", err)
	}
}

func TestManagerClose(t *testing.T) {
	m, history := newTestManager()
	c, _, err := m.Start(context.Background(), "u1", domain.ModePractice)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := m.Close(context.Background(), "u2", c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Close(other user) error = %v, want ErrNotFound", err)
	}
	if err := m.Close(context.Background(), "u1", c.ID()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	if got := history.lastStatus(); got != domain.StatusAbandoned {
		t.Errorf("recorded status = %q, want abandoned", got)
	}
}

func TestManagerSweep(t *testing.T) {
	m, _ := newTestManager()
	stale, _, _ := m.Start(context.Background(), "u1", domain.ModePractice)
	fresh, _, _ := m.Start(context.Background(), "u1", domain.ModePractice)

	stale.mu.Lock()
	stale.updatedAt = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	if n := m.Sweep(context.Background(), time.Hour); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, err := m.Get("u1", stale.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session still registered")
	}
	if _, err := m.Get("u1", fresh.ID()); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
	if _, err := stale.Begin(); !errors.Is(err, ErrClosed) {
		t.Errorf("swept session Begin() error = %v, want ErrClosed", err)
	}
}

type countingAbandoner struct {
	calls atomic.Int32
	mu    sync.Mutex
	live  []string
}

func (a *countingAbandoner) AbandonStale(_ context.Context, _ time.Duration, live []string) (int64, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.live = live
	a.mu.Unlock()
	return 2, nil
}

func TestSweepExpiredSparesLiveSessions(t *testing.T) {
	m, _ := newTestManager()
	active, _, _ := m.Start(context.Background(), "u1", domain.ModePractice)
	idle, _, _ := m.Start(context.Background(), "u1", domain.ModePractice)
	idle.mu.Lock()
	idle.updatedAt = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	repo := &countingAbandoner{}
	sweepExpired(context.Background(), m, repo, time.Minute)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.live) != 1 || repo.live[0] != active.ID() {
		t.Errorf("live ids passed to store = %v, want [%s]", repo.live, active.ID())
	}
}

func TestTTLWorkerSweeps(t *testing.T) {
	m, _ := newTestManager()
	c, _, _ := m.Start(context.Background(), "u1", domain.ModePractice)
	c.mu.Lock()
	c.updatedAt = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	repo := &countingAbandoner{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startTTLWorker(ctx, m, repo, time.Minute, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if repo.calls.Load() > 0 && m.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("TTL worker did not sweep: abandon calls=%d live=%d", repo.calls.Load(), m.Len())
}
