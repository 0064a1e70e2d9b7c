package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
)

type fakeSource struct {
	next      *domain.Prompt
	nextErr   error
	ranked    int
	practice  int
	since     time.Time
	nextCalls int
}

func (f *fakeSource) NextPrompt(_ context.Context, _ string, _ domain.Mode) (*domain.Prompt, error) {
	f.nextCalls++
	return f.next, f.nextErr
}

func (f *fakeSource) CountSessionsSince(_ context.Context, _ string, _ domain.Mode, since time.Time) (int, error) {
	f.since = since
	return f.ranked, nil
}

func (f *fakeSource) CountCompleted(_ context.Context, _ string, _ domain.Mode) (int, error) {
	return f.practice, nil
}

func TestServiceResolve(t *testing.T) {
	p := &domain.Prompt{ID: "p1", Mode: domain.ModeRanked, Title: "t", Body: "b"}

	tests := []struct {
		name       string
		mode       domain.Mode
		source     *fakeSource
		wantStatus Status
		wantReason string
		wantLookup bool
	}{
		{
			name:       "practice prompt available",
			mode:       domain.ModePractice,
			source:     &fakeSource{next: p},
			wantStatus: StatusAvailable,
			wantLookup: true,
		},
		{
			name:       "catalog exhausted",
			mode:       domain.ModeQuickMatch,
			source:     &fakeSource{},
			wantStatus: StatusNone,
			wantLookup: true,
		},
		{
			name:       "ranked without practice",
			mode:       domain.ModeRanked,
			source:     &fakeSource{next: p, practice: 0},
			wantStatus: StatusBlocked,
			wantReason: ReasonRankIneligible,
		},
		{
			name:       "ranked daily limit reached",
			mode:       domain.ModeRanked,
			source:     &fakeSource{next: p, practice: 2, ranked: 3},
			wantStatus: StatusBlocked,
			wantReason: ReasonRateLimited,
		},
		{
			name:       "ranked entitled",
			mode:       domain.ModeRanked,
			source:     &fakeSource{next: p, practice: 2, ranked: 2},
			wantStatus: StatusAvailable,
			wantLookup: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.source, RankedPolicy{DailyLimit: 3, MinPractice: 1}, nil)
			res, err := svc.Resolve(context.Background(), SessionContext{UserID: "u1", Mode: tt.mode})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, tt.wantStatus)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if (tt.source.nextCalls > 0) != tt.wantLookup {
				t.Errorf("NextPrompt called = %v, want %v", tt.source.nextCalls > 0, tt.wantLookup)
			}
			if res.Status == StatusAvailable && res.Prompt == nil {
				t.Error("available resolution without prompt")
			}
		})
	}
}

func TestServiceDailyWindow(t *testing.T) {
	src := &fakeSource{practice: 1}
	svc := NewService(src, RankedPolicy{DailyLimit: 1, MinPractice: 1}, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if _, err := svc.Resolve(context.Background(), SessionContext{UserID: "u1", Mode: domain.ModeRanked}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := now.Add(-24 * time.Hour); !src.since.Equal(want) {
		t.Errorf("window start = %v, want %v", src.since, want)
	}
}

func TestServiceSourceError(t *testing.T) {
	boom := errors.New("disk on fire")
	svc := NewService(&fakeSource{nextErr: boom}, RankedPolicy{}, nil)

	_, err := svc.Resolve(context.Background(), SessionContext{UserID: "u1", Mode: domain.ModePractice})
	if !errors.Is(err, boom) {
		t.Fatalf("Resolve() error = %v, want wrapped %v", err, boom)
	}
}

type recordingSink struct {
	prompts []*domain.Prompt
}

func (r *recordingSink) UpsertPrompt(_ context.Context, p *domain.Prompt) error {
	r.prompts = append(r.prompts, p)
	return nil
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.toml")
	data := `
[[prompt]]
id = "letters-01"
mode = "practice"
title = "A letter"
body = "Write to your past self."
options = ["age 10", "age 18"]

[[prompt]]
id = "ranked-01"
mode = "ranked"
title = "Argue"
body = "Defend a position."
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	sink := &recordingSink{}
	n, err := LoadCatalog(context.Background(), path, sink, nil)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if n != 2 || len(sink.prompts) != 2 {
		t.Fatalf("loaded %d prompts (sink %d), want 2", n, len(sink.prompts))
	}
	first, second := sink.prompts[0], sink.prompts[1]
	if !first.NeedsSelection() {
		t.Error("letters-01 should need a selection")
	}
	if second.NeedsSelection() {
		t.Error("ranked-01 should not need a selection")
	}
	if !first.CreatedAt.Before(second.CreatedAt) {
		t.Error("catalog order not preserved in CreatedAt")
	}
}

func TestParseCatalogRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing id", data: "[[prompt]]\nmode = \"practice\"\nbody = \"x\"\n"},
		{name: "bad mode", data: "[[prompt]]\nid = \"a\"\nmode = \"duel\"\nbody = \"x\"\n"},
		{name: "blank body", data: "[[prompt]]\nid = \"a\"\nmode = \"practice\"\nbody = \"  \"\n"},
		{name: "duplicate", data: "[[prompt]]\nid = \"a\"\nmode = \"practice\"\nbody = \"x\"\n[[prompt]]\nid = \"a\"\nmode = \"practice\"\nbody = \"y\"\n"},
		{name: "not toml", data: "[[prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.data), time.Now()); err == nil {
				t.Error("ParseCatalog() error = nil, want error")
			}
		})
	}
}
