package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Band
	}{
		{100, BandExcellent},
		{90, BandExcellent},
		{89.99, BandGood},
		{82, BandGood},
		{75, BandGood},
		{74.5, BandFair},
		{60, BandFair},
		{59.99, BandNeedsWork},
		{0, BandNeedsWork},
	}
	for _, tt := range tests {
		if got := BandFor(tt.score); got != tt.want {
			t.Errorf("BandFor(%v) = %s, want %s", tt.score, got.Name, tt.want.Name)
		}
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "plain text", text: "A short paragraph."},
		{name: "padded text", text: "  \n words \t"},
		{name: "empty", text: "", wantErr: true},
		{name: "whitespace only", text: " \n\t\r ", wantErr: true},
		{name: "at limit", text: strings.Repeat("a", MaxContentBytes)},
		{name: "over limit", text: strings.Repeat("a", MaxContentBytes+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != "content" {
				t.Errorf("error = %#v, want content ValidationError", err)
			}
		})
	}
}

func TestPhaseClassification(t *testing.T) {
	for _, p := range Phases() {
		if !p.Valid() {
			t.Errorf("%s not valid", p)
		}
		got, err := ParsePhase(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePhase(%s) = %s, %v", p, got, err)
		}
	}
	if _, err := ParsePhase("drafting"); err == nil {
		t.Error("ParsePhase accepted an unknown phase")
	}

	terminal := map[Phase]bool{PhaseResults: true, PhaseNoPrompt: true, PhaseBlocked: true}
	composing := map[Phase]bool{PhaseWrite: true, PhaseRevise: true}
	for _, p := range Phases() {
		if p.Terminal() != terminal[p] {
			t.Errorf("%s.Terminal() = %v", p, p.Terminal())
		}
		if p.Composing() != composing[p] {
			t.Errorf("%s.Composing() = %v", p, p.Composing())
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[Phase]SessionStatus{
		PhaseResults:  StatusCompleted,
		PhaseNoPrompt: StatusNoPrompt,
		PhaseBlocked:  StatusBlocked,
		PhaseFeedback: StatusActive,
		PhaseLoading:  StatusActive,
	}
	for p, want := range tests {
		if got := StatusFor(p); got != want {
			t.Errorf("StatusFor(%s) = %s, want %s", p, got, want)
		}
	}
}

func TestGradingResultClone(t *testing.T) {
	orig := &GradingResult{Composite: 80, Phases: map[string]PhaseScore{"content": {Score: 80}}}
	cp := orig.Clone()
	cp.Phases["content"] = PhaseScore{Score: 10}
	cp.Composite = 10

	if orig.Phases["content"].Score != 80 || orig.Composite != 80 {
		t.Error("mutating the clone changed the original")
	}
	if (*GradingResult)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestPromptClone(t *testing.T) {
	orig := &Prompt{ID: "p1", Options: []string{"a", "b"}}
	cp := orig.Clone()
	cp.Options[0] = "changed"
	cp.Title = "changed"

	if orig.Options[0] != "a" || orig.Title != "" {
		t.Error("mutating the clone changed the original")
	}
	if (*Prompt)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestBestScore(t *testing.T) {
	rec := SessionRecord{Attempts: []Attempt{
		{Seq: 1, Result: &GradingResult{Composite: 64}},
		{Seq: 2, Result: &GradingResult{Composite: 88}},
		{Seq: 3, Result: &GradingResult{Composite: 71}},
	}}
	if got := rec.BestScore(); got != 88 {
		t.Errorf("BestScore() = %v, want 88", got)
	}
	if got := (&SessionRecord{}).BestScore(); got != 0 {
		t.Errorf("empty BestScore() = %v", got)
	}
}

func TestParseModeAndPrompt(t *testing.T) {
	for _, s := range []string{"ranked", "quick_match", "practice"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) error = %v", s, err)
		}
	}
	if _, err := ParseMode("casual"); err == nil {
		t.Error("ParseMode accepted unknown mode")
	}

	p := &Prompt{Options: []string{"a", "b"}}
	if !p.NeedsSelection() || !p.HasOption("b") || p.HasOption("c") {
		t.Error("multi-option prompt misclassified")
	}
	if (&Prompt{Options: []string{"only"}}).NeedsSelection() {
		t.Error("single option should not need selection")
	}
}

func TestUserIdleFor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	u := &User{LastSeenAt: now.Add(-90 * time.Second)}
	if got := u.IdleFor(now); got != 90*time.Second {
		t.Errorf("IdleFor = %v", got)
	}
	u.LastSeenAt = now.Add(time.Minute)
	if got := u.IdleFor(now); got != 0 {
		t.Errorf("future IdleFor = %v, want 0", got)
	}
}
