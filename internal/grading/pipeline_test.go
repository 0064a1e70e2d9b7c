package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/inkwell/internal/domain"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies map[string]string // layer keyword -> reply
	err     error
	calls   []Completion
}

func (s *scriptedCompleter) Complete(_ context.Context, c Completion) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	if s.err != nil {
		return "", s.err
	}
	for keyword, reply := range s.replies {
		if strings.Contains(c.System, keyword) {
			return reply, nil
		}
	}
	return `{"score": 50, "feedback": "ok"}`, nil
}

func testPrompt() *domain.Prompt {
	return &domain.Prompt{ID: "p1", Mode: domain.ModePractice, Title: "A day at sea", Body: "Describe a storm."}
}

func TestPipelineGradeCombinesLayers(t *testing.T) {
	completer := &scriptedCompleter{replies: map[string]string{
		"spelling":     `{"score": 80, "feedback": "Clean sentences."}`,
		"organization": "```json\n{\"score\": 60, \"feedback\": \"Needs paragraphs.\"}\n```",
		"answers":      `Sure! {"score": 100, "feedback": "Vivid."}`,
	}}
	p := NewPipeline(completer, nil, nil)

	result, err := p.Grade(context.Background(), Request{
		Text:     "The waves rose.",
		Prompt:   testPrompt(),
		CallType: CallGrading,
		Budget:   2500,
	})
	if err != nil {
		t.Fatalf("Grade failed: %v", err)
	}

	// 80*0.25 + 60*0.35 + 100*0.40 = 81
	if result.Composite != 81 {
		t.Fatalf("expected composite 81, got %v", result.Composite)
	}
	if len(result.Phases) != 3 {
		t.Fatalf("expected 3 phases, got %d", len(result.Phases))
	}
	if result.Feedback != "Needs paragraphs." {
		t.Fatalf("expected weakest layer feedback, got %q", result.Feedback)
	}
	if result.GradedAt.IsZero() {
		t.Fatal("expected GradedAt to be set")
	}
	for _, c := range completer.calls {
		if c.MaxTokens != 2500 {
			t.Fatalf("expected MaxTokens 2500, got %d", c.MaxTokens)
		}
	}
}

func TestPipelineGradeIncludesRevisionContext(t *testing.T) {
	completer := &scriptedCompleter{}
	p := NewPipeline(completer, []Layer{{Name: "only", Weight: 1, Rubric: "x"}}, nil)

	prev := &domain.Attempt{Seq: 1, Draft: "first", Result: &domain.GradingResult{Composite: 55, Feedback: "Add detail."}}
	_, err := p.Grade(context.Background(), Request{
		Text:      "second",
		Prompt:    testPrompt(),
		Selection: "Option B",
		Previous:  prev,
		CallType:  CallBatchRevisions,
		Budget:    3500,
	})
	if err != nil {
		t.Fatalf("Grade failed: %v", err)
	}
	user := completer.calls[0].User
	for _, want := range []string{"Add detail.", "55.0", "Option B", "second"} {
		if !strings.Contains(user, want) {
			t.Fatalf("expected request to contain %q:\n%s", want, user)
		}
	}
}

func TestPipelineGradeRejectsBlankText(t *testing.T) {
	completer := &scriptedCompleter{}
	p := NewPipeline(completer, nil, nil)

	_, err := p.Grade(context.Background(), Request{Text: "  \n\t", Prompt: testPrompt()})
	if kind, _ := KindOf(err); kind != KindInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if len(completer.calls) != 0 {
		t.Fatalf("expected no completions, got %d", len(completer.calls))
	}
}

func TestPipelineGradePropagatesFailureKind(t *testing.T) {
	completer := &scriptedCompleter{err: Fail(KindRateLimited, errors.New("slow down"))}
	p := NewPipeline(completer, nil, nil)

	_, err := p.Grade(context.Background(), Request{Text: "hello", Prompt: testPrompt()})
	if kind, _ := KindOf(err); kind != KindRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if len(completer.calls) != 1 {
		t.Fatalf("expected pipeline to stop after first failure, got %d calls", len(completer.calls))
	}
}

func TestPipelineGradeUnparseableReplyIsModelError(t *testing.T) {
	completer := &scriptedCompleter{replies: map[string]string{"spelling": "I refuse."}}
	p := NewPipeline(completer, nil, nil)

	_, err := p.Grade(context.Background(), Request{Text: "hello", Prompt: testPrompt()})
	if kind, _ := KindOf(err); kind != KindModelError {
		t.Fatalf("expected MODEL_ERROR, got %v", err)
	}
}

func TestPipelineGradeDeadlineIsTimeout(t *testing.T) {
	completer := &scriptedCompleter{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)}
	p := NewPipeline(completer, nil, nil)

	_, err := p.Grade(context.Background(), Request{Text: "hello", Prompt: testPrompt()})
	if kind, _ := KindOf(err); kind != KindTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestParseLayerResponseClampsScore(t *testing.T) {
	score, err := parseLayerResponse(`{"score": 140, "feedback": " great "}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if score.Score != 100 || score.Feedback != "great" {
		t.Fatalf("unexpected score: %+v", score)
	}

	if _, err := parseLayerResponse(`{"feedback": "no score"}`); err == nil {
		t.Fatal("expected error for missing score")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose", `Here you go: {"a": "}"} thanks`, `{"a": "}"}`},
		{"nested", `{"a": {"b": 2}} tail`, `{"a": {"b": 2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Fatalf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
