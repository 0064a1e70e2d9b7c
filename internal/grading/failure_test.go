package grading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	if Classify(context.Background(), nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	typed := Fail(KindInvalidInput, errors.New("bad"))
	if got := Classify(context.Background(), typed); got != typed {
		t.Fatalf("expected typed failure to pass through, got %v", got)
	}

	if kind, _ := KindOf(Classify(context.Background(), errors.New("boom"))); kind != KindModelError {
		t.Fatalf("expected MODEL_ERROR, got %s", kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if kind, _ := KindOf(Classify(ctx, errors.New("transport closed"))); kind != KindTimeout {
		t.Fatalf("expected TIMEOUT for expired context, got %s", kind)
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("submit: %w", Fail(KindRateLimited, nil))
	kind, ok := KindOf(err)
	if !ok || kind != KindRateLimited {
		t.Fatalf("expected RATE_LIMITED through wrapping, got %s %v", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("expected no kind for plain error")
	}
}
