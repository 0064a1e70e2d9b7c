package grading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestCompleter(t *testing.T, handler http.HandlerFunc) *OpenAICompleter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompleter(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "grader-test"}, nil)
}

func TestOpenAICompleterReturnsContent(t *testing.T) {
	var gotMaxTokens int
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotMaxTokens = body.MaxTokens
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "grader-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"score\": 81, \"feedback\": \"tight\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	got, err := c.Complete(context.Background(), Completion{System: "sys", User: "draft", MaxTokens: 2500})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != `{"score": 81, "feedback": "tight"}` {
		t.Errorf("content = %q", got)
	}
	if gotMaxTokens != 2500 {
		t.Errorf("max_tokens = %d, want 2500", gotMaxTokens)
	}
}

func TestOpenAICompleterClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FailureKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadRequest, KindInvalidInput},
		{http.StatusUnprocessableEntity, KindInvalidInput},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusInternalServerError, KindModelError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "test_error"}}`))
			})

			_, err := c.Complete(context.Background(), Completion{System: "sys", User: "draft", MaxTokens: 100})
			kind, ok := KindOf(err)
			if !ok || kind != tt.want {
				t.Errorf("kind = %q (ok=%v), want %q; err = %v", kind, ok, tt.want, err)
			}
		})
	}
}

func TestOpenAICompleterEmptyChoices(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cmpl-2", "object": "chat.completion", "choices": []}`))
	})

	_, err := c.Complete(context.Background(), Completion{System: "sys", User: "draft", MaxTokens: 100})
	if kind, _ := KindOf(err); kind != KindModelError {
		t.Errorf("kind = %q, want MODEL_ERROR", kind)
	}
}
