package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompleter sends layer completions to an OpenAI-compatible chat
// completions endpoint.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// OpenAIConfig configures an OpenAICompleter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// NewOpenAICompleter creates a completer for cfg.
func NewOpenAICompleter(cfg OpenAIConfig, logger *slog.Logger) *OpenAICompleter {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.APIKey == "" {
		logger.Warn("Grader configured without API key", "base_url", clientCfg.BaseURL)
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "openai"),
	}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, comp Completion) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: comp.System},
			{Role: openai.ChatMessageRoleUser, Content: comp.User},
		},
		MaxTokens:   comp.MaxTokens,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", classifyOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", Fail(KindModelError, errors.New("no choices returned in response"))
	}

	c.logger.Debug("Completion received",
		"model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Fail(KindTimeout, err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return Fail(KindRateLimited, err)
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return Fail(KindInvalidInput, err)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return Fail(KindTimeout, err)
	case 0:
		return Fail(KindModelError, fmt.Errorf("completion request failed: %w", err))
	default:
		return Fail(KindModelError, err)
	}
}
