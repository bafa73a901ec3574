package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenAIConfig defines configuration options for the OpenAI provider.
type OpenAIConfig struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// BaseURL overrides the API endpoint, e.g. for compatible gateways.
	BaseURL string
	Logger  zerolog.Logger
}

// OpenAIProvider implements Provider against the OpenAI chat completion API.
// The API key travels with every request so per-user credentials can be used.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIProvider builds a new provider using the provided configuration.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	return &OpenAIProvider{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_provider").Logger(),
	}
}

// Name identifies the provider in logs and stored history.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends the prompt to OpenAI in JSON mode and returns the raw message content.
func (p *OpenAIProvider) Complete(parent context.Context, req CompletionRequest) (string, error) {
	ctx, span := p.tracer.Start(parent, "openai.complete", trace.WithAttributes(
		attribute.String("model", p.cfg.Model),
	))
	defer span.End()

	if req.APIKey == "" {
		err := fmt.Errorf("openai api key is required")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	config := openai.DefaultConfig(req.APIKey)
	if p.cfg.BaseURL != "" {
		config.BaseURL = p.cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: p.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err == nil && len(resp.Choices) == 0 {
		err = fmt.Errorf("no choices returned from openai")
	}
	observeCompletion(p.Name(), p.cfg.Model, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai complete: %w", err)
	}

	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
	)
	p.logger.Debug().Int("total_tokens", resp.Usage.TotalTokens).Msg("openai completion finished")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
