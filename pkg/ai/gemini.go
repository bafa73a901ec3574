package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

// GeminiConfig defines configuration options for the Gemini provider.
type GeminiConfig struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Endpoint    string
	Logger      zerolog.Logger
}

// GeminiProvider implements Provider against Google's Gemini API.
type GeminiProvider struct {
	cfg    GeminiConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGeminiProvider builds a Gemini provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}

	return &GeminiProvider{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/gemini"),
		logger: cfg.Logger.With().Str("component", "gemini_provider").Logger(),
	}
}

// Name identifies the provider in logs and stored history.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete sends the prompt to Gemini with a JSON response MIME type.
func (p *GeminiProvider) Complete(parent context.Context, req CompletionRequest) (string, error) {
	ctx, span := p.tracer.Start(parent, "gemini.complete", trace.WithAttributes(
		attribute.String("model", p.cfg.Model),
	))
	defer span.End()

	if req.APIKey == "" {
		err := fmt.Errorf("gemini api key is required")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	text, err := p.generate(ctx, req)
	observeCompletion(p.Name(), p.cfg.Model, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("gemini complete: %w", err)
	}

	return text, nil
}

func (p *GeminiProvider) clientOptions(apiKey string) []option.ClientOption {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint := strings.TrimSpace(p.cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

func (p *GeminiProvider) generate(ctx context.Context, req CompletionRequest) (string, error) {
	client, err := genai.NewClient(ctx, p.clientOptions(req.APIKey)...)
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			p.logger.Warn().Err(closeErr).Msg("failed to close gemini client")
		}
	}()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	model := client.GenerativeModel(p.cfg.Model)
	model.SetTemperature(p.cfg.Temperature)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.TrimSpace(strings.Join(parts, "")), nil
}
