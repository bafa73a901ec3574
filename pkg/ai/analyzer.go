package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrAnalysisMalformed marks a per-file analysis the model did not return in the expected shape.
var ErrAnalysisMalformed = errors.New("file analysis malformed")

// FileInput is the material handed to the map step for a single required file.
type FileInput struct {
	Filename  string
	Content   string
	Rubric    string
	SourceURL string
	APIKey    string
}

// FileAnalyzer performs the map step: one LLM review per required file.
type FileAnalyzer struct {
	provider  Provider
	maxTokens int
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewFileAnalyzer constructs an analyzer bound to the given provider.
func NewFileAnalyzer(provider Provider, maxTokens int, logger zerolog.Logger) *FileAnalyzer {
	return &FileAnalyzer{
		provider:  provider,
		maxTokens: maxTokens,
		tracer:    otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/analyzer"),
		logger:    logger.With().Str("component", "file_analyzer").Logger(),
	}
}

type analysisPayload struct {
	Summary    string      `json:"summary"`
	Strengths  []string    `json:"strengths"`
	Weaknesses []string    `json:"weaknesses"`
	Errors     []LineError `json:"errors"`
	Score      float64     `json:"score"`
}

// Analyze never fails: provider and decoding errors yield a degraded analysis with a zero score.
func (a *FileAnalyzer) Analyze(parent context.Context, input FileInput) FileAnalysis {
	ctx, span := a.tracer.Start(parent, "analyzer.analyze", trace.WithAttributes(
		attribute.String("file", input.Filename),
	))
	defer span.End()

	raw, err := a.provider.Complete(ctx, CompletionRequest{
		APIKey:    input.APIKey,
		System:    analysisSystemPrompt,
		Prompt:    buildAnalysisPrompt(input.Filename, input.Content, input.Rubric),
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn().Err(err).Str("file", input.Filename).Msg("file analysis request failed")
		analysisOutcomes.WithLabelValues("provider_error").Inc()
		return Degraded(input.Filename, input.SourceURL, fmt.Sprintf("Automatic analysis failed: %v", err))
	}

	var payload analysisPayload
	if err := decodeValidated("analysis", raw, analysisSchema, &payload); err != nil {
		err = fmt.Errorf("%w: %w", ErrAnalysisMalformed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn().Err(err).Str("file", input.Filename).Msg("file analysis malformed")
		analysisOutcomes.WithLabelValues("malformed").Inc()
		return Degraded(input.Filename, input.SourceURL, fmt.Sprintf("Automatic analysis returned an unreadable response: %v", err))
	}

	analysisOutcomes.WithLabelValues("ok").Inc()
	return FileAnalysis{
		Filename:          input.Filename,
		SourceURL:         input.SourceURL,
		Summary:           NormalizeEscapes(strings.TrimSpace(payload.Summary)),
		Strengths:         nonNil(payload.Strengths),
		Weaknesses:        nonNil(payload.Weaknesses),
		Errors:            lineErrors(payload.Errors),
		ScoreContribution: ClampScore(payload.Score),
	}
}

// Degraded builds the placeholder analysis recorded when a file could not be reviewed.
func Degraded(filename, sourceURL, reason string) FileAnalysis {
	return FileAnalysis{
		Filename:   filename,
		SourceURL:  sourceURL,
		Summary:    "Analysis unavailable.",
		Strengths:  []string{},
		Weaknesses: []string{reason},
		Errors:     []LineError{},
		Degraded:   true,
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func lineErrors(items []LineError) []LineError {
	if items == nil {
		return []LineError{}
	}
	return items
}
