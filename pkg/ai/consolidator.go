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

// ErrConsolidationFailed indicates the reduce step could not produce a usable verdict.
var ErrConsolidationFailed = errors.New("consolidation failed")

// DefaultMissingFileCap bounds the grade whenever a required file is absent.
const DefaultMissingFileCap = 2.0

// ConsolidationInput gathers everything the reduce step needs.
type ConsolidationInput struct {
	Rubric         string
	Analyses       []FileAnalysis
	MissingFiles   []string
	RepositoryTree []string
	APIKey         string
}

// ConsolidatorConfig tunes the reduce step.
type ConsolidatorConfig struct {
	MaxTokens      int
	MissingFileCap float64
}

// Consolidator performs the reduce step over all per-file analyses.
type Consolidator struct {
	provider Provider
	cfg      ConsolidatorConfig
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewConsolidator constructs a consolidator bound to the given provider.
func NewConsolidator(provider Provider, cfg ConsolidatorConfig, logger zerolog.Logger) *Consolidator {
	if cfg.MissingFileCap <= 0 || cfg.MissingFileCap > MaxGrade {
		cfg.MissingFileCap = DefaultMissingFileCap
	}
	return &Consolidator{
		provider: provider,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/consolidator"),
		logger:   logger.With().Str("component", "consolidator").Logger(),
	}
}

// Consolidate asks the model for a single grade and feedback document.
// Every failure wraps ErrConsolidationFailed and no partial result is returned.
func (c *Consolidator) Consolidate(parent context.Context, in ConsolidationInput) (GradingResult, error) {
	ctx, span := c.tracer.Start(parent, "consolidator.consolidate", trace.WithAttributes(
		attribute.Int("analyses", len(in.Analyses)),
		attribute.Int("missing_files", len(in.MissingFiles)),
	))
	defer span.End()

	fail := func(outcome string, err error) (GradingResult, error) {
		err = fmt.Errorf("%w: %w", ErrConsolidationFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		consolidationOutcomes.WithLabelValues(outcome).Inc()
		c.logger.Error().Err(err).Msg("consolidation failed")
		return GradingResult{}, err
	}

	prompt, err := buildConsolidationPrompt(in)
	if err != nil {
		return fail("prompt_error", err)
	}

	raw, err := c.provider.Complete(ctx, CompletionRequest{
		APIKey:    in.APIKey,
		System:    fmt.Sprintf(consolidationSystemPrompt, c.cfg.MissingFileCap),
		Prompt:    prompt,
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return fail("provider_error", err)
	}

	var result GradingResult
	if err := decodeValidated("consolidation", raw, gradingSchema, &result); err != nil {
		return fail("malformed", err)
	}

	result.Feedback = strings.TrimSpace(NormalizeEscapes(result.Feedback))
	if result.Feedback == "" {
		return fail("malformed", &MalformedOutputError{Stage: "consolidation", Raw: raw, Cause: errors.New("empty feedback")})
	}

	modelGrade := result.Grade
	result.Grade = ClampScore(result.Grade)
	if len(in.MissingFiles) > 0 && result.Grade > c.cfg.MissingFileCap {
		result.Grade = c.cfg.MissingFileCap
	}
	if result.Grade != modelGrade {
		c.logger.Info().
			Float64("model_grade", modelGrade).
			Float64("grade", result.Grade).
			Strs("missing_files", in.MissingFiles).
			Msg("grade clamped")
	}

	consolidationOutcomes.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Float64("grade", result.Grade))
	return result, nil
}
