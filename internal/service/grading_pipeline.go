package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/source"
)

// NotebookFilename is the name under which a notebook transcript is analyzed.
const NotebookFilename = "notebook.ipynb"

const defaultMaxDiscoveredFiles = 20

// gradableExtensions limits tree discovery to source and document files.
var gradableExtensions = map[string]struct{}{
	".py": {}, ".ipynb": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".go": {}, ".java": {},
	".kt": {}, ".c": {}, ".h": {}, ".cpp": {}, ".hpp": {}, ".cs": {}, ".rb": {}, ".php": {},
	".rs": {}, ".swift": {}, ".html": {}, ".css": {}, ".sql": {}, ".sh": {}, ".md": {},
}

// skippedDirs are never descended into during discovery.
var skippedDirs = map[string]struct{}{
	"node_modules": {}, "vendor": {}, "dist": {}, "build": {}, "venv": {}, ".venv": {}, "__pycache__": {},
}

// RepositoryFetcher retrieves raw files and listings from a hosted repository.
type RepositoryFetcher interface {
	FetchFile(ctx context.Context, ref source.RepositoryRef, path, token string) (string, error)
	ListTree(ctx context.Context, ref source.RepositoryRef, token string) ([]string, error)
}

// TranscriptFetcher downloads a notebook and flattens it into a transcript.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, id string) (string, error)
}

// FileAnalyzer reviews a single file. It never fails; failures come back as degraded analyses.
type FileAnalyzer interface {
	Analyze(ctx context.Context, input ai.FileInput) ai.FileAnalysis
}

// Consolidator reduces all per-file analyses into one grading result.
type Consolidator interface {
	Consolidate(ctx context.Context, input ai.ConsolidationInput) (ai.GradingResult, error)
}

// GradingPipelineConfig tunes the map phase.
type GradingPipelineConfig struct {
	MapConcurrency int
	FetchRetries   int
	RetryBackoff   time.Duration
	IncludeTree    bool
	ProviderName   string
	// MaxDiscoveredFiles caps how many tree files are analyzed when an activity lists no required files.
	MaxDiscoveredFiles int
}

// GradingRequest identifies one grading run.
type GradingRequest struct {
	Activity models.Activity
	URL      string
	UserID   uint
	RunID    string
}

// GradingOutcome is the result of a successful run.
type GradingOutcome struct {
	RunID        string
	Provider     string
	Result       ai.GradingResult
	Analyses     []ai.FileAnalysis
	MissingFiles []string
	Warnings     []string
}

// GradingPipeline runs locate, fetch, map and reduce for a submission URL.
type GradingPipeline interface {
	Run(ctx context.Context, req GradingRequest) (GradingOutcome, error)
}

type gradingPipeline struct {
	repos        RepositoryFetcher
	notebooks    TranscriptFetcher
	analyzer     FileAnalyzer
	consolidator Consolidator
	credentials  CredentialResolver
	cfg          GradingPipelineConfig
	tracer       trace.Tracer
	logger       zerolog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewGradingPipeline wires the pipeline stages together.
func NewGradingPipeline(repos RepositoryFetcher, notebooks TranscriptFetcher, analyzer FileAnalyzer, consolidator Consolidator, credentials CredentialResolver, cfg GradingPipelineConfig, logger zerolog.Logger) GradingPipeline {
	if cfg.MapConcurrency <= 0 {
		cfg.MapConcurrency = 1
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxDiscoveredFiles <= 0 {
		cfg.MaxDiscoveredFiles = defaultMaxDiscoveredFiles
	}

	return &gradingPipeline{
		repos:        repos,
		notebooks:    notebooks,
		analyzer:     analyzer,
		consolidator: consolidator,
		credentials:  credentials,
		cfg:          cfg,
		tracer:       otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading_pipeline"),
		logger:       logger.With().Str("component", "grading_pipeline").Logger(),
		sleep:        sleepContext,
	}
}

type fileResult struct {
	analysis *ai.FileAnalysis
	missing  bool
	warning  string
}

func (p *gradingPipeline) Run(parent context.Context, req GradingRequest) (GradingOutcome, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	kind := string(req.Activity.Kind)

	ctx, span := p.tracer.Start(parent, "grading.run", trace.WithAttributes(
		attribute.String("run_id", req.RunID),
		attribute.String("kind", kind),
		attribute.Int64("activity_id", int64(req.Activity.ID)),
	))
	defer span.End()

	logger := p.logger.With().
		Str("run_id", req.RunID).
		Str("submission_key", models.SubmissionKey(req.UserID, req.Activity.ID)).
		Logger()

	start := time.Now()
	outcome, err := p.run(ctx, req, logger)
	observability.GradingDuration().WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GradingRuns().WithLabelValues(kind, runOutcome(err)).Inc()
		logger.Warn().Err(err).Msg("grading run failed")
		return GradingOutcome{}, err
	}

	observability.GradingRuns().WithLabelValues(kind, "success").Inc()
	observability.GradingMissingFiles().Observe(float64(len(outcome.MissingFiles)))
	span.SetAttributes(
		attribute.Float64("grade", outcome.Result.Grade),
		attribute.Int("missing_files", len(outcome.MissingFiles)),
	)
	logger.Info().
		Float64("grade", outcome.Result.Grade).
		Strs("missing_files", outcome.MissingFiles).
		Int("warnings", len(outcome.Warnings)).
		Dur("elapsed", time.Since(start)).
		Msg("grading run completed")

	return outcome, nil
}

func (p *gradingPipeline) run(ctx context.Context, req GradingRequest, logger zerolog.Logger) (GradingOutcome, error) {
	apiKey, err := p.resolve(ctx, req.UserID, CredentialLLM)
	if err != nil {
		return GradingOutcome{}, err
	}
	if apiKey == "" {
		return GradingOutcome{}, ErrCredentialMissing
	}

	outcome := GradingOutcome{RunID: req.RunID, Provider: p.cfg.ProviderName}
	consolidation := ai.ConsolidationInput{Rubric: req.Activity.Statement, APIKey: apiKey}

	switch req.Activity.Kind {
	case models.ActivityKindRepoFiles:
		if err := p.mapRepository(ctx, req, apiKey, &outcome, &consolidation, logger); err != nil {
			return GradingOutcome{}, err
		}
	case models.ActivityKindNotebook:
		analysis, err := p.mapNotebook(ctx, req, apiKey)
		if err != nil {
			return GradingOutcome{}, err
		}
		outcome.Analyses = []ai.FileAnalysis{analysis}
	default:
		return GradingOutcome{}, fmt.Errorf("%w: %s activities are graded manually", ErrInvalidSubmissionKind, req.Activity.Kind)
	}

	if err := ctx.Err(); err != nil {
		return GradingOutcome{}, err
	}

	consolidation.Analyses = outcome.Analyses
	consolidation.MissingFiles = outcome.MissingFiles
	result, err := p.consolidator.Consolidate(ctx, consolidation)
	if err != nil {
		return GradingOutcome{}, err
	}

	outcome.Result = result
	return outcome, nil
}

func (p *gradingPipeline) mapRepository(ctx context.Context, req GradingRequest, apiKey string, outcome *GradingOutcome, consolidation *ai.ConsolidationInput, logger zerolog.Logger) error {
	ref, err := source.ParseRepository(req.URL)
	if err != nil {
		return err
	}

	token, err := p.resolve(ctx, req.UserID, CredentialGitHub)
	if err != nil {
		logger.Warn().Err(err).Msg("github credential lookup failed, continuing unauthenticated")
		token = ""
	}

	paths := req.Activity.RequiredFilePaths()
	discover := len(paths) == 0
	if p.cfg.IncludeTree || discover {
		tree, err := p.repos.ListTree(ctx, ref, token)
		switch {
		case err != nil && discover:
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("%w: %v", ErrRepositoryUnlisted, err)
		case err != nil:
			logger.Warn().Err(err).Msg("repository tree listing failed")
			outcome.Warnings = append(outcome.Warnings, "Repository structure could not be listed.")
		default:
			if p.cfg.IncludeTree {
				consolidation.RepositoryTree = tree
			}
		}

		if discover {
			candidates := gradableFiles(tree)
			if len(candidates) == 0 {
				return ErrNoGradableFiles
			}
			if len(candidates) > p.cfg.MaxDiscoveredFiles {
				outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("Only the first %d of %d source files were analyzed.", p.cfg.MaxDiscoveredFiles, len(candidates)))
				candidates = candidates[:p.cfg.MaxDiscoveredFiles]
			}
			paths = candidates
			logger.Debug().Int("files", len(paths)).Msg("required files discovered from repository tree")
		}
	}

	repoURL := fmt.Sprintf("https://github.com/%s", ref)
	results := make([]fileResult, len(paths))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.MapConcurrency)
	for i, path := range paths {
		i, path := i, path
		group.Go(func() error {
			content, err := p.fetchWithRetry(groupCtx, func(ctx context.Context) (string, error) {
				return p.repos.FetchFile(ctx, ref, path, token)
			})
			if err != nil {
				if cerr := groupCtx.Err(); cerr != nil {
					return cerr
				}
				results[i] = fileResult{missing: true, warning: fetchWarning(path, err)}
				if results[i].warning != "" {
					logger.Warn().Err(err).Str("file", path).Msg("required file could not be fetched")
				}
				return nil
			}

			analysis := p.analyzer.Analyze(groupCtx, ai.FileInput{
				Filename:  path,
				Content:   content,
				Rubric:    req.Activity.Statement,
				SourceURL: repoURL,
				APIKey:    apiKey,
			})
			results[i] = fileResult{analysis: &analysis}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, result := range results {
		if result.missing {
			outcome.MissingFiles = append(outcome.MissingFiles, paths[i])
		}
		if result.warning != "" {
			outcome.Warnings = append(outcome.Warnings, result.warning)
		}
		if result.analysis != nil {
			outcome.Analyses = append(outcome.Analyses, *result.analysis)
		}
	}
	return nil
}

func (p *gradingPipeline) mapNotebook(ctx context.Context, req GradingRequest, apiKey string) (ai.FileAnalysis, error) {
	id := source.ParseNotebookID(req.URL)
	transcript, err := p.fetchWithRetry(ctx, func(ctx context.Context) (string, error) {
		return p.notebooks.FetchTranscript(ctx, id)
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return ai.FileAnalysis{}, cerr
		}
		if !errors.Is(err, source.ErrNotebookUnreadable) {
			err = fmt.Errorf("%w: %v", source.ErrNotebookUnreadable, err)
		}
		return ai.FileAnalysis{}, err
	}

	return p.analyzer.Analyze(ctx, ai.FileInput{
		Filename:  NotebookFilename,
		Content:   transcript,
		Rubric:    req.Activity.Statement,
		SourceURL: req.URL,
		APIKey:    apiKey,
	}), nil
}

// gradableFiles keeps source-like blobs outside dependency and hidden directories, in tree order.
func gradableFiles(tree []string) []string {
	files := make([]string, 0, len(tree))
	for _, blob := range tree {
		if !isGradable(blob) {
			continue
		}
		files = append(files, blob)
	}
	return files
}

func isGradable(blob string) bool {
	segments := strings.Split(blob, "/")
	for _, dir := range segments[:len(segments)-1] {
		if strings.HasPrefix(dir, ".") {
			return false
		}
		if _, skip := skippedDirs[dir]; skip {
			return false
		}
	}
	_, ok := gradableExtensions[strings.ToLower(path.Ext(blob))]
	return ok
}

// fetchWithRetry retries operational fetch faults with linear backoff; content signals return immediately.
func (p *gradingPipeline) fetchWithRetry(ctx context.Context, fetch func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, time.Duration(attempt)*p.cfg.RetryBackoff); err != nil {
				return "", err
			}
		}
		content, err := fetch(ctx)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !source.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

func (p *gradingPipeline) resolve(ctx context.Context, userID uint, purpose CredentialPurpose) (string, error) {
	if p.credentials == nil {
		return "", nil
	}
	value, err := p.credentials.Resolve(ctx, userID, purpose)
	if err != nil {
		return "", fmt.Errorf("resolve %s credential: %w", purpose, err)
	}
	return strings.TrimSpace(value), nil
}

// fetchWarning returns an empty string for plain absence and a user-facing note for operational faults.
func fetchWarning(path string, err error) string {
	switch {
	case errors.Is(err, source.ErrFileNotFound):
		return ""
	case errors.Is(err, source.ErrContentTooLarge):
		return fmt.Sprintf("%s exceeds the size limit for grading; it was graded as missing.", path)
	case source.IsRateLimited(err):
		return fmt.Sprintf("GitHub rate limit reached while fetching %s; it was graded as missing. Configure a GitHub token or retry later.", path)
	default:
		return fmt.Sprintf("%s could not be fetched (%v); it was graded as missing.", path, err)
	}
}

func runOutcome(err error) string {
	switch {
	case errors.Is(err, ai.ErrConsolidationFailed):
		return "consolidation_failed"
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.Is(err, source.ErrNotebookUnreadable):
		return "notebook_unreadable"
	case errors.Is(err, source.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrRepositoryUnlisted), errors.Is(err, ErrNoGradableFiles):
		return "no_files"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
