package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/source"
)

type gradeOptions struct {
	url           string
	statementFile string
	files         string
	kind          string
	provider      string
	model         string
	apiKey        string
	githubToken   string
	concurrency   int
	retries       int
	includeTree   bool
	maxFiles      int
	missingCap    float64
	rawBaseURL    string
	apiBaseURL    string
	driveURL      string
	llmBaseURL    string
	timeout       time.Duration
	verbose       bool
}

type gradeOutput struct {
	RunID        string            `json:"run_id"`
	Provider     string            `json:"provider"`
	Grade        float64           `json:"grade"`
	Feedback     string            `json:"feedback"`
	MissingFiles []string          `json:"missing_files"`
	Warnings     []string          `json:"warnings"`
	Files        []ai.FileAnalysis `json:"files"`
}

func newGradeCmd() *cobra.Command {
	opts := &gradeOptions{}

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a repository or notebook link against an assignment statement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGrade(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.url, "url", "u", "", "Submission link (GitHub repository or Colab/Drive notebook)")
	flags.StringVarP(&opts.statementFile, "statement-file", "s", "", "Path to the assignment statement (Markdown)")
	flags.StringVarP(&opts.files, "files", "f", "", "Comma separated required file paths")
	flags.StringVar(&opts.kind, "kind", string(models.ActivityKindRepoFiles), "Activity kind: repo_files or notebook")
	flags.StringVar(&opts.provider, "provider", envOr("GRADER_AI_PROVIDER", ai.ProviderOpenAI), "Model provider: openai or gemini")
	flags.StringVar(&opts.model, "model", os.Getenv("GRADER_AI_MODEL"), "Model name override")
	flags.StringVar(&opts.apiKey, "api-key", "", "Model API key (defaults to the provider's environment variable)")
	flags.StringVar(&opts.githubToken, "github-token", envOr("GRADER_GITHUB_TOKEN", os.Getenv("GITHUB_TOKEN")), "Optional GitHub token")
	flags.IntVar(&opts.concurrency, "concurrency", 4, "Files analyzed in parallel")
	flags.IntVar(&opts.retries, "retries", 2, "Retries for transient fetch failures")
	flags.BoolVar(&opts.includeTree, "include-tree", false, "Pass the repository file listing to the consolidation step")
	flags.IntVar(&opts.maxFiles, "max-files", 20, "Files analyzed from the repository tree when --files is empty")
	flags.Float64Var(&opts.missingCap, "missing-file-cap", ai.DefaultMissingFileCap, "Grade ceiling when required files are missing")
	flags.StringVar(&opts.rawBaseURL, "raw-base-url", "", "GitHub raw content base URL")
	flags.StringVar(&opts.apiBaseURL, "api-base-url", "", "GitHub API base URL")
	flags.StringVar(&opts.driveURL, "drive-url", "", "Drive download URL prefix")
	flags.StringVar(&opts.llmBaseURL, "llm-base-url", "", "LLM endpoint override (OpenAI-compatible base URL or Gemini host)")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall grading timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	for _, name := range []string{"url", "statement-file"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}
	for _, name := range []string{"raw-base-url", "api-base-url", "drive-url", "llm-base-url"} {
		_ = flags.MarkHidden(name)
	}

	return cmd
}

func runGrade(cmd *cobra.Command, opts *gradeOptions) error {
	statement, err := os.ReadFile(opts.statementFile)
	if err != nil {
		return fmt.Errorf("failed to read statement file: %w", err)
	}

	kind := models.ActivityKind(strings.TrimSpace(opts.kind))
	switch kind {
	case models.ActivityKindRepoFiles, models.ActivityKindNotebook:
	default:
		return fmt.Errorf("unsupported kind %q: use repo_files or notebook", opts.kind)
	}

	logLevel := zerolog.WarnLevel
	if opts.verbose {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(logLevel).With().Timestamp().Logger()

	provider, err := ai.NewProvider(ai.ProviderConfig{
		Name:    opts.provider,
		Model:   opts.model,
		BaseURL: opts.llmBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	apiKey := opts.apiKey
	if apiKey == "" {
		apiKey = providerKeyFromEnv(provider.Name())
	}

	pipeline := service.NewGradingPipeline(
		source.NewGitHubFetcher(source.GitHubConfig{
			RawBaseURL: opts.rawBaseURL,
			APIBaseURL: opts.apiBaseURL,
			Logger:     logger,
		}),
		source.NewNotebookFetcher(source.NotebookConfig{
			DownloadURL: opts.driveURL,
			Logger:      logger,
		}),
		ai.NewFileAnalyzer(provider, 0, logger),
		ai.NewConsolidator(provider, ai.ConsolidatorConfig{MissingFileCap: opts.missingCap}, logger),
		service.StaticCredentials{
			service.CredentialLLM:    apiKey,
			service.CredentialGitHub: opts.githubToken,
		},
		service.GradingPipelineConfig{
			MapConcurrency:     opts.concurrency,
			FetchRetries:       opts.retries,
			IncludeTree:        opts.includeTree,
			ProviderName:       provider.Name(),
			MaxDiscoveredFiles: opts.maxFiles,
		},
		logger,
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	outcome, err := pipeline.Run(ctx, service.GradingRequest{
		Activity: models.Activity{
			Title:         "gradectl",
			Statement:     string(statement),
			RequiredFiles: opts.files,
			Kind:          kind,
		},
		URL:   strings.TrimSpace(opts.url),
		RunID: uuid.NewString(),
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(gradeOutput{
		RunID:        outcome.RunID,
		Provider:     outcome.Provider,
		Grade:        outcome.Result.Grade,
		Feedback:     outcome.Result.Feedback,
		MissingFiles: append([]string{}, outcome.MissingFiles...),
		Warnings:     append([]string{}, outcome.Warnings...),
		Files:        outcome.Analyses,
	})
}

func providerKeyFromEnv(provider string) string {
	if provider == ai.ProviderGemini {
		return envOr("GRADER_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY"))
	}
	return envOr("GRADER_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY"))
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
