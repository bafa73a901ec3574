package ai

import "context"

// MaxGrade is the upper bound of every grade and per-file score.
const MaxGrade = 5.0

// LineError is a defect the model located at a specific line.
type LineError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// FileAnalysis is the per-file output of the map phase.
type FileAnalysis struct {
	Filename          string      `json:"filename"`
	SourceURL         string      `json:"source_url"`
	Summary           string      `json:"summary"`
	Strengths         []string    `json:"strengths"`
	Weaknesses        []string    `json:"weaknesses"`
	Errors            []LineError `json:"errors"`
	ScoreContribution float64     `json:"score_contribution"`
	Degraded          bool        `json:"degraded,omitempty"`
}

// GradingResult is the consolidated verdict of one grading run.
type GradingResult struct {
	Grade    float64 `json:"grade"`
	Feedback string  `json:"feedback"`
}

// CompletionRequest is a single JSON-mode prompt sent to a provider.
type CompletionRequest struct {
	APIKey    string
	System    string
	Prompt    string
	MaxTokens int
}

// Provider describes an LLM backend capable of answering JSON-mode prompts.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
