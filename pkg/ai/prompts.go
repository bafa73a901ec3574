package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You are a meticulous programming instructor reviewing one file of a student's assignment.
Identify which requirements of the assignment statement the file satisfies and assess code quality.
Respond ONLY with a JSON object of the shape:
{"summary": string, "strengths": [string], "weaknesses": [string], "errors": [{"line": integer, "message": string}], "score": number}
Rules:
- "score" is this file's contribution on a 0 to 5 scale.
- Every entry of "errors" MUST carry the 1-based line number where the problem occurs. Never omit "line".
- Use an empty array when there is nothing to report.
- Write in the language of the assignment statement.`

const consolidationSystemPrompt = `You are the lead grader consolidating per-file reviews of a student's assignment into one verdict.
Grading policy:
1. If any required file is missing, apply a severe penalty: the grade must not exceed %.1f.
2. Otherwise the grade is a holistic average of the per-file quality.
3. The grade is a number between 0 and 5.
Feedback must be a Markdown document with the sections "Requirement coverage", "Strengths" and "Weaknesses".
Respond ONLY with a JSON object of the shape: {"grade": number, "feedback": string}`

func buildAnalysisPrompt(filename, content, rubric string) string {
	var b strings.Builder
	b.WriteString("## Assignment statement\n")
	b.WriteString(strings.TrimSpace(rubric))
	b.WriteString("\n\n## File: ")
	b.WriteString(filename)
	b.WriteString("\n```\n")
	b.WriteString(numberLines(content))
	b.WriteString("\n```\n")
	return b.String()
}

// numberLines prefixes each line so the model can cite line numbers reliably.
func numberLines(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d | %s\n", width, i+1, line)
	}
	return strings.TrimRight(b.String(), "\n")
}

type promptAnalysis struct {
	Filename   string      `json:"filename"`
	Summary    string      `json:"summary"`
	Strengths  []string    `json:"strengths"`
	Weaknesses []string    `json:"weaknesses"`
	Errors     []LineError `json:"errors"`
	Score      float64     `json:"score"`
	Degraded   bool        `json:"analysis_failed,omitempty"`
}

func buildConsolidationPrompt(in ConsolidationInput) (string, error) {
	analyses := make([]promptAnalysis, 0, len(in.Analyses))
	for _, item := range in.Analyses {
		analyses = append(analyses, promptAnalysis{
			Filename:   item.Filename,
			Summary:    item.Summary,
			Strengths:  item.Strengths,
			Weaknesses: item.Weaknesses,
			Errors:     item.Errors,
			Score:      item.ScoreContribution,
			Degraded:   item.Degraded,
		})
	}

	encoded, err := json.MarshalIndent(analyses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analyses: %w", err)
	}

	var b strings.Builder
	b.WriteString("## Assignment statement\n")
	b.WriteString(strings.TrimSpace(in.Rubric))
	b.WriteString("\n\n## Per-file analyses\n")
	b.Write(encoded)
	b.WriteString("\n\n## Missing required files\n")
	if len(in.MissingFiles) == 0 {
		b.WriteString("None.\n")
	} else {
		for _, path := range in.MissingFiles {
			b.WriteString("- ")
			b.WriteString(path)
			b.WriteString("\n")
		}
	}
	if len(in.RepositoryTree) > 0 {
		b.WriteString("\n## Repository files\n")
		for _, path := range in.RepositoryTree {
			b.WriteString("- ")
			b.WriteString(path)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
