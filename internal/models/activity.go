package models

import (
	"strings"
	"time"
)

// ActivityKind describes how an activity's submissions are collected and graded.
type ActivityKind string

const (
	// ActivityKindRepoFiles grades required files fetched from a GitHub repository.
	ActivityKindRepoFiles ActivityKind = "repo_files"
	// ActivityKindNotebook grades a shared Colab or Drive notebook.
	ActivityKindNotebook ActivityKind = "notebook"
	// ActivityKindManual is graded by a human only.
	ActivityKindManual ActivityKind = "manual"
)

// Activity is the rubric a submission is graded against.
type Activity struct {
	ID                  uint         `gorm:"primaryKey" json:"id"`
	Title               string       `gorm:"size:255;not null" json:"title"`
	Statement           string       `gorm:"type:text;not null" json:"statement"`
	RequiredFiles       string       `gorm:"type:text" json:"required_files"`
	Kind                ActivityKind `gorm:"size:32;not null;default:repo_files" json:"kind"`
	MaxAttempts         int          `gorm:"not null;default:1" json:"max_attempts"`
	Weight              float64      `gorm:"not null;default:1" json:"weight"`
	AllowLinkSubmission bool         `gorm:"not null;default:false" json:"allow_link_submission"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// RequiredFilePaths splits RequiredFiles on commas and newlines, preserving order and dropping duplicates.
func (a Activity) RequiredFilePaths() []string {
	fields := strings.FieldsFunc(a.RequiredFiles, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	seen := make(map[string]struct{}, len(fields))
	paths := make([]string, 0, len(fields))
	for _, field := range fields {
		path := strings.TrimPrefix(strings.TrimSpace(field), "/")
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	return paths
}

// AttemptLimit returns the effective attempt ceiling; unset limits allow a single attempt.
func (a Activity) AttemptLimit() int {
	if a.MaxAttempts <= 0 {
		return 1
	}
	return a.MaxAttempts
}
