package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// SubmitRequest is the payload for submitting work on an activity.
// Grade and Feedback may only be supplied by graders; StudentID names the student a grader writes for.
type SubmitRequest struct {
	URL       string   `json:"url" validate:"omitempty,max=1024"`
	Grade     *float64 `json:"grade" validate:"omitempty,gte=0,lte=5"`
	Feedback  *string  `json:"feedback" validate:"omitempty,max=20000"`
	StudentID uint     `json:"student_id" validate:"omitempty,gt=0"`
}

// IsGraderWrite reports whether the payload carries an explicit grade or feedback.
func (r SubmitRequest) IsGraderWrite() bool {
	return r.Grade != nil || r.Feedback != nil
}

// FileReport summarizes one per-file analysis in a grading report.
type FileReport struct {
	Filename string   `json:"filename"`
	Score    float64  `json:"score"`
	Summary  string   `json:"summary"`
	Degraded bool     `json:"degraded"`
	Errors   []string `json:"errors,omitempty"`
}

// GradingReport describes the pipeline run that produced a grade.
type GradingReport struct {
	RunID        string       `json:"run_id"`
	Provider     string       `json:"provider"`
	Grade        float64      `json:"grade"`
	MissingFiles []string     `json:"missing_files"`
	Warnings     []string     `json:"warnings"`
	Files        []FileReport `json:"files"`
}

// SubmissionResponse is returned to API clients when viewing submission state.
type SubmissionResponse struct {
	ID                uint           `json:"id"`
	ActivityID        uint           `json:"activity_id"`
	StudentID         uint           `json:"student_id"`
	URL               string         `json:"url"`
	Grade             *float64       `json:"grade"`
	Feedback          *string        `json:"feedback"`
	FeedbackHTML      string         `json:"feedback_html,omitempty"`
	AttemptCount      int            `json:"attempt_count"`
	AttemptsRemaining *int           `json:"attempts_remaining"`
	LastSubmittedAt   *time.Time     `json:"last_submitted_at"`
	GradedBy          *uint          `json:"graded_by"`
	GradedAt          *time.Time     `json:"graded_at"`
	Grading           *GradingReport `json:"grading,omitempty"`
}

// SubmissionGradeHistoryResponse serializes grading history entries.
type SubmissionGradeHistoryResponse struct {
	Score    *float64  `json:"score"`
	Feedback string    `json:"feedback"`
	Source   string    `json:"source"`
	GradedBy *uint     `json:"graded_by"`
	GradedAt time.Time `json:"graded_at"`
}

// NewSubmissionResponse converts a submission model into a DTO. Manual activities report no remaining-attempt limit.
func NewSubmissionResponse(model models.ActivitySubmission, activity models.Activity) SubmissionResponse {
	response := SubmissionResponse{
		ID:              model.ID,
		ActivityID:      model.ActivityID,
		StudentID:       model.StudentID,
		URL:             model.URL,
		Grade:           model.Grade,
		Feedback:        model.Feedback,
		AttemptCount:    model.AttemptCount,
		LastSubmittedAt: model.LastSubmittedAt,
		GradedBy:        model.GradedBy,
		GradedAt:        model.GradedAt,
	}

	if model.Feedback != nil && *model.Feedback != "" {
		response.FeedbackHTML = utils.RenderMarkdown(*model.Feedback)
	}

	if activity.Kind != models.ActivityKindManual {
		remaining := activity.AttemptLimit() - model.AttemptCount
		if remaining < 0 {
			remaining = 0
		}
		response.AttemptsRemaining = &remaining
	}

	return response
}

// NewGradeHistoryResponses converts history rows into DTOs.
func NewGradeHistoryResponses(entries []models.SubmissionGradeHistory) []SubmissionGradeHistoryResponse {
	responses := make([]SubmissionGradeHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, SubmissionGradeHistoryResponse{
			Score:    entry.Score,
			Feedback: entry.Feedback,
			Source:   string(entry.Source),
			GradedBy: entry.GradedBy,
			GradedAt: entry.GradedAt,
		})
	}

	return responses
}
