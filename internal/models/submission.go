package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ActivitySubmission is the persisted grading state of one student on one activity.
type ActivitySubmission struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ActivityID      uint       `gorm:"not null;uniqueIndex:idx_activity_student" json:"activity_id"`
	StudentID       uint       `gorm:"not null;uniqueIndex:idx_activity_student" json:"student_id"`
	URL             string     `gorm:"size:1024" json:"url"`
	Grade           *float64   `json:"grade"`
	Feedback        *string    `gorm:"type:text" json:"feedback"`
	AttemptCount    int        `gorm:"not null;default:0" json:"attempt_count"`
	LastSubmittedAt *time.Time `json:"last_submitted_at"`
	GradedBy        *uint      `json:"graded_by"`
	GradedAt        *time.Time `json:"graded_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Activity        Activity   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Key identifies the (student, activity) pair in logs and locks.
func (s ActivitySubmission) Key() string {
	return SubmissionKey(s.StudentID, s.ActivityID)
}

// SubmissionKey formats the (student, activity) pair identifier.
func SubmissionKey(studentID, activityID uint) string {
	return fmt.Sprintf("%d:%d", studentID, activityID)
}

// GradeSource names where a recorded grade came from.
type GradeSource string

const (
	GradeSourcePipeline   GradeSource = "pipeline"
	GradeSourceGrader     GradeSource = "grader"
	GradeSourceReevaluate GradeSource = "reevaluate"
	GradeSourceLink       GradeSource = "link"
)

// SubmissionGradeHistory keeps one row per merged grading result.
type SubmissionGradeHistory struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SubmissionID uint              `gorm:"not null;index" json:"submission_id"`
	Score        *float64          `json:"score"`
	Feedback     string            `gorm:"type:text" json:"feedback"`
	Source       GradeSource       `gorm:"size:32;not null" json:"source"`
	GradedBy     *uint             `json:"graded_by"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	GradedAt     time.Time         `gorm:"not null" json:"graded_at"`
}

// All lists the models managed by migrations.
func All() []any {
	return []any{&Activity{}, &ActivitySubmission{}, &SubmissionGradeHistory{}, &ActivityLog{}}
}
