package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions recorded for submissions.
const (
	ActionSubmissionGraded      = "submission.graded"
	ActionSubmissionReevaluated = "submission.reevaluated"
	ActionSubmissionManual      = "submission.manual_graded"
	ActionSubmissionLinked      = "submission.linked"
)

// ActivityLog captures auditable grading events triggered by students, teachers and the pipeline.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null;index" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null" json:"action"`
	EntityType string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID   *uint             `json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}
