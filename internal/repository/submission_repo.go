package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// MergeFunc mutates the locked submission row. exists is false when no row was stored yet.
// A non-nil history entry is persisted alongside the row. Returning an error aborts the merge.
type MergeFunc func(submission *models.ActivitySubmission, exists bool) (*models.SubmissionGradeHistory, error)

// SubmissionRepository defines data operations for activity submissions.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.ActivitySubmission, error)
	GetByActivityAndStudent(ctx context.Context, activityID, studentID uint) (models.ActivitySubmission, error)
	Merge(ctx context.Context, activityID, studentID uint, merge MergeFunc) (models.ActivitySubmission, error)
	ListHistory(ctx context.Context, submissionID uint) ([]models.SubmissionGradeHistory, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.ActivitySubmission, error) {
	var submission models.ActivitySubmission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.ActivitySubmission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetByActivityAndStudent(ctx context.Context, activityID, studentID uint) (models.ActivitySubmission, error) {
	var submission models.ActivitySubmission
	if err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Where("student_id = ?", studentID).
		First(&submission).Error; err != nil {
		return models.ActivitySubmission{}, err
	}

	return submission, nil
}

// Merge loads the (activity, student) row under a row lock, applies merge and upserts the result
// in a single transaction.
func (r *submissionRepository) Merge(ctx context.Context, activityID, studentID uint, merge MergeFunc) (models.ActivitySubmission, error) {
	var result models.ActivitySubmission
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.ActivitySubmission
		exists := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("activity_id = ?", activityID).
			Where("student_id = ?", studentID).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
			current = models.ActivitySubmission{ActivityID: activityID, StudentID: studentID}
		} else if err != nil {
			return err
		}

		history, err := merge(&current, exists)
		if err != nil {
			return err
		}

		if exists {
			if err := tx.Omit(clause.Associations).Save(&current).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Omit(clause.Associations).Create(&current).Error; err != nil {
				return err
			}
		}

		if history != nil {
			history.SubmissionID = current.ID
			if err := tx.Create(history).Error; err != nil {
				return err
			}
		}

		result = current
		return nil
	})
	if err != nil {
		return models.ActivitySubmission{}, err
	}

	return result, nil
}

func (r *submissionRepository) ListHistory(ctx context.Context, submissionID uint) ([]models.SubmissionGradeHistory, error) {
	var entries []models.SubmissionGradeHistory
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("graded_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	return entries, nil
}
