package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

type memoryActivityRepo struct {
	entries    []models.ActivityLog
	lastFilter repository.ActivityLogFilter
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.lastFilter = filter
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSecrets(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    1,
		ActorRole:  "Teacher",
		Action:     "Submission.Graded",
		EntityType: "activity_submission",
		EntityID:   ptrUint(5),
		Metadata: map[string]interface{}{
			"email":   "student@example.com",
			"api_key": "sk-123",
			"grade":   4.5,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["email"])
	require.Equal(t, "***", entry.Metadata["api_key"])
	require.Equal(t, 4.5, entry.Metadata["grade"])
	require.Equal(t, "teacher", entry.ActorRole)
	require.Equal(t, models.ActionSubmissionGraded, entry.Action)
}

func TestActivityServiceRecordRequiresAction(t *testing.T) {
	svc := NewActivityService(&memoryActivityRepo{}, testLogger())

	_, err := svc.Record(context.Background(), ActivityEntry{EntityType: "activity_submission"})
	require.Error(t, err)

	_, err = svc.Record(context.Background(), ActivityEntry{Action: "submission.graded"})
	require.Error(t, err)
}

func TestActivityServiceListPaginates(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{ActorID: 2, Action: "submission.linked", EntityType: "activity_submission"})
		require.NoError(t, err)
	}

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	resp, err := svc.List(context.Background(), dto.ActivityLogListRequest{PageSize: 2, ActorID: 2, EntityID: 5, Since: &since, Action: " submission.linked "})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	require.Equal(t, 1, resp.Pagination.Page)
	require.Equal(t, 2, resp.Pagination.TotalPages)
	require.Equal(t, int64(3), resp.Pagination.TotalItems)
	require.Equal(t, "submission.linked", repo.lastFilter.Action)
	require.Equal(t, uint(2), *repo.lastFilter.ActorID)
	require.Equal(t, uint(5), *repo.lastFilter.EntityID)
	require.Equal(t, since, *repo.lastFilter.Since)
}

func TestActivityActorIsGrader(t *testing.T) {
	require.True(t, ActivityActor{Role: "Admin"}.IsGrader())
	require.True(t, ActivityActor{Role: " teacher"}.IsGrader())
	require.False(t, ActivityActor{Role: "student"}.IsGrader())
	require.False(t, ActivityActor{}.IsGrader())
}
