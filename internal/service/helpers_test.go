package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func ptrUint(v uint) *uint {
	return &v
}

func ptrFloat(v float64) *float64 {
	return &v
}

type stubActivityRepo struct {
	activities map[uint]models.Activity
}

func (s *stubActivityRepo) GetByID(ctx context.Context, id uint) (models.Activity, error) {
	activity, ok := s.activities[id]
	if !ok {
		return models.Activity{}, gorm.ErrRecordNotFound
	}
	return activity, nil
}

func (s *stubActivityRepo) Create(ctx context.Context, activity *models.Activity) error {
	if s.activities == nil {
		s.activities = map[uint]models.Activity{}
	}
	if activity.ID == 0 {
		activity.ID = uint(len(s.activities) + 1)
	}
	s.activities[activity.ID] = *activity
	return nil
}

// memorySubmissionRepo mirrors the transactional merge: the stored row only changes when merge succeeds.
type memorySubmissionRepo struct {
	mu      sync.Mutex
	rows    map[string]models.ActivitySubmission
	history []models.SubmissionGradeHistory
	nextID  uint
	merges  int
}

func newMemorySubmissionRepo() *memorySubmissionRepo {
	return &memorySubmissionRepo{rows: map[string]models.ActivitySubmission{}}
}

func (m *memorySubmissionRepo) put(sub models.ActivitySubmission) models.ActivitySubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == 0 {
		m.nextID++
		sub.ID = m.nextID
	}
	m.rows[sub.Key()] = sub
	return sub
}

func (m *memorySubmissionRepo) snapshot(studentID, activityID uint) (models.ActivitySubmission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[models.SubmissionKey(studentID, activityID)]
	return sub, ok
}

func (m *memorySubmissionRepo) GetByID(ctx context.Context, id uint) (models.ActivitySubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return models.ActivitySubmission{}, gorm.ErrRecordNotFound
}

func (m *memorySubmissionRepo) GetByActivityAndStudent(ctx context.Context, activityID, studentID uint) (models.ActivitySubmission, error) {
	sub, ok := m.snapshot(studentID, activityID)
	if !ok {
		return models.ActivitySubmission{}, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (m *memorySubmissionRepo) Merge(ctx context.Context, activityID, studentID uint, merge repository.MergeFunc) (models.ActivitySubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.SubmissionKey(studentID, activityID)
	current, exists := m.rows[key]
	if !exists {
		current = models.ActivitySubmission{ActivityID: activityID, StudentID: studentID}
	}
	working := cloneSubmission(current)

	history, err := merge(&working, exists)
	if err != nil {
		return models.ActivitySubmission{}, err
	}
	if working.ID == 0 {
		m.nextID++
		working.ID = m.nextID
	}
	m.rows[key] = working
	m.merges++
	if history != nil {
		history.SubmissionID = working.ID
		m.history = append(m.history, *history)
	}
	return working, nil
}

func (m *memorySubmissionRepo) ListHistory(ctx context.Context, submissionID uint) ([]models.SubmissionGradeHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.SubmissionGradeHistory
	for _, entry := range m.history {
		if entry.SubmissionID == submissionID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func cloneSubmission(sub models.ActivitySubmission) models.ActivitySubmission {
	clone := sub
	if sub.Grade != nil {
		clone.Grade = ptrFloat(*sub.Grade)
	}
	if sub.Feedback != nil {
		feedback := *sub.Feedback
		clone.Feedback = &feedback
	}
	if sub.LastSubmittedAt != nil {
		at := *sub.LastSubmittedAt
		clone.LastSubmittedAt = &at
	}
	return clone
}

type stubPipeline struct {
	mu       sync.Mutex
	outcome  GradingOutcome
	err      error
	requests []GradingRequest
}

func (s *stubPipeline) Run(ctx context.Context, req GradingRequest) (GradingOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return GradingOutcome{}, s.err
	}
	outcome := s.outcome
	outcome.RunID = req.RunID
	return outcome, nil
}

func (s *stubPipeline) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// scriptedProvider answers analysis prompts and consolidation prompts with fixed JSON.
type scriptedProvider struct {
	mu            sync.Mutex
	analysis      string
	consolidation string
	err           error
	prompts       []ai.CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, req)
	if p.err != nil {
		return "", p.err
	}
	if isConsolidationPrompt(req) {
		return p.consolidation, nil
	}
	return p.analysis, nil
}

func isConsolidationPrompt(req ai.CompletionRequest) bool {
	return strings.Contains(req.Prompt, "## Per-file analyses")
}

var errBoom = errors.New("boom")
