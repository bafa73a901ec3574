package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/source"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []GradingEvent
}

func (r *recordingEvents) Publish(ctx context.Context, event GradingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type submissionFixture struct {
	svc        *submissionService
	repo       *memorySubmissionRepo
	pipeline   *stubPipeline
	events     *recordingEvents
	audit      *memoryActivityRepo
	activities *stubActivityRepo
	now        time.Time
}

func newSubmissionFixture(t *testing.T, activities ...models.Activity) *submissionFixture {
	t.Helper()
	activityRepo := &stubActivityRepo{activities: map[uint]models.Activity{}}
	for _, activity := range activities {
		activityRepo.activities[activity.ID] = activity
	}

	fixture := &submissionFixture{
		repo:       newMemorySubmissionRepo(),
		pipeline:   &stubPipeline{outcome: GradingOutcome{Provider: "stub", Result: ai.GradingResult{Grade: 3.5, Feedback: "## Strengths\nclear"}}},
		events:     &recordingEvents{},
		audit:      &memoryActivityRepo{},
		activities: activityRepo,
		now:        time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	recorder := NewActivityService(fixture.audit, testLogger())
	svc := NewSubmissionService(activityRepo, fixture.repo, fixture.pipeline, NewLocalGradingLock(), fixture.events, recorder, testValidator(), SubmissionConfig{}, testLogger()).(*submissionService)
	svc.now = func() time.Time { return fixture.now }
	fixture.svc = svc
	return fixture
}

func (f *submissionFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

var (
	student = ActivityActor{ID: 7, Role: "student"}
	teacher = ActivityActor{ID: 99, Role: "teacher"}
)

func githubActivity(maxAttempts int) models.Activity {
	return models.Activity{ID: 1, Title: "Loops", Statement: "Write loops", RequiredFiles: "a.py,b.py", Kind: models.ActivityKindRepoFiles, MaxAttempts: maxAttempts}
}

func TestSubmitGradesAndPersistsFirstAttempt(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(3))

	resp, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: " https://github.com/octo/lab "})
	require.NoError(t, err)
	require.Equal(t, 3.5, *resp.Grade)
	require.Equal(t, 1, resp.AttemptCount)
	require.Equal(t, "https://github.com/octo/lab", resp.URL)
	require.Equal(t, 2, *resp.AttemptsRemaining)
	require.NotNil(t, resp.Grading)
	require.Equal(t, "stub", resp.Grading.Provider)

	require.Len(t, f.pipeline.requests, 1)
	require.Equal(t, uint(7), f.pipeline.requests[0].UserID)
	require.NotEmpty(t, f.pipeline.requests[0].RunID)

	stored, ok := f.repo.snapshot(7, 1)
	require.True(t, ok)
	require.Equal(t, f.now, *stored.LastSubmittedAt)
	require.Len(t, f.repo.history, 1)
	require.Equal(t, models.GradeSourcePipeline, f.repo.history[0].Source)

	require.Len(t, f.events.events, 1)
	require.Equal(t, EventSubmissionGraded, f.events.events[0].Type)
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, models.ActionSubmissionGraded, f.audit.entries[0].Action)
}

func TestSubmitRejectsExhaustedAttempts(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))
	last := f.now.Add(-time.Hour)
	f.repo.put(models.ActivitySubmission{ActivityID: 1, StudentID: 7, URL: "https://github.com/octo/lab", Grade: ptrFloat(2), AttemptCount: 1, LastSubmittedAt: &last})

	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Zero(t, f.pipeline.calls())

	stored, _ := f.repo.snapshot(7, 1)
	require.Equal(t, 1, stored.AttemptCount)
}

func TestSubmitUnsetMaxAttemptsAllowsOneAttempt(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(0))

	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.NoError(t, err)

	f.advance(time.Hour)
	_, err = f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestSubmitEnforcesCooldown(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(5))

	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.NoError(t, err)
	before, _ := f.repo.snapshot(7, 1)

	f.advance(2*time.Minute + 10*time.Second)
	_, err = f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrCooldownActive)

	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	require.Equal(t, 3, cooldown.RemainingMinutes())
	require.Contains(t, err.Error(), "3 minute")

	after, _ := f.repo.snapshot(7, 1)
	require.Equal(t, before, after)
	require.Equal(t, 1, f.pipeline.calls())

	f.advance(3 * time.Minute)
	resp, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.AttemptCount)
}

func TestSubmitKeepsBestGrade(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(5))
	last := f.now.Add(-time.Hour)
	f.repo.put(models.ActivitySubmission{ActivityID: 1, StudentID: 7, URL: "https://github.com/octo/lab", Grade: ptrFloat(4.5), AttemptCount: 1, LastSubmittedAt: &last})

	f.pipeline.outcome.Result = ai.GradingResult{Grade: 2.0, Feedback: "regressed"}
	resp, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.NoError(t, err)
	require.Equal(t, 4.5, *resp.Grade)
	require.Equal(t, "regressed", *resp.Feedback)
	require.Equal(t, 2, resp.AttemptCount)
	require.Equal(t, 2.0, resp.Grading.Grade)

	f.advance(time.Hour)
	f.pipeline.outcome.Result = ai.GradingResult{Grade: 4.9, Feedback: "improved"}
	resp, err = f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.NoError(t, err)
	require.Equal(t, 4.9, *resp.Grade)
}

func TestSubmitConsolidationFailureLeavesStateUnchanged(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(3))
	last := f.now.Add(-time.Hour)
	feedback := "previous"
	original := f.repo.put(models.ActivitySubmission{ActivityID: 1, StudentID: 7, URL: "https://github.com/octo/old", Grade: ptrFloat(3), Feedback: &feedback, AttemptCount: 1, LastSubmittedAt: &last})

	f.pipeline.err = fmt.Errorf("%w: malformed consolidation output", ai.ErrConsolidationFailed)
	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ai.ErrConsolidationFailed)

	stored, _ := f.repo.snapshot(7, 1)
	require.Equal(t, original, stored)
	require.Zero(t, f.repo.merges)
	require.Empty(t, f.events.events)
}

func TestSubmitRejectsMismatchedKindBeforePipeline(t *testing.T) {
	notebook := models.Activity{ID: 2, Statement: "nb", Kind: models.ActivityKindNotebook, MaxAttempts: 2}
	f := newSubmissionFixture(t, githubActivity(2), notebook)

	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://gitlab.com/octo/lab"})
	require.ErrorIs(t, err, ErrInvalidSubmissionKind)

	_, err = f.svc.Submit(context.Background(), student, 2, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrInvalidSubmissionKind)

	_, err = f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo"})
	require.ErrorIs(t, err, source.ErrInvalidReference)

	_, err = f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{})
	require.ErrorIs(t, err, ErrInvalidSubmissionKind)

	require.Zero(t, f.pipeline.calls())
	require.Zero(t, f.repo.merges)
}

func TestSubmitUnknownActivity(t *testing.T) {
	f := newSubmissionFixture(t)
	_, err := f.svc.Submit(context.Background(), student, 42, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrActivityNotFound)
}

func TestTeacherExplicitGradeBypassesGuards(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))
	last := f.now.Add(-time.Minute)
	f.repo.put(models.ActivitySubmission{ActivityID: 1, StudentID: 7, URL: "https://github.com/octo/lab", Grade: ptrFloat(3), AttemptCount: 1, LastSubmittedAt: &last})

	resp, err := f.svc.Submit(context.Background(), teacher, 1, dto.SubmitRequest{Grade: ptrFloat(4.0), StudentID: 7})
	require.NoError(t, err)
	require.Equal(t, 4.0, *resp.Grade)
	require.Equal(t, 2, resp.AttemptCount)
	require.Equal(t, uint(99), *resp.GradedBy)
	require.Zero(t, f.pipeline.calls())

	_, err = f.svc.Submit(context.Background(), teacher, 1, dto.SubmitRequest{Grade: ptrFloat(1.0), StudentID: 7})
	require.NoError(t, err)
	stored, _ := f.repo.snapshot(7, 1)
	require.Equal(t, 4.0, *stored.Grade)
	require.Equal(t, 3, stored.AttemptCount)

	require.Equal(t, models.ActionSubmissionManual, f.audit.entries[0].Action)
	require.Equal(t, models.GradeSourceGrader, f.repo.history[0].Source)
	require.Len(t, f.events.events, 2)
	require.Equal(t, EventSubmissionManual, f.events.events[0].Type)
	require.Equal(t, string(models.GradeSourceGrader), f.events.events[0].Source)
}

func TestStudentCannotSetGrade(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))
	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab", Grade: ptrFloat(5)})
	require.ErrorIs(t, err, ErrGraderOnly)
}

func TestGraderWriteRequiresStudent(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))
	_, err := f.svc.Submit(context.Background(), teacher, 1, dto.SubmitRequest{Grade: ptrFloat(5)})
	require.ErrorIs(t, err, ErrStudentRequired)
}

func TestSubmitValidatesGradeRange(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))
	_, err := f.svc.Submit(context.Background(), teacher, 1, dto.SubmitRequest{Grade: ptrFloat(7), StudentID: 7})
	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))
}

func TestManualActivityLinkSubmission(t *testing.T) {
	manual := models.Activity{ID: 3, Statement: "poster", Kind: models.ActivityKindManual, MaxAttempts: 1, AllowLinkSubmission: true}
	f := newSubmissionFixture(t, manual)

	resp, err := f.svc.Submit(context.Background(), student, 3, dto.SubmitRequest{URL: "https://canva.com/design/abc"})
	require.NoError(t, err)
	require.Nil(t, resp.Grade)
	require.Equal(t, 1, resp.AttemptCount)
	require.Nil(t, resp.AttemptsRemaining)
	require.Zero(t, f.pipeline.calls())

	f.advance(10 * time.Minute)
	resp, err = f.svc.Submit(context.Background(), student, 3, dto.SubmitRequest{URL: "https://canva.com/design/def"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.AttemptCount)
	require.Equal(t, "https://canva.com/design/def", resp.URL)
}

func TestManualActivityWithoutLinksRejectsStudents(t *testing.T) {
	manual := models.Activity{ID: 3, Statement: "poster", Kind: models.ActivityKindManual}
	f := newSubmissionFixture(t, manual)

	_, err := f.svc.Submit(context.Background(), student, 3, dto.SubmitRequest{URL: "https://canva.com/design/abc"})
	require.ErrorIs(t, err, ErrInvalidSubmissionKind)

	feedback := "Great poster"
	resp, err := f.svc.Submit(context.Background(), teacher, 3, dto.SubmitRequest{URL: "https://canva.com/design/abc", Grade: ptrFloat(5), Feedback: &feedback, StudentID: 7})
	require.NoError(t, err)
	require.Equal(t, 5.0, *resp.Grade)
	require.Contains(t, resp.FeedbackHTML, "Great poster")
}

func TestReevaluateIsIdempotent(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))
	last := f.now.Add(-time.Minute)
	stored := f.repo.put(models.ActivitySubmission{ActivityID: 1, StudentID: 7, URL: "https://github.com/octo/lab", Grade: ptrFloat(2), AttemptCount: 1, LastSubmittedAt: &last})

	first, err := f.svc.Reevaluate(context.Background(), teacher, stored.ID)
	require.NoError(t, err)
	second, err := f.svc.Reevaluate(context.Background(), teacher, stored.ID)
	require.NoError(t, err)

	require.Equal(t, 3.5, *first.Grade)
	require.Equal(t, *first.Grade, *second.Grade)
	require.Equal(t, 1, second.AttemptCount)
	require.Equal(t, last, *second.LastSubmittedAt)
	require.Equal(t, 2, f.pipeline.calls())
	require.Equal(t, "https://github.com/octo/lab", f.pipeline.requests[0].URL)

	require.Len(t, f.events.events, 2)
	for _, event := range f.events.events {
		require.Equal(t, EventSubmissionReevaluated, event.Type)
	}
}

func TestReevaluateRules(t *testing.T) {
	manual := models.Activity{ID: 3, Statement: "poster", Kind: models.ActivityKindManual}
	f := newSubmissionFixture(t, githubActivity(1), manual)
	stored := f.repo.put(models.ActivitySubmission{ActivityID: 3, StudentID: 7, URL: "https://canva.com/x", AttemptCount: 1})

	_, err := f.svc.Reevaluate(context.Background(), student, stored.ID)
	require.ErrorIs(t, err, ErrGraderOnly)

	_, err = f.svc.Reevaluate(context.Background(), teacher, stored.ID)
	require.ErrorIs(t, err, ErrReevaluateUnsupported)

	_, err = f.svc.Reevaluate(context.Background(), teacher, 404)
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSubmitRejectsConcurrentRun(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(3))
	release, err := f.svc.lock.Acquire(context.Background(), models.SubmissionKey(7, 1))
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrGradingInProgress)
	require.Zero(t, f.pipeline.calls())
}

func TestMergeRechecksGuardsUnderLock(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(1))

	// Another replica completes an attempt while this run is grading.
	f.pipeline.outcome.Result = ai.GradingResult{Grade: 5, Feedback: "late"}
	concurrent := &racingPipeline{inner: f.pipeline, onRun: func() {
		at := f.now
		f.repo.put(models.ActivitySubmission{ActivityID: 1, StudentID: 7, URL: "https://github.com/octo/lab", Grade: ptrFloat(1), AttemptCount: 1, LastSubmittedAt: &at})
	}}
	f.svc.pipeline = concurrent

	_, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.ErrorIs(t, err, ErrAttemptsExhausted)

	stored, _ := f.repo.snapshot(7, 1)
	require.Equal(t, 1.0, *stored.Grade)
	require.Equal(t, 1, stored.AttemptCount)
}

type racingPipeline struct {
	inner *stubPipeline
	onRun func()
}

func (r *racingPipeline) Run(ctx context.Context, req GradingRequest) (GradingOutcome, error) {
	r.onRun()
	return r.inner.Run(ctx, req)
}

func TestGetAndHistory(t *testing.T) {
	f := newSubmissionFixture(t, githubActivity(3))

	_, err := f.svc.Get(context.Background(), 1, 7)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	resp, err := f.svc.Submit(context.Background(), student, 1, dto.SubmitRequest{URL: "https://github.com/octo/lab"})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Equal(t, resp.ID, got.ID)
	require.Contains(t, got.FeedbackHTML, "<h2")

	history, err := f.svc.History(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 3.5, *history[0].Score)
}

func TestMergeGrade(t *testing.T) {
	require.Nil(t, mergeGrade(nil, nil))
	require.Equal(t, 3.0, *mergeGrade(nil, ptrFloat(3)))
	require.Equal(t, 3.0, *mergeGrade(ptrFloat(3), nil))
	require.Equal(t, 4.0, *mergeGrade(ptrFloat(3), ptrFloat(4)))
	require.Equal(t, 4.0, *mergeGrade(ptrFloat(4), ptrFloat(3)))
}
