package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/source"
)

// DefaultCooldown is the minimum wait between student submissions.
const DefaultCooldown = 5 * time.Minute

// SubmissionConfig tunes admission rules.
type SubmissionConfig struct {
	Cooldown time.Duration
}

// SubmissionService owns admission, grading and merge of submission state.
type SubmissionService interface {
	Submit(ctx context.Context, actor ActivityActor, activityID uint, req dto.SubmitRequest) (dto.SubmissionResponse, error)
	Reevaluate(ctx context.Context, actor ActivityActor, submissionID uint) (dto.SubmissionResponse, error)
	Get(ctx context.Context, activityID, studentID uint) (dto.SubmissionResponse, error)
	History(ctx context.Context, submissionID uint) ([]dto.SubmissionGradeHistoryResponse, error)
}

type submissionService struct {
	activities  repository.ActivityRepository
	submissions repository.SubmissionRepository
	pipeline    GradingPipeline
	lock        GradingLock
	events      GradingEventPublisher
	recorder    ActivityRecorder
	validator   *validator.Validate
	cfg         SubmissionConfig
	merges      *keyedMutex
	tracer      trace.Tracer
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. lock, events and recorder may be nil.
func NewSubmissionService(
	activities repository.ActivityRepository,
	submissions repository.SubmissionRepository,
	pipeline GradingPipeline,
	lock GradingLock,
	events GradingEventPublisher,
	recorder ActivityRecorder,
	validate *validator.Validate,
	cfg SubmissionConfig,
	logger zerolog.Logger,
) SubmissionService {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if lock == nil {
		lock = NewLocalGradingLock()
	}
	if events == nil {
		events = NewNoopEventPublisher()
	}

	return &submissionService{
		activities:  activities,
		submissions: submissions,
		pipeline:    pipeline,
		lock:        lock,
		events:      events,
		recorder:    recorder,
		validator:   validate,
		cfg:         cfg,
		merges:      newKeyedMutex(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/submission"),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *submissionService) Submit(parent context.Context, actor ActivityActor, activityID uint, req dto.SubmitRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(parent, "submission.submit", trace.WithAttributes(
		attribute.Int64("activity_id", int64(activityID)),
		attribute.Int64("actor_id", int64(actor.ID)),
	))
	defer span.End()

	resp, err := s.submit(ctx, actor, activityID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.SubmissionDecisions().WithLabelValues(decisionLabel(err)).Inc()
		return dto.SubmissionResponse{}, err
	}
	return resp, nil
}

func (s *submissionService) submit(ctx context.Context, actor ActivityActor, activityID uint, req dto.SubmitRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionResponse{}, err
	}
	req.URL = strings.TrimSpace(req.URL)

	graderWrite := req.IsGraderWrite()
	if graderWrite && !actor.IsGrader() {
		return dto.SubmissionResponse{}, ErrGraderOnly
	}

	studentID := actor.ID
	if actor.IsGrader() && req.StudentID != 0 {
		studentID = req.StudentID
	}
	if graderWrite && req.StudentID == 0 {
		return dto.SubmissionResponse{}, ErrStudentRequired
	}

	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if err := validateKind(activity, req.URL, graderWrite); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if graderWrite {
		return s.graderWrite(ctx, actor, activity, studentID, req)
	}

	existing, exists, err := s.current(ctx, activity.ID, studentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if exists {
		if err := s.admit(activity, existing); err != nil {
			return dto.SubmissionResponse{}, err
		}
	}

	if activity.Kind == models.ActivityKindManual {
		return s.linkSubmission(ctx, actor, activity, studentID, req.URL)
	}

	return s.gradeAndMerge(ctx, actor, activity, studentID, req.URL)
}

// validateKind checks the URL against the activity kind before any external call.
func validateKind(activity models.Activity, url string, graderWrite bool) error {
	if url == "" {
		if graderWrite {
			return nil
		}
		return fmt.Errorf("%w: a submission link is required", ErrInvalidSubmissionKind)
	}

	switch activity.Kind {
	case models.ActivityKindRepoFiles:
		if !source.IsGitHubURL(url) {
			return fmt.Errorf("%w: this activity expects a github.com repository link", ErrInvalidSubmissionKind)
		}
		if _, err := source.ParseRepository(url); err != nil {
			return err
		}
	case models.ActivityKindNotebook:
		if !source.IsNotebookURL(url) {
			return fmt.Errorf("%w: this activity expects a Google Colab or Drive notebook link", ErrInvalidSubmissionKind)
		}
	case models.ActivityKindManual:
		if !graderWrite && !activity.AllowLinkSubmission {
			return fmt.Errorf("%w: this activity is graded by your teacher and does not accept links", ErrInvalidSubmissionKind)
		}
	default:
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidSubmissionKind, activity.Kind)
	}
	return nil
}

// admit applies the attempt ceiling and cooldown guards to an existing record.
func (s *submissionService) admit(activity models.Activity, existing models.ActivitySubmission) error {
	if activity.Kind != models.ActivityKindManual && existing.AttemptCount >= activity.AttemptLimit() {
		return ErrAttemptsExhausted
	}

	if existing.LastSubmittedAt != nil {
		elapsed := s.now().Sub(*existing.LastSubmittedAt)
		if elapsed < s.cfg.Cooldown {
			return &CooldownError{Remaining: s.cfg.Cooldown - elapsed}
		}
	}
	return nil
}

func (s *submissionService) gradeAndMerge(ctx context.Context, actor ActivityActor, activity models.Activity, studentID uint, url string) (dto.SubmissionResponse, error) {
	key := models.SubmissionKey(studentID, activity.ID)
	release, err := s.lock.Acquire(ctx, key)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	defer release()

	runID := uuid.NewString()
	outcome, err := s.pipeline.Run(ctx, GradingRequest{Activity: activity, URL: url, UserID: actor.ID, RunID: runID})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	var previous *float64
	grade := outcome.Result.Grade
	feedback := outcome.Result.Feedback
	submission, err := s.merge(ctx, activity.ID, studentID, func(current *models.ActivitySubmission, exists bool) (*models.SubmissionGradeHistory, error) {
		if exists {
			if err := s.admit(activity, *current); err != nil {
				return nil, err
			}
		}

		now := s.now()
		previous = current.Grade
		current.Grade = mergeGrade(current.Grade, &grade)
		current.Feedback = &feedback
		current.URL = url
		current.AttemptCount++
		current.LastSubmittedAt = &now
		current.GradedBy = nil
		current.GradedAt = &now

		return &models.SubmissionGradeHistory{
			Score:    &grade,
			Feedback: feedback,
			Source:   models.GradeSourcePipeline,
			Metadata: outcomeMetadata(outcome),
			GradedAt: now,
		}, nil
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	observeMerge(previous, grade)
	s.logger.Info().
		Str("run_id", runID).
		Str("submission_key", key).
		Float64("run_grade", grade).
		Int("attempt", submission.AttemptCount).
		Msg("submission graded")

	s.afterMerge(ctx, actor, submission, models.ActionSubmissionGraded, models.GradeSourcePipeline, &grade, runID)

	response := dto.NewSubmissionResponse(submission, activity)
	response.Grading = gradingReport(outcome)
	return response, nil
}

func (s *submissionService) graderWrite(ctx context.Context, actor ActivityActor, activity models.Activity, studentID uint, req dto.SubmitRequest) (dto.SubmissionResponse, error) {
	var previous *float64
	submission, err := s.merge(ctx, activity.ID, studentID, func(current *models.ActivitySubmission, _ bool) (*models.SubmissionGradeHistory, error) {
		now := s.now()
		graderID := actor.ID
		previous = current.Grade

		current.Grade = mergeGrade(current.Grade, req.Grade)
		if req.Feedback != nil {
			feedback := strings.TrimSpace(*req.Feedback)
			current.Feedback = &feedback
		}
		if req.URL != "" {
			current.URL = req.URL
		}
		current.AttemptCount++
		current.LastSubmittedAt = &now
		current.GradedBy = &graderID
		current.GradedAt = &now

		history := &models.SubmissionGradeHistory{
			Score:    req.Grade,
			Source:   models.GradeSourceGrader,
			GradedBy: &graderID,
			GradedAt: now,
		}
		if req.Feedback != nil {
			history.Feedback = *current.Feedback
		}
		return history, nil
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if req.Grade != nil {
		observeMerge(previous, *req.Grade)
	}
	s.afterMerge(ctx, actor, submission, models.ActionSubmissionManual, models.GradeSourceGrader, req.Grade, "")

	return dto.NewSubmissionResponse(submission, activity), nil
}

func (s *submissionService) linkSubmission(ctx context.Context, actor ActivityActor, activity models.Activity, studentID uint, url string) (dto.SubmissionResponse, error) {
	submission, err := s.merge(ctx, activity.ID, studentID, func(current *models.ActivitySubmission, exists bool) (*models.SubmissionGradeHistory, error) {
		if exists {
			if err := s.admit(activity, *current); err != nil {
				return nil, err
			}
		}
		now := s.now()
		current.URL = url
		current.AttemptCount++
		current.LastSubmittedAt = &now
		return nil, nil
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.audit(ctx, actor, submission, models.ActionSubmissionLinked, map[string]interface{}{"url": url})
	return dto.NewSubmissionResponse(submission, activity), nil
}

func (s *submissionService) Reevaluate(parent context.Context, actor ActivityActor, submissionID uint) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(parent, "submission.reevaluate", trace.WithAttributes(
		attribute.Int64("submission_id", int64(submissionID)),
	))
	defer span.End()

	resp, err := s.reevaluate(ctx, actor, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.SubmissionResponse{}, err
	}
	return resp, nil
}

func (s *submissionService) reevaluate(ctx context.Context, actor ActivityActor, submissionID uint) (dto.SubmissionResponse, error) {
	if !actor.IsGrader() {
		return dto.SubmissionResponse{}, ErrGraderOnly
	}

	stored, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	activity, err := s.loadActivity(ctx, stored.ActivityID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if activity.Kind == models.ActivityKindManual {
		return dto.SubmissionResponse{}, ErrReevaluateUnsupported
	}
	if err := validateKind(activity, stored.URL, false); err != nil {
		return dto.SubmissionResponse{}, err
	}

	key := stored.Key()
	release, err := s.lock.Acquire(ctx, key)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	defer release()

	runID := uuid.NewString()
	outcome, err := s.pipeline.Run(ctx, GradingRequest{Activity: activity, URL: stored.URL, UserID: actor.ID, RunID: runID})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	var previous *float64
	grade := outcome.Result.Grade
	feedback := outcome.Result.Feedback
	submission, err := s.merge(ctx, stored.ActivityID, stored.StudentID, func(current *models.ActivitySubmission, exists bool) (*models.SubmissionGradeHistory, error) {
		if !exists {
			return nil, ErrSubmissionNotFound
		}
		now := s.now()
		previous = current.Grade
		current.Grade = mergeGrade(current.Grade, &grade)
		current.Feedback = &feedback
		current.GradedAt = &now

		return &models.SubmissionGradeHistory{
			Score:    &grade,
			Feedback: feedback,
			Source:   models.GradeSourceReevaluate,
			GradedBy: &actor.ID,
			Metadata: outcomeMetadata(outcome),
			GradedAt: now,
		}, nil
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	observeMerge(previous, grade)
	s.afterMerge(ctx, actor, submission, models.ActionSubmissionReevaluated, models.GradeSourceReevaluate, &grade, runID)

	response := dto.NewSubmissionResponse(submission, activity)
	response.Grading = gradingReport(outcome)
	return response, nil
}

func (s *submissionService) Get(ctx context.Context, activityID, studentID uint) (dto.SubmissionResponse, error) {
	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, exists, err := s.current(ctx, activityID, studentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !exists {
		return dto.SubmissionResponse{}, ErrSubmissionNotFound
	}

	return dto.NewSubmissionResponse(submission, activity), nil
}

func (s *submissionService) History(ctx context.Context, submissionID uint) ([]dto.SubmissionGradeHistoryResponse, error) {
	if _, err := s.submissions.GetByID(ctx, submissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	entries, err := s.submissions.ListHistory(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return dto.NewGradeHistoryResponses(entries), nil
}

func (s *submissionService) loadActivity(ctx context.Context, id uint) (models.Activity, error) {
	activity, err := s.activities.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Activity{}, ErrActivityNotFound
		}
		return models.Activity{}, err
	}
	return activity, nil
}

func (s *submissionService) current(ctx context.Context, activityID, studentID uint) (models.ActivitySubmission, bool, error) {
	submission, err := s.submissions.GetByActivityAndStudent(ctx, activityID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ActivitySubmission{}, false, nil
		}
		return models.ActivitySubmission{}, false, err
	}
	return submission, true, nil
}

// merge serializes writers per pair in-process; the repository adds a row lock for other replicas.
func (s *submissionService) merge(ctx context.Context, activityID, studentID uint, fn repository.MergeFunc) (models.ActivitySubmission, error) {
	unlock := s.merges.Lock(models.SubmissionKey(studentID, activityID))
	defer unlock()
	return s.submissions.Merge(ctx, activityID, studentID, fn)
}

func (s *submissionService) afterMerge(ctx context.Context, actor ActivityActor, submission models.ActivitySubmission, action string, src models.GradeSource, runGrade *float64, runID string) {
	observability.SubmissionDecisions().WithLabelValues("accepted").Inc()

	metadata := map[string]interface{}{"source": string(src)}
	if runGrade != nil {
		metadata["run_grade"] = *runGrade
	}
	if submission.Grade != nil {
		metadata["grade"] = *submission.Grade
	}
	if runID != "" {
		metadata["run_id"] = runID
	}
	s.audit(ctx, actor, submission, action, metadata)

	event := GradingEvent{
		Type:          eventTypeForAction(action),
		SubmissionID:  submission.ID,
		ActivityID:    submission.ActivityID,
		StudentID:     submission.StudentID,
		Grade:         submission.Grade,
		RunGrade:      runGrade,
		AttemptCount:  submission.AttemptCount,
		Source:        string(src),
		RunID:         runID,
		CorrelationID: middleware.CorrelationIDFromContext(ctx),
		OccurredAt:    s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("type", event.Type).Uint("submission_id", submission.ID).Msg("failed to publish grading event")
	}
}

func (s *submissionService) audit(ctx context.Context, actor ActivityActor, submission models.ActivitySubmission, action string, metadata map[string]interface{}) {
	if s.recorder == nil {
		return
	}
	entityID := submission.ID
	if _, err := s.recorder.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "activity_submission",
		EntityID:   &entityID,
		Metadata:   metadata,
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to record audit entry")
	}
}

// mergeGrade keeps the best grade: max(existing, incoming) when both exist, otherwise whichever is present.
func mergeGrade(existing, incoming *float64) *float64 {
	switch {
	case incoming == nil:
		return existing
	case existing == nil:
		value := *incoming
		return &value
	case *incoming > *existing:
		value := *incoming
		return &value
	default:
		value := *existing
		return &value
	}
}

func observeMerge(previous *float64, incoming float64) {
	if previous != nil && *previous >= incoming {
		observability.GradeMerges().WithLabelValues("kept").Inc()
		return
	}
	observability.GradeMerges().WithLabelValues("replaced").Inc()
}

func outcomeMetadata(outcome GradingOutcome) datatypes.JSONMap {
	files := make([]interface{}, 0, len(outcome.Analyses))
	for _, analysis := range outcome.Analyses {
		files = append(files, map[string]interface{}{
			"filename": analysis.Filename,
			"score":    analysis.ScoreContribution,
			"degraded": analysis.Degraded,
		})
	}
	missing := make([]interface{}, 0, len(outcome.MissingFiles))
	for _, path := range outcome.MissingFiles {
		missing = append(missing, path)
	}

	return datatypes.JSONMap{
		"run_id":        outcome.RunID,
		"provider":      outcome.Provider,
		"files":         files,
		"missing_files": missing,
		"warnings":      len(outcome.Warnings),
	}
}

func gradingReport(outcome GradingOutcome) *dto.GradingReport {
	report := &dto.GradingReport{
		RunID:        outcome.RunID,
		Provider:     outcome.Provider,
		Grade:        outcome.Result.Grade,
		MissingFiles: append([]string{}, outcome.MissingFiles...),
		Warnings:     append([]string{}, outcome.Warnings...),
		Files:        make([]dto.FileReport, 0, len(outcome.Analyses)),
	}
	for _, analysis := range outcome.Analyses {
		file := dto.FileReport{
			Filename: analysis.Filename,
			Score:    analysis.ScoreContribution,
			Summary:  analysis.Summary,
			Degraded: analysis.Degraded,
		}
		for _, lineErr := range analysis.Errors {
			file.Errors = append(file.Errors, fmt.Sprintf("line %d: %s", lineErr.Line, lineErr.Message))
		}
		report.Files = append(report.Files, file)
	}
	return report
}

func decisionLabel(err error) string {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, ErrAttemptsExhausted):
		return "attempts_exhausted"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown"
	case errors.Is(err, ErrInvalidSubmissionKind), errors.Is(err, source.ErrInvalidReference):
		return "invalid_kind"
	case errors.Is(err, ErrGradingInProgress):
		return "in_progress"
	case errors.As(err, &validationErrors):
		return "invalid_payload"
	default:
		return "failed"
	}
}
