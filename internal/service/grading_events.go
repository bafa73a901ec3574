package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event types emitted after a grade is merged into submission state.
const (
	EventSubmissionGraded      = "submission.graded"
	EventSubmissionReevaluated = "submission.reevaluated"
	EventSubmissionManual      = "submission.manual_graded"
)

// eventTypeForAction maps an audit action to the event type subscribers receive.
func eventTypeForAction(action string) string {
	switch action {
	case models.ActionSubmissionReevaluated:
		return EventSubmissionReevaluated
	case models.ActionSubmissionManual:
		return EventSubmissionManual
	default:
		return EventSubmissionGraded
	}
}

// GradingEvent is the payload published when a submission's stored state changes.
type GradingEvent struct {
	Type          string    `json:"type"`
	SubmissionID  uint      `json:"submission_id"`
	ActivityID    uint      `json:"activity_id"`
	StudentID     uint      `json:"student_id"`
	Grade         *float64  `json:"grade"`
	RunGrade      *float64  `json:"run_grade,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	Source        string    `json:"source"`
	RunID         string    `json:"run_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// GradingEventPublisher fans grading events out to subscribers.
type GradingEventPublisher interface {
	Publish(ctx context.Context, event GradingEvent) error
}

type gradingEventPublisher struct {
	redis   *redis.Client
	nats    *nats.Conn
	channel string
	logger  zerolog.Logger
}

// NewGradingEventPublisher publishes to a redis channel and a NATS subject; either transport may be nil.
// Transport failures are returned to the caller, which owns logging them.
func NewGradingEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channel string, logger zerolog.Logger) GradingEventPublisher {
	if channel == "" {
		channel = "gema:grading"
	}
	return &gradingEventPublisher{
		redis:   redisClient,
		nats:    natsConn,
		channel: channel,
		logger:  logger.With().Str("component", "grading_events").Logger(),
	}
}

func (p *gradingEventPublisher) Publish(ctx context.Context, event GradingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode grading event: %w", err)
	}

	var errs []error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis channel %s: %w", p.channel, err))
		}
	}

	if p.nats != nil {
		subject := natsSubject(p.channel, event.Type)
		if err := p.nats.Publish(subject, payload); err != nil {
			errs = append(errs, fmt.Errorf("nats subject %s: %w", subject, err))
		}
	}

	if len(errs) > 0 {
		p.logger.Debug().Str("type", event.Type).Int("failures", len(errs)).Msg("grading event not fully delivered")
	}
	return errors.Join(errs...)
}

var subjectReplacer = strings.NewReplacer(":", ".", " ", ".", "/", ".")

// natsSubject maps "gema:grading" + "submission.graded" to "gema.grading.submission.graded".
func natsSubject(channel, eventType string) string {
	return subjectReplacer.Replace(channel) + "." + eventType
}

type noopEventPublisher struct{}

// NewNoopEventPublisher discards every event.
func NewNoopEventPublisher() GradingEventPublisher {
	return noopEventPublisher{}
}

func (noopEventPublisher) Publish(context.Context, GradingEvent) error {
	return nil
}
