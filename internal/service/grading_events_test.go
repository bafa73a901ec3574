package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

func TestGradingEventPublisherRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "gema:grading")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewGradingEventPublisher(client, nil, "", testLogger())
	grade := 4.5
	require.NoError(t, publisher.Publish(ctx, GradingEvent{
		Type:         EventSubmissionGraded,
		SubmissionID: 3,
		ActivityID:   1,
		StudentID:    7,
		Grade:        &grade,
		AttemptCount: 2,
		Source:       "pipeline",
		RunID:        "run-1",
		OccurredAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}))

	select {
	case msg := <-sub.Channel():
		var event GradingEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		require.Equal(t, uint(3), event.SubmissionID)
		require.Equal(t, 4.5, *event.Grade)
		require.Equal(t, "run-1", event.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("grading event was not delivered")
	}
}

func TestGradingEventPublisherWithoutTransports(t *testing.T) {
	publisher := NewGradingEventPublisher(nil, nil, "gema:grading", testLogger())
	require.NoError(t, publisher.Publish(context.Background(), GradingEvent{Type: EventSubmissionGraded}))
	require.NoError(t, NewNoopEventPublisher().Publish(context.Background(), GradingEvent{}))
}

func TestGradingEventPublisherReturnsTransportFailure(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	defer client.Close()
	server.Close()

	publisher := NewGradingEventPublisher(client, nil, "gema:grading", testLogger())
	err = publisher.Publish(context.Background(), GradingEvent{Type: EventSubmissionReevaluated})
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis channel gema:grading")
}

func TestEventTypeForAction(t *testing.T) {
	require.Equal(t, EventSubmissionGraded, eventTypeForAction(models.ActionSubmissionGraded))
	require.Equal(t, EventSubmissionReevaluated, eventTypeForAction(models.ActionSubmissionReevaluated))
	require.Equal(t, EventSubmissionManual, eventTypeForAction(models.ActionSubmissionManual))
	require.Equal(t, "gema.grading.submission.manual_graded", natsSubject("gema:grading", EventSubmissionManual))
}

func TestNatsSubject(t *testing.T) {
	require.Equal(t, "gema.grading.submission.graded", natsSubject("gema:grading", EventSubmissionGraded))
	require.Equal(t, "grader.events.submission.graded", natsSubject("grader/events", EventSubmissionGraded))
}
