package service

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	// ErrInvalidSubmissionKind indicates the submitted URL does not match the activity kind.
	ErrInvalidSubmissionKind = errors.New("submission url does not match the activity type")
	// ErrAttemptsExhausted indicates the student used every allowed attempt.
	ErrAttemptsExhausted = errors.New("maximum number of attempts reached")
	// ErrCooldownActive indicates the student must wait before resubmitting.
	ErrCooldownActive = errors.New("submission cooldown active")
	// ErrCredentialMissing indicates no usable API key could be resolved.
	ErrCredentialMissing = errors.New("no api key configured for grading")
	// ErrActivityNotFound indicates the activity does not exist.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrGradingInProgress indicates another grading run holds the submission.
	ErrGradingInProgress = errors.New("a grading run for this submission is already in progress")
	// ErrGraderOnly indicates a non-grader attempted to set a grade or feedback.
	ErrGraderOnly = errors.New("only teachers can set grades or feedback")
	// ErrReevaluateUnsupported indicates the activity cannot be re-run through the pipeline.
	ErrReevaluateUnsupported = errors.New("manual activities cannot be re-evaluated automatically")
	// ErrStudentRequired indicates a grader write did not name the student being graded.
	ErrStudentRequired = errors.New("student_id is required when grading a submission")
	// ErrRepositoryUnlisted indicates the repository tree could not be listed to discover files.
	ErrRepositoryUnlisted = errors.New("repository files could not be listed")
	// ErrNoGradableFiles indicates tree discovery found no source files to grade.
	ErrNoGradableFiles = errors.New("the repository contains no source files to grade")
)

// CooldownError carries the remaining wait before another submission is admitted.
type CooldownError struct {
	Remaining time.Duration
}

// RemainingMinutes rounds the remaining wait up to whole minutes.
func (e *CooldownError) RemainingMinutes() int {
	minutes := int(math.Ceil(e.Remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// RetryAfterSeconds formats the remaining wait for a Retry-After header.
func (e *CooldownError) RetryAfterSeconds() string {
	return strconv.Itoa(int(math.Ceil(e.Remaining.Seconds())))
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d minute(s) before submitting again", e.RemainingMinutes())
}

// Is lets errors.Is match ErrCooldownActive.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}
