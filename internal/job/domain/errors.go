package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest is returned when a job request misses a required field
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrSubmissionFailed is returned when the backend did not accept a job
	ErrSubmissionFailed = errors.New("job submission failed")

	// ErrConnectionLost is returned when polling gave up after too many
	// consecutive transient failures
	ErrConnectionLost = errors.New("lost connection to job backend")

	// ErrJobFailed is returned when the backend reported the job as failed
	ErrJobFailed = errors.New("job failed")

	// ErrCanceled is returned when the caller canceled polling
	ErrCanceled = errors.New("polling canceled")
)

// ValidationError lists the request fields that were empty.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// SubmissionError wraps a failed job creation request. StatusCode is zero
// when the backend could not be reached at all.
type SubmissionError struct {
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", ErrSubmissionFailed, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", ErrSubmissionFailed, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{ErrSubmissionFailed, e.Err}
}

// TransientPollError wraps a status request that did not reach the backend
// successfully. It is retried and never terminal on its own.
type TransientPollError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("transient poll error (job %s, attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *TransientPollError) Unwrap() error {
	return e.Err
}

// JobFailure carries the backend-reported failure message verbatim.
type JobFailure struct {
	JobID   string
	Message string
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *JobFailure) Unwrap() error {
	return ErrJobFailed
}
