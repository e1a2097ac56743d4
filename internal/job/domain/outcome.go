package domain

import "fmt"

// OutcomeKind tells apart the ways a polling session can end.
type OutcomeKind string

const (
	OutcomeSucceeded      OutcomeKind = "SUCCEEDED"
	OutcomeJobFailed      OutcomeKind = "FAILED"
	OutcomeConnectionLost OutcomeKind = "CONNECTION_LOST"
	OutcomeCanceled       OutcomeKind = "CANCELED"
)

// Update is delivered for every non-terminal poll.
type Update struct {
	JobID    string
	State    string
	Progress Progress
	Message  string
}

// Outcome is delivered exactly once when a session ends. Script is set only
// for OutcomeSucceeded; Err is nil only for OutcomeSucceeded.
type Outcome struct {
	JobID   string
	Kind    OutcomeKind
	Script  string
	Message string
	Err     error
}

// Succeeded reports whether the job produced a script
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSucceeded
}

// SucceededOutcome builds the success outcome for jobID
func SucceededOutcome(jobID, script string) Outcome {
	return Outcome{
		JobID:   jobID,
		Kind:    OutcomeSucceeded,
		Script:  script,
		Message: MessageGenerated,
	}
}

// FailedOutcome builds the outcome for a backend-reported failure. An empty
// message is replaced by MessageJobFailed.
func FailedOutcome(jobID, message string) Outcome {
	if message == "" {
		message = MessageJobFailed
	}
	return Outcome{
		JobID:   jobID,
		Kind:    OutcomeJobFailed,
		Message: message,
		Err:     &JobFailure{JobID: jobID, Message: message},
	}
}

// ConnectionLostOutcome builds the outcome for an exhausted retry budget.
// last is the final transient error.
func ConnectionLostOutcome(jobID string, last error) Outcome {
	return Outcome{
		JobID:   jobID,
		Kind:    OutcomeConnectionLost,
		Message: MessageConnectionLost,
		Err:     fmt.Errorf("%w: %w", ErrConnectionLost, last),
	}
}

// CanceledOutcome builds the outcome for a session canceled by its caller
func CanceledOutcome(jobID string) Outcome {
	return Outcome{
		JobID:   jobID,
		Kind:    OutcomeCanceled,
		Message: MessageCanceled,
		Err:     ErrCanceled,
	}
}
