package domain

import (
	"errors"

	jobdomain "github.com/cuongbtq/script-studio/internal/job/domain"
)

// Run statuses. A run is RUNNING while a polling session owns it and takes
// the outcome kind of that session once it ends.
const (
	RunStatusRunning        = "RUNNING"
	RunStatusSucceeded      = string(jobdomain.OutcomeSucceeded)
	RunStatusFailed         = string(jobdomain.OutcomeJobFailed)
	RunStatusConnectionLost = string(jobdomain.OutcomeConnectionLost)
	RunStatusCanceled       = string(jobdomain.OutcomeCanceled)
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunActive    = errors.New("run is still polling")
	ErrRunNotActive = errors.New("run is not polling")
)

// IsValidRunStatus reports whether status can be used as a list filter
func IsValidRunStatus(status string) bool {
	switch status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusConnectionLost, RunStatusCanceled:
		return true
	}
	return false
}
