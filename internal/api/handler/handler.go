package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/script-studio/internal/api/model"
	"github.com/cuongbtq/script-studio/internal/api/storage"
	jobdomain "github.com/cuongbtq/script-studio/internal/job/domain"
)

// RunService is implemented by service.RunService
type RunService interface {
	Launch(ctx context.Context, req jobdomain.JobRequest) (*model.Run, error)
	GetRun(ctx context.Context, jobID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.Run, error)
	Cancel(jobID string) error
	DeleteRun(ctx context.Context, jobID string) error
}

// PollingChecker reports whether a job has a live polling session
type PollingChecker interface {
	Active(jobID string) bool
}

// DatabaseChecker is satisfied by *postgresql.Client
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerChecker is satisfied by *rabbitmq.Client
type BrokerChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	ServiceName string
	Logger      *slog.Logger
	Runs        RunService
	Polling     PollingChecker
	Database    DatabaseChecker
	Broker      BrokerChecker
}

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	logger  *slog.Logger
	runs    RunService
	polling PollingChecker
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	return &RunHandler{
		logger:  deps.Logger,
		runs:    deps.Runs,
		polling: deps.Polling,
	}
}
