package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/script-studio/internal/api/domain"
	"github.com/cuongbtq/script-studio/internal/api/model"
	"github.com/cuongbtq/script-studio/internal/api/storage"
	jobdomain "github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/cuongbtq/script-studio/internal/job/poller"
)

const resumePageSize = 100

// Submitter creates backend jobs
type Submitter interface {
	Submit(ctx context.Context, req jobdomain.JobRequest) (jobdomain.JobHandle, error)
}

// Sessions is the polling registry
type Sessions interface {
	Start(handle jobdomain.JobHandle, onUpdate poller.UpdateFunc, onTerminal poller.TerminalFunc) (*poller.Session, error)
	Cancel(jobID string) error
	Active(jobID string) bool
}

// RunStore is the runs ledger
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, jobID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.Run, error)
	DeleteRun(ctx context.Context, jobID string) error
}

// Recorder receives session callbacks. *tracker.Tracker satisfies it.
type Recorder interface {
	OnUpdate(jobdomain.Update)
	OnTerminal(jobdomain.Outcome)
}

// RunService launches and manages script generation runs
type RunService struct {
	submitter Submitter
	sessions  Sessions
	store     RunStore
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunService(submitter Submitter, sessions Sessions, store RunStore, recorder Recorder, logger *slog.Logger) *RunService {
	return &RunService{
		submitter: submitter,
		sessions:  sessions,
		store:     store,
		recorder:  recorder,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Launch submits the job, records the run and starts polling it. The run is
// recorded before the first poll is scheduled.
func (s *RunService) Launch(ctx context.Context, req jobdomain.JobRequest) (*model.Run, error) {
	handle, err := s.submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	starting := jobdomain.ProgressFor(jobdomain.StateStarting)
	run := &model.Run{
		JobID:         handle.ID,
		CreatorHandle: req.CreatorHandle,
		Topic:         req.Topic,
		Status:        domain.RunStatusRunning,
		State:         jobdomain.StateStarting,
		Progress:      starting.Percent,
		Label:         starting.Label,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		s.logger.Error("Failed to record run",
			slog.String("job_id", handle.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("job %s accepted but not recorded: %w", handle.ID, err)
	}

	if _, err := s.sessions.Start(handle, s.recorder.OnUpdate, s.recorder.OnTerminal); err != nil {
		return nil, fmt.Errorf("failed to start polling: %w", err)
	}

	s.logger.Info("Run launched",
		slog.String("job_id", handle.ID),
		slog.String("creator_handle", req.CreatorHandle),
	)
	return run, nil
}

func (s *RunService) GetRun(ctx context.Context, jobID string) (*model.Run, error) {
	return s.store.GetRun(ctx, jobID)
}

func (s *RunService) ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.Run, error) {
	return s.store.ListRuns(ctx, filter)
}

// Cancel stops the polling session of jobID
func (s *RunService) Cancel(jobID string) error {
	if err := s.sessions.Cancel(jobID); err != nil {
		if errors.Is(err, poller.ErrSessionNotFound) {
			return domain.ErrRunNotActive
		}
		return err
	}
	return nil
}

// DeleteRun removes a run that is no longer polling
func (s *RunService) DeleteRun(ctx context.Context, jobID string) error {
	if s.sessions.Active(jobID) {
		return domain.ErrRunActive
	}
	return s.store.DeleteRun(ctx, jobID)
}

// Resume restarts polling for runs left RUNNING by a previous process.
// Polling needs only the job id, so no credentials are required.
func (s *RunService) Resume(ctx context.Context) (int, error) {
	var (
		resumed int
		cursor  *storage.RunCursor
	)

	for {
		runs, err := s.store.ListRuns(ctx, storage.RunFilter{
			Status:   domain.RunStatusRunning,
			PageSize: resumePageSize,
			Cursor:   cursor,
		})
		if err != nil {
			return resumed, fmt.Errorf("failed to list running runs: %w", err)
		}

		hasMore := len(runs) > resumePageSize
		if hasMore {
			runs = runs[:resumePageSize]
		}

		for _, run := range runs {
			_, err := s.sessions.Start(jobdomain.JobHandle{ID: run.JobID}, s.recorder.OnUpdate, s.recorder.OnTerminal)
			if err != nil {
				if errors.Is(err, poller.ErrSessionActive) {
					continue
				}
				return resumed, fmt.Errorf("failed to resume %s: %w", run.JobID, err)
			}
			resumed++
		}

		if !hasMore {
			break
		}
		last := runs[len(runs)-1]
		cursor = &storage.RunCursor{CreatedAt: last.CreatedAt, JobID: last.JobID}
	}

	if resumed > 0 {
		s.logger.Info("Resumed polling", slog.Int("runs", resumed))
	}
	return resumed, nil
}
