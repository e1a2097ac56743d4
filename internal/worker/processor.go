package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	jobdomain "github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/cuongbtq/script-studio/internal/worker/domain"
)

// processEvent writes the script of a succeeded job and records every
// outcome in the ledger
func (w *Worker) processEvent(ctx context.Context, msg *eventMessage) error {
	// Events still buffered at shutdown go back to the queue
	if err := ctx.Err(); err != nil {
		return domain.NewRetryableError(err)
	}

	event := msg.Event
	kind := jobdomain.OutcomeKind(event.Outcome)
	if !isKnownOutcome(kind) {
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidEvent, event.Outcome)
	}

	entry := domain.Entry{
		JobID:      event.JobID,
		Outcome:    event.Outcome,
		Message:    event.Message,
		OccurredAt: event.OccurredAt,
		ArchivedAt: w.now().UTC(),
	}

	if kind == jobdomain.OutcomeSucceeded {
		if event.Script == "" {
			return fmt.Errorf("%w: succeeded without script", domain.ErrInvalidEvent)
		}

		path, err := w.archive.SaveScript(event.JobID, event.Script)
		if err != nil {
			return archiveError(msg, err)
		}
		entry.ScriptPath = filepath.Base(path)
	}

	if err := w.archive.AppendEntry(entry); err != nil {
		return archiveError(msg, err)
	}

	w.logger.Debug("Ledger entry written",
		slog.String("job_id", event.JobID),
		slog.String("outcome", event.Outcome),
		slog.String("script_path", entry.ScriptPath),
	)
	return nil
}

// archiveError allows one requeue per message; a redelivered message that
// fails again is dropped
func archiveError(msg *eventMessage, err error) error {
	if msg.Delivery.Redelivered {
		return fmt.Errorf("archive failed on redelivery: %w", err)
	}
	return domain.NewRetryableError(err)
}

func isKnownOutcome(kind jobdomain.OutcomeKind) bool {
	switch kind {
	case jobdomain.OutcomeSucceeded,
		jobdomain.OutcomeJobFailed,
		jobdomain.OutcomeConnectionLost,
		jobdomain.OutcomeCanceled:
		return true
	}
	return false
}
