// Package tracker records what polling sessions observe: progress and
// outcomes go to the runs ledger and outcomes are also published as events.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	apidomain "github.com/cuongbtq/script-studio/internal/api/domain"
	"github.com/cuongbtq/script-studio/internal/job/domain"
)

const (
	// RoutingKeyPrefix prefixes the lowercased outcome kind
	RoutingKeyPrefix = "script."

	defaultWriteTimeout   = 5 * time.Second
	defaultPublishTimeout = 10 * time.Second
)

// RunStore persists run progress and outcomes
type RunStore interface {
	UpdateProgress(ctx context.Context, jobID, state string, progress int, label, message string) error
	CompleteRun(ctx context.Context, jobID, status, message, script string) error
}

// Publisher delivers outcome events. *rabbitmq.Client satisfies it.
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// OutcomeEvent is the message published when a session ends
type OutcomeEvent struct {
	JobID      string    `json:"job_id"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message"`
	Script     string    `json:"script,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey returns the routing key for an outcome kind, e.g. script.succeeded
func RoutingKey(kind domain.OutcomeKind) string {
	return RoutingKeyPrefix + strings.ToLower(string(kind))
}

// Config holds tracker dependencies. Publisher is optional.
type Config struct {
	Store          RunStore
	Publisher      Publisher
	Logger         *slog.Logger
	WriteTimeout   time.Duration
	// PublishTimeout bounds publishing one event, retries included
	PublishTimeout time.Duration
}

// Tracker turns poller callbacks into ledger writes and events
type Tracker struct {
	store          RunStore
	publisher      Publisher
	logger         *slog.Logger
	timeout        time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

// New creates a new tracker
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &Tracker{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		logger:         logger.With(slog.String("component", "tracker")),
		timeout:        timeout,
		publishTimeout: publishTimeout,
		now:            time.Now,
	}
}

// OnUpdate records a non-terminal state
func (t *Tracker) OnUpdate(u domain.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.store.UpdateProgress(ctx, u.JobID, u.State, u.Progress.Percent, u.Progress.Label, u.Message)
	if err != nil {
		t.logger.Error("Failed to record progress",
			slog.String("job_id", u.JobID),
			slog.String("state", u.State),
			slog.Any("error", err),
		)
		return
	}

	t.logger.Debug("Progress recorded",
		slog.String("job_id", u.JobID),
		slog.Int("percent", u.Progress.Percent),
	)
}

// OnTerminal records the outcome, then publishes it
func (t *Tracker) OnTerminal(o domain.Outcome) {
	t.record(o)

	t.logger.Info("Run finished",
		slog.String("job_id", o.JobID),
		slog.String("outcome", string(o.Kind)),
	)

	if t.publisher != nil {
		t.publish(o)
	}
}

func (t *Tracker) record(o domain.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.store.CompleteRun(ctx, o.JobID, string(o.Kind), o.Message, o.Script)
	if err != nil && !errors.Is(err, apidomain.ErrRunNotFound) {
		t.logger.Error("Failed to record outcome",
			slog.String("job_id", o.JobID),
			slog.String("outcome", string(o.Kind)),
			slog.Any("error", err),
		)
	}
}

// publish gets its own deadline, independent of the ledger write
func (t *Tracker) publish(o domain.Outcome) {
	body, err := json.Marshal(OutcomeEvent{
		JobID:      o.JobID,
		Outcome:    string(o.Kind),
		Message:    o.Message,
		Script:     o.Script,
		OccurredAt: t.now().UTC(),
	})
	if err != nil {
		t.logger.Error("Failed to encode outcome event", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.publishTimeout)
	defer cancel()

	if err := t.publisher.PublishWithRetry(ctx, RoutingKey(o.Kind), body, "application/json"); err != nil {
		t.logger.Error("Failed to publish outcome event",
			slog.String("job_id", o.JobID),
			slog.Any("error", err),
		)
	}
}
