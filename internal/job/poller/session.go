package poller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/script-studio/internal/job/domain"
)

// Session is one polling loop over one job. It is created by Poller.Start
// and delivers exactly one outcome unless it is halted by Poller.Stop.
type Session struct {
	handle     domain.JobHandle
	fetcher    StatusFetcher
	scheduler  Scheduler
	policy     Policy
	logger     *slog.Logger
	onUpdate   UpdateFunc
	onTerminal TerminalFunc
	release    func()

	// ctx is canceled when the session ends so that an in-flight status
	// request is abandoned
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	active   bool
	state    string
	failures int
	timer    Timer
}

func newSession(p *Poller, handle domain.JobHandle, onUpdate UpdateFunc, onTerminal TerminalFunc) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		handle:     handle,
		fetcher:    p.fetcher,
		scheduler:  p.scheduler,
		policy:     p.policy,
		logger:     p.logger.With(slog.String("job_id", handle.ID)),
		onUpdate:   onUpdate,
		onTerminal: onTerminal,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		active:     true,
		state:      domain.StateStarting,
	}
	s.release = func() { p.remove(s) }
	return s
}

// JobID returns the id of the polled job
func (s *Session) JobID() string {
	return s.handle.ID
}

// Done is closed after the terminal callback has returned
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Active reports whether the session is still polling
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// State returns the last non-terminal state adopted by the session
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel stops the session. A poll that is already scheduled will not run
// and the terminal callback receives a canceled outcome. Cancel returns
// false if the session had already ended.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.logger.Info("Polling canceled")
	s.finish(domain.CanceledOutcome(s.handle.ID))
	return true
}

// halt ends the session without an outcome
func (s *Session) halt() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.release()
	close(s.done)
	return true
}

func (s *Session) start(announce bool) {
	if announce {
		s.onUpdate(s.update(domain.StateStarting, ""))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.timer = s.scheduler.AfterFunc(0, s.poll)
	}
}

// poll performs one status request and decides what happens next. Every
// exit path either schedules exactly one follow-up poll or ends the session.
func (s *Session) poll() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	status, err := s.fetcher.FetchStatus(s.ctx, s.handle)

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.failures++
		perr := &domain.TransientPollError{JobID: s.handle.ID, Attempt: s.failures, Err: err}

		if s.failures > s.policy.MaxTransientFailures {
			s.active = false
			s.mu.Unlock()

			s.logger.Error("Giving up on job status",
				slog.Int("consecutive_failures", perr.Attempt),
				slog.Any("error", err),
			)
			s.finish(domain.ConnectionLostOutcome(s.handle.ID, perr))
			return
		}

		s.timer = s.scheduler.AfterFunc(s.policy.RetryDelay, s.poll)
		s.mu.Unlock()

		s.logger.Warn("Status poll failed, retrying",
			slog.Int("attempt", perr.Attempt),
			slog.Int("max_failures", s.policy.MaxTransientFailures),
			slog.Duration("retry_after", s.policy.RetryDelay),
			slog.Any("error", err),
		)
		return
	}

	s.failures = 0

	switch status.State {
	case domain.StateSuccess:
		s.active = false
		s.mu.Unlock()

		script := ""
		if status.Result != nil {
			script = status.Result.Script
		}
		s.logger.Info("Job succeeded", slog.Int("script_length", len(script)))
		s.finish(domain.SucceededOutcome(s.handle.ID, script))

	case domain.StateFailure:
		s.active = false
		s.mu.Unlock()

		s.logger.Warn("Job failed", slog.String("message", status.Message))
		s.finish(domain.FailedOutcome(s.handle.ID, status.Message))

	default:
		previous := s.state
		s.state = status.State
		s.mu.Unlock()

		if previous != status.State {
			s.logger.Info("Job state changed",
				slog.String("from", previous),
				slog.String("to", status.State),
			)
		}

		// The callback runs unlocked so it may cancel the session
		s.onUpdate(s.update(status.State, status.Message))

		s.mu.Lock()
		if s.active {
			s.timer = s.scheduler.AfterFunc(s.policy.Interval, s.poll)
		}
		s.mu.Unlock()
	}
}

func (s *Session) update(state, message string) domain.Update {
	return domain.Update{
		JobID:    s.handle.ID,
		State:    state,
		Progress: domain.ProgressFor(state),
		Message:  message,
	}
}

// finish is called once, by whoever flipped active to false
func (s *Session) finish(outcome domain.Outcome) {
	s.cancel()
	s.release()
	s.onTerminal(outcome)
	close(s.done)
}
