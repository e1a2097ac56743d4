// Package poller drives accepted jobs to completion by polling the backend
// for their status until a terminal state is reached.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/script-studio/internal/job/domain"
)

var (
	// ErrSessionActive is returned by Start when the job is already polled
	ErrSessionActive = errors.New("job is already being polled")
	// ErrSessionNotFound is returned by Cancel for unknown or finished jobs
	ErrSessionNotFound = errors.New("no active polling session for job")
	// ErrEmptyHandle is returned by Start for a handle without id
	ErrEmptyHandle = errors.New("job handle has no id")
	// ErrShutdown is returned by Start after Shutdown
	ErrShutdown = errors.New("poller is shut down")
)

// StatusFetcher performs a single status request for a job
type StatusFetcher interface {
	FetchStatus(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error)
}

// UpdateFunc receives every non-terminal state observed by a session
type UpdateFunc func(domain.Update)

// TerminalFunc receives the single outcome of a session
type TerminalFunc func(domain.Outcome)

// Config holds poller configuration
type Config struct {
	Fetcher   StatusFetcher
	Scheduler Scheduler
	Policy    Policy
	Logger    *slog.Logger
	// AnnounceStart emits a STARTING update before the first poll
	AnnounceStart bool
}

// Poller owns the registry of active sessions, at most one per job id.
type Poller struct {
	fetcher   StatusFetcher
	scheduler Scheduler
	policy    Policy
	logger    *slog.Logger
	announce  bool

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// New creates a new poller
func New(cfg Config) (*Poller, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("poller: fetcher is required")
	}

	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = Clock{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Poller{
		fetcher:   cfg.Fetcher,
		scheduler: scheduler,
		policy:    cfg.Policy.withDefaults(),
		logger:    logger.With(slog.String("component", "poller")),
		announce:  cfg.AnnounceStart,
		sessions:  make(map[string]*Session),
	}, nil
}

// Start begins polling the job. The first poll is scheduled immediately
// and runs asynchronously. onUpdate is called for each non-terminal state
// and onTerminal exactly once when the session ends.
func (p *Poller) Start(handle domain.JobHandle, onUpdate UpdateFunc, onTerminal TerminalFunc) (*Session, error) {
	if handle.ID == "" {
		return nil, ErrEmptyHandle
	}
	if onUpdate == nil {
		onUpdate = func(domain.Update) {}
	}
	if onTerminal == nil {
		onTerminal = func(domain.Outcome) {}
	}

	s := newSession(p, handle, onUpdate, onTerminal)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, ok := p.sessions[handle.ID]; ok {
		p.mu.Unlock()
		return nil, ErrSessionActive
	}
	p.sessions[handle.ID] = s
	p.mu.Unlock()

	p.logger.Info("Polling started",
		slog.String("job_id", handle.ID),
		slog.Duration("interval", p.policy.Interval),
	)

	s.start(p.announce)
	return s, nil
}

// Cancel stops the session polling jobID
func (p *Poller) Cancel(jobID string) error {
	s := p.session(jobID)
	if s == nil || !s.Cancel() {
		return ErrSessionNotFound
	}
	return nil
}

// Active reports whether jobID has a live session
func (p *Poller) Active(jobID string) bool {
	return p.session(jobID) != nil
}

// State returns the last non-terminal state of an active session
func (p *Poller) State(jobID string) (string, bool) {
	s := p.session(jobID)
	if s == nil {
		return "", false
	}
	return s.State(), true
}

// Len returns the number of active sessions
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Shutdown cancels every active session and refuses new ones. It waits
// for the terminal callbacks to return or for ctx to be done.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	if len(sessions) > 0 {
		p.logger.Info("Canceling active sessions", slog.Int("count", len(sessions)))
	}

	for _, s := range sessions {
		s.Cancel()
	}

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop halts every active session without delivering outcomes and refuses
// new ones. It is meant for process exit when the jobs will be polled again
// by a later process. It returns the ids of the halted jobs.
func (p *Poller) Stop() []string {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	halted := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.halt() {
			halted = append(halted, s.JobID())
		}
	}

	if len(halted) > 0 {
		p.logger.Info("Polling stopped", slog.Int("sessions", len(halted)))
	}
	return halted
}

func (p *Poller) session(jobID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[jobID]
}

// remove drops s from the registry unless a newer session took its place
func (p *Poller) remove(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[s.handle.ID]; ok && cur == s {
		delete(p.sessions, s.handle.ID)
	}
}
