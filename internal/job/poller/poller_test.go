package poller

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler is a virtual clock. Callbacks only run from Advance, on the
// calling goroutine.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTimer{s: s, at: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due callbacks in order
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		next.fired = true
		s.now = next.at
		s.mu.Unlock()

		next.fn()
	}
}

func (s *fakeScheduler) nextDue(target time.Duration) *fakeTimer {
	pending := make([]*fakeTimer, 0, len(s.timers))
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			pending = append(pending, t)
		}
	}
	s.timers = pending

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at == pending[j].at {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].at < pending[j].at
	})
	if len(pending) == 0 || pending[0].at > target {
		return nil
	}
	return pending[0]
}

// Pending returns the number of scheduled callbacks that have not run
func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (s *fakeScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

type step struct {
	status domain.JobStatus
	err    error
}

func ok(state string) step {
	return step{status: domain.JobStatus{State: state}}
}

func fail() step {
	return step{err: errors.New("connection refused")}
}

func succeeded(script string) step {
	return step{status: domain.JobStatus{State: domain.StateSuccess, Result: &domain.Result{Script: script}}}
}

func failed(message string) step {
	return step{status: domain.JobStatus{State: domain.StateFailure, Message: message}}
}

// scriptedFetcher replays steps in order and repeats the last one
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls []time.Duration
	clock *fakeScheduler
}

func (f *scriptedFetcher) FetchStatus(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var at time.Duration
	if f.clock != nil {
		at = f.clock.Now()
	}
	idx := len(f.calls)
	f.calls = append(f.calls, at)
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	s := f.steps[idx]
	return s.status, s.err
}

func (f *scriptedFetcher) Calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.calls...)
}

type recorder struct {
	mu       sync.Mutex
	updates  []domain.Update
	outcomes []domain.Outcome
}

func (r *recorder) onUpdate(u domain.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) onTerminal(o domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) Percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Progress.Percent)
	}
	return out
}

func (r *recorder) Outcomes() []domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Outcome(nil), r.outcomes...)
}

func newTestPoller(t *testing.T, steps ...step) (*Poller, *fakeScheduler, *scriptedFetcher) {
	t.Helper()
	clock := &fakeScheduler{}
	fetcher := &scriptedFetcher{steps: steps, clock: clock}
	p, err := New(Config{Fetcher: fetcher, Scheduler: clock, Policy: DefaultPolicy()})
	require.NoError(t, err)
	return p, clock, fetcher
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	p, err := New(Config{Fetcher: &scriptedFetcher{steps: []step{ok(domain.StateScraping)}}})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p.policy)
	assert.IsType(t, Clock{}, p.scheduler)
}

func TestPolicy_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Policy
		want Policy
	}{
		{name: "zero value", in: Policy{}, want: DefaultPolicy()},
		{
			name: "custom",
			in:   Policy{Interval: time.Second, RetryDelay: 5 * time.Second, MaxTransientFailures: 1},
			want: Policy{Interval: time.Second, RetryDelay: 5 * time.Second, MaxTransientFailures: 1},
		},
		{
			name: "negative failures disables retries",
			in:   Policy{MaxTransientFailures: -1},
			want: Policy{Interval: DefaultInterval, RetryDelay: DefaultRetryDelay, MaxTransientFailures: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
}

func TestPoller_SuccessfulJob(t *testing.T) {
	p, clock, fetcher := newTestPoller(t,
		ok(domain.StateScraping),
		ok(domain.StateAnalyzing),
		ok(domain.StateGenerating),
		succeeded("S"),
	)
	rec := &recorder{}

	s, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)
	assert.True(t, p.Active("job-1"))
	assert.Empty(t, fetcher.Calls(), "first poll must not run inside Start")

	clock.Advance(10 * time.Second)

	assert.Equal(t, []int{25, 50, 75}, rec.Percents())
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeSucceeded, outcomes[0].Kind)
	assert.Equal(t, "S", outcomes[0].Script)
	assert.Equal(t, domain.MessageGenerated, outcomes[0].Message)

	assert.Equal(t, []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second}, fetcher.Calls())
	assert.False(t, p.Active("job-1"))
	assert.Zero(t, p.Len())
	assert.Zero(t, clock.Pending())

	select {
	case <-s.Done():
	default:
		t.Fatal("session should be done")
	}
}

func TestPoller_FailedJob(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantMessage string
	}{
		{name: "backend message", message: "Could not find any videos.", wantMessage: "Could not find any videos."},
		{name: "default message", message: "", wantMessage: domain.MessageJobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, clock, _ := newTestPoller(t, ok(domain.StateScraping), failed(tt.message))
			rec := &recorder{}

			_, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
			require.NoError(t, err)

			clock.Advance(10 * time.Second)

			assert.Equal(t, []int{25}, rec.Percents())
			outcomes := rec.Outcomes()
			require.Len(t, outcomes, 1)
			assert.Equal(t, domain.OutcomeJobFailed, outcomes[0].Kind)
			assert.Equal(t, tt.wantMessage, outcomes[0].Message)
			assert.ErrorIs(t, outcomes[0].Err, domain.ErrJobFailed)
			assert.Zero(t, clock.Pending())
		})
	}
}

func TestPoller_TransientFailuresWithinBudget(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, fail(), fail(), fail(), succeeded("S"))
	rec := &recorder{}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	assert.Empty(t, rec.Percents())
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeSucceeded, outcomes[0].Kind)
	assert.Equal(t, []time.Duration{0, 3 * time.Second, 6 * time.Second, 9 * time.Second}, fetcher.Calls())
}

func TestPoller_ConnectionLost(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, fail())
	rec := &recorder{}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	assert.Len(t, fetcher.Calls(), 4)
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeConnectionLost, outcomes[0].Kind)
	assert.Equal(t, domain.MessageConnectionLost, outcomes[0].Message)
	assert.ErrorIs(t, outcomes[0].Err, domain.ErrConnectionLost)

	var perr *domain.TransientPollError
	require.True(t, errors.As(outcomes[0].Err, &perr))
	assert.Equal(t, 4, perr.Attempt)
	assert.Zero(t, clock.Pending())
	assert.False(t, p.Active("job-1"))
}

func TestPoller_FailureCounterResetsAfterSuccess(t *testing.T) {
	p, clock, fetcher := newTestPoller(t,
		fail(), fail(), fail(),
		ok(domain.StateScraping),
		fail(), fail(), fail(),
		ok(domain.StateAnalyzing),
		succeeded("S"),
	)
	rec := &recorder{}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	assert.Len(t, fetcher.Calls(), 9)
	assert.Equal(t, []int{25, 50}, rec.Percents())
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeSucceeded, outcomes[0].Kind)
}

func TestPoller_UnknownStateKeepsPolling(t *testing.T) {
	p, clock, _ := newTestPoller(t,
		ok(domain.StatePending),
		ok("RETRY"),
		ok(domain.StateGenerating),
		succeeded("S"),
	)
	rec := &recorder{}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	assert.Equal(t, []int{0, 0, 75}, rec.Percents())
	rec.mu.Lock()
	assert.Equal(t, "Starting...", rec.updates[0].Progress.Label)
	assert.Equal(t, domain.StatePending, rec.updates[0].State)
	rec.mu.Unlock()
	require.Len(t, rec.Outcomes(), 1)
}

func TestPoller_AnnounceStart(t *testing.T) {
	clock := &fakeScheduler{}
	fetcher := &scriptedFetcher{steps: []step{ok(domain.StateScraping), succeeded("S")}, clock: clock}
	p, err := New(Config{Fetcher: fetcher, Scheduler: clock, AnnounceStart: true})
	require.NoError(t, err)
	rec := &recorder{}

	_, err = p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, rec.Percents())

	clock.Advance(time.Minute)

	assert.Equal(t, []int{0, 25}, rec.Percents())
	rec.mu.Lock()
	assert.Equal(t, domain.StateStarting, rec.updates[0].State)
	rec.mu.Unlock()
}

func TestPoller_CancelStopsScheduledPoll(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, ok(domain.StateScraping))
	rec := &recorder{}

	s, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.Len(t, fetcher.Calls(), 1)
	require.Equal(t, 1, clock.Pending())

	require.NoError(t, p.Cancel("job-1"))
	clock.Advance(time.Minute)

	assert.Len(t, fetcher.Calls(), 1)
	assert.Zero(t, clock.Pending())
	assert.False(t, s.Active())
	assert.False(t, p.Active("job-1"))

	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeCanceled, outcomes[0].Kind)
	assert.ErrorIs(t, outcomes[0].Err, domain.ErrCanceled)

	assert.False(t, s.Cancel(), "second cancel is a no-op")
	assert.ErrorIs(t, p.Cancel("job-1"), ErrSessionNotFound)
	assert.Len(t, rec.Outcomes(), 1)
}

func TestPoller_CancelBeforeFirstPoll(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, succeeded("S"))
	rec := &recorder{}

	s, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)
	require.True(t, s.Cancel())

	clock.Advance(time.Minute)

	assert.Empty(t, fetcher.Calls())
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeCanceled, outcomes[0].Kind)
}

func TestPoller_CancelFromUpdateCallback(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, ok(domain.StateScraping), succeeded("S"))
	rec := &recorder{}

	var s *Session
	onUpdate := func(u domain.Update) {
		rec.onUpdate(u)
		s.Cancel()
	}

	var err error
	s, err = p.Start(domain.JobHandle{ID: "job-1"}, onUpdate, rec.onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	assert.Len(t, fetcher.Calls(), 1)
	assert.Equal(t, []int{25}, rec.Percents())
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeCanceled, outcomes[0].Kind)
	assert.Zero(t, clock.Pending())
}

func TestPoller_OneSessionPerJob(t *testing.T) {
	p, clock, _ := newTestPoller(t, ok(domain.StateScraping), succeeded("S"))
	rec := &recorder{}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)

	_, err = p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = p.Start(domain.JobHandle{ID: "job-2"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	clock.Advance(time.Minute)
	assert.Zero(t, p.Len())

	_, err = p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	assert.NoError(t, err, "a finished job can be polled again")
}

func TestPoller_RestartFromTerminalCallback(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, succeeded("S"), ok(domain.StateScraping))

	var restartErr error
	onTerminal := func(o domain.Outcome) {
		_, restartErr = p.Start(domain.JobHandle{ID: o.JobID}, nil, nil)
	}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, nil, onTerminal)
	require.NoError(t, err)

	clock.Advance(time.Second)
	assert.NoError(t, restartErr)
	assert.Len(t, fetcher.Calls(), 2, "restarted session polls once")
	assert.True(t, p.Active("job-1"))

	state, found := p.State("job-1")
	assert.True(t, found)
	assert.Equal(t, domain.StateScraping, state)
}

func TestPoller_CancelRacingStart(t *testing.T) {
	p, _, _ := newTestPoller(t, ok(domain.StateScraping))

	for i := 0; i < 200; i++ {
		canceled := make(chan struct{})
		go func() {
			defer close(canceled)
			for p.Cancel("job-1") != nil {
				runtime.Gosched()
			}
		}()

		_, err := p.Start(domain.JobHandle{ID: "job-1"}, nil, nil)
		require.NoError(t, err)
		<-canceled

		require.Zero(t, p.Len(), "canceled session must leave the registry")
	}

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, nil, nil)
	assert.NoError(t, err)
}

func TestPoller_EmptyHandle(t *testing.T) {
	p, _, _ := newTestPoller(t, succeeded("S"))

	_, err := p.Start(domain.JobHandle{}, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyHandle)
}

func TestPoller_State(t *testing.T) {
	p, clock, _ := newTestPoller(t, ok(domain.StateAnalyzing))

	_, err := p.Start(domain.JobHandle{ID: "job-1"}, nil, nil)
	require.NoError(t, err)

	state, found := p.State("job-1")
	require.True(t, found)
	assert.Equal(t, domain.StateStarting, state)

	clock.Advance(time.Second)

	state, found = p.State("job-1")
	require.True(t, found)
	assert.Equal(t, domain.StateAnalyzing, state)

	_, found = p.State("missing")
	assert.False(t, found)
}

func TestPoller_Shutdown(t *testing.T) {
	p, clock, _ := newTestPoller(t, ok(domain.StateScraping))
	rec := &recorder{}

	for _, id := range []string{"job-1", "job-2"} {
		_, err := p.Start(domain.JobHandle{ID: id}, rec.onUpdate, rec.onTerminal)
		require.NoError(t, err)
	}
	clock.Advance(time.Second)

	require.NoError(t, p.Shutdown(context.Background()))

	assert.Zero(t, p.Len())
	assert.Zero(t, clock.Pending())
	outcomes := rec.Outcomes()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, domain.OutcomeCanceled, o.Kind)
	}

	_, err := p.Start(domain.JobHandle{ID: "job-3"}, nil, nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestPoller_WallClock(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{fail(), ok(domain.StateGenerating), succeeded("S")}}
	p, err := New(Config{
		Fetcher: fetcher,
		Policy:  Policy{Interval: 5 * time.Millisecond, RetryDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	done := make(chan domain.Outcome, 1)
	_, err = p.Start(domain.JobHandle{ID: "job-1"}, nil, func(o domain.Outcome) { done <- o })
	require.NoError(t, err)

	select {
	case o := <-done:
		assert.Equal(t, domain.OutcomeSucceeded, o.Kind)
		assert.Equal(t, "S", o.Script)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Len(t, fetcher.Calls(), 3)
}

func TestPoller_Stop(t *testing.T) {
	p, clock, fetcher := newTestPoller(t, ok(domain.StateScraping))
	rec := &recorder{}

	s, err := p.Start(domain.JobHandle{ID: "job-1"}, rec.onUpdate, rec.onTerminal)
	require.NoError(t, err)
	clock.Advance(time.Second)

	assert.Equal(t, []string{"job-1"}, p.Stop())
	clock.Advance(time.Minute)

	assert.Len(t, fetcher.Calls(), 1)
	assert.Empty(t, rec.Outcomes(), "stopped sessions deliver no outcome")
	assert.False(t, s.Active())
	assert.False(t, s.Cancel())
	assert.Zero(t, p.Len())

	select {
	case <-s.Done():
	default:
		t.Fatal("session should be done")
	}

	_, err = p.Start(domain.JobHandle{ID: "job-2"}, nil, nil)
	assert.ErrorIs(t, err, ErrShutdown)
}
