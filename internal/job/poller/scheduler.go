package poller

import "time"

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Scheduler runs fn once after d. Implementations must not run fn
// synchronously inside AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Clock schedules on the wall clock using time.AfterFunc
type Clock struct{}

func (Clock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
