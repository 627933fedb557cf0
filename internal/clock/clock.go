// Package clock provides an injectable time source so that debounce and
// retention logic can be driven by virtual time in tests instead of
// real delays.
package clock

import "time"

// Clock is the time source used by the sync and execution paths.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run after d. The returned Timer can be
	// stopped or reset, mirroring time.AfterFunc.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a stoppable, resettable scheduled call.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the wall-clock implementation.
type Real struct{}

// New returns the wall-clock Clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool               { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
