package kinesis

import "time"

// Clock abstracts time so that delayed-transition and expiry behavior can
// be driven deterministically from tests instead of sleeping for real.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run after d elapses and returns a handle
	// that can cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// RealClock is the production Clock, backed by the wall clock and the
// runtime's own timers.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
