package client

import "time"

// Timer is a cancellable one-shot timer handle. Every state that arms a timer
// owns the handle and must stop it before arming a replacement.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from firing.
	Stop() bool
}

// TimerFactory arms a one-shot timer that runs f after d. Injected so tests
// can fire timers deterministically.
type TimerFactory func(d time.Duration, f func()) Timer

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Stop() bool { return r.t.Stop() }

func stdTimers(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}
