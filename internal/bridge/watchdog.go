package bridge

import (
	"sync"
	"time"
)

// Watchdog escalates a run that has not completed: onFire(false) after the
// soft timeout, then onFire(true) after the hard timeout. It is safe for
// concurrent use.
type Watchdog struct {
	mu      sync.Mutex
	soft    *time.Timer
	hard    *time.Timer
	stopped bool
}

// NewWatchdog starts both timers. A non-positive duration disables that
// timer. onFire is called on a timer goroutine with the watchdog locked, so it
// must not block or call Stop.
//
// Precondition: onFire must not be nil.
// Postcondition: onFire is called at most once per timer, and never after
// Stop returns.
func NewWatchdog(soft, hard time.Duration, onFire func(hard bool)) *Watchdog {
	w := &Watchdog{}
	fire := func(hard bool) func() {
		return func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if !w.stopped {
				onFire(hard)
			}
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if soft > 0 {
		w.soft = time.AfterFunc(soft, fire(false))
	}
	if hard > 0 {
		w.hard = time.AfterFunc(hard, fire(true))
	}
	return w
}

// Stop cancels both timers. Safe to call multiple times and on a nil
// Watchdog.
//
// Postcondition: onFire will not be called after Stop returns.
func (w *Watchdog) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.soft != nil {
		w.soft.Stop()
	}
	if w.hard != nil {
		w.hard.Stop()
	}
}
