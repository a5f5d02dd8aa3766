// Package util holds small concurrency helpers shared across packages.
package util

import (
	"sync"
	"time"
)

// IdleTimer fires on C once its interval passes without a Touch. The
// consumer calls Touch again after handling a fire to rearm it.
//
//	idle := util.NewIdleTimer(30 * time.Second)
//	defer idle.Stop()
//	for {
//	    select {
//	    case <-sent:
//	        idle.Touch()
//	    case <-idle.C():
//	        ping()
//	        idle.Touch()
//	    }
//	}
type IdleTimer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	last    time.Time
	stopped bool
}

// NewIdleTimer starts a timer that fires after interval.
func NewIdleTimer(interval time.Duration) *IdleTimer {
	return &IdleTimer{
		interval: interval,
		timer:    time.NewTimer(interval),
		last:     time.Now(),
	}
}

// Touch records activity and pushes the next fire one interval out. It is
// a no-op after Stop.
func (t *IdleTimer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.last = time.Now()
	// Since Go 1.23 Reset also discards a fire that was not yet received.
	t.timer.Reset(t.interval)
}

// C delivers a value each time the timer goes idle.
func (t *IdleTimer) C() <-chan time.Time {
	return t.timer.C
}

// IdleFor reports how long ago the last Touch happened.
func (t *IdleTimer) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.last)
}

// Stop disarms the timer for good. Safe to call more than once.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.timer.Stop()
		t.stopped = true
	}
}
