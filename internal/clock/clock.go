// Package clock provides the device wall clock. The host clock is never
// modified; a time sync records the synced time and the host reading taken
// with it.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the host clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Wall is a settable wall clock.
type Wall struct {
	mu     sync.RWMutex
	base   Clock
	at     time.Time // wall time set by the last sync
	hostAt time.Time // host reading taken at the last sync
	synced bool
}

// NewWall returns a wall clock that follows base until Set is called.
func NewWall(base Clock) *Wall {
	if base == nil {
		base = System{}
	}
	return &Wall{base: base}
}

// Now returns the current wall time in UTC.
func (w *Wall) Now() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.synced {
		return w.base.Now().UTC()
	}
	return w.at.Add(w.base.Now().Sub(w.hostAt)).UTC()
}

// Set makes the wall clock read epochSeconds now. No plausibility check is made.
func (w *Wall) Set(epochSeconds int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.at = time.Unix(epochSeconds, 0)
	w.hostAt = w.base.Now()
	w.synced = true
}

// Synced reports whether Set has been called.
func (w *Wall) Synced() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.synced
}
