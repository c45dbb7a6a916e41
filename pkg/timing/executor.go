// Package timing provides the interval executors that pace the acquisition
// loop.
package timing

import "time"

// Clock is the time source of an Executor.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Executor runs a zero argument operation no more often than once per
// interval, measured from the completion of the previous run.
//
// A blocking executor waits out the remainder of the interval before
// running. A throttled executor skips the call instead, which lets a fast
// loop embed slower sub-tasks.
type Executor[T any] struct {
	interval time.Duration
	fn       func() T
	clock    Clock
	blocking bool

	last time.Time
	ran  bool
}

func NewBlocking[T any](interval time.Duration, fn func() T) *Executor[T] {
	return &Executor[T]{interval: interval, fn: fn, clock: SystemClock, blocking: true}
}

func NewThrottled[T any](interval time.Duration, fn func() T) *Executor[T] {
	return &Executor[T]{interval: interval, fn: fn, clock: SystemClock}
}

// WithClock replaces the time source and returns e.
func (e *Executor[T]) WithClock(c Clock) *Executor[T] {
	if c != nil {
		e.clock = c
	}
	return e
}

func (e *Executor[T]) Interval() time.Duration {
	return e.interval
}

// Call runs the operation and returns its result. The second value is false
// only when a throttled executor skipped the run.
func (e *Executor[T]) Call() (T, bool) {
	if e.ran {
		wait := e.interval - e.clock.Now().Sub(e.last)
		if wait > 0 {
			if !e.blocking {
				var zero T
				return zero, false
			}
			e.clock.Sleep(wait)
		}
	}
	result := e.fn()
	e.last = e.clock.Now()
	e.ran = true
	return result, true
}

// Reset forgets the previous run so the next Call runs immediately.
func (e *Executor[T]) Reset() {
	e.ran = false
}
