// Package indicators carries display updates from the acquisition loop to a
// single consumer. Sends never block the producer; when the queue is full
// the update is dropped and counted.
package indicators

import (
	"errors"
	"fmt"
	"sync/atomic"
)

type Name int

const (
	BufferEvents Name = iota
	SiPMPlot
	TriggerFrequency
	AcquisitionState
)

var names = []string{
	"buffer_events",
	"sipm_plot",
	"trigger_frequency",
	"acquisition_state",
}

func (n Name) String() string {
	if n < 0 || int(n) >= len(names) {
		return "unknown"
	}
	return names[n]
}

// Update is a tagged scalar (Value) or a tagged waveform (X, Y).
type Update struct {
	Name  Name
	Value float64
	X     []float64
	Y     []float64
}

// IsPlot reports whether the update carries coordinate arrays.
func (u Update) IsPlot() bool {
	return u.X != nil
}

var ErrLengthMismatch = errors.New("indicator coordinates differ in length")

// Queue is the outbound channel. Any number of goroutines may send; one
// goroutine consumes Updates.
type Queue struct {
	ch      chan Update
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Update, size)}
}

func (q *Queue) push(u Update) {
	select {
	case q.ch <- u:
		q.sent.Add(1)
	default:
		q.dropped.Add(1)
	}
}

// Send queues a scalar update.
func (q *Queue) Send(name Name, value float64) {
	q.push(Update{Name: name, Value: value})
}

// SendPlot queues a waveform update. The queue takes ownership of xs and ys.
func (q *Queue) SendPlot(name Name, xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("%v: %d x values, %d y values: %w", name, len(xs), len(ys), ErrLengthMismatch)
	}
	if xs == nil {
		xs = []float64{}
		ys = []float64{}
	}
	q.push(Update{Name: name, X: xs, Y: ys})
	return nil
}

// Updates is the consumer side, in send order.
func (q *Queue) Updates() <-chan Update {
	return q.ch
}

// Stats returns how many updates were queued and dropped.
func (q *Queue) Stats() (sent, dropped uint64) {
	return q.sent.Load(), q.dropped.Load()
}

// Close ends the consumer's range loop. No Send may follow.
func (q *Queue) Close() {
	close(q.ch)
}
