package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/next-exp/sipm_daq/pkg/daq"
)

const writeTimeout = 5 * time.Second

type job struct {
	start bool
	run   Run
}

// Recorder feeds the Registry from the control goroutine without ever
// blocking it. Writes happen on a worker goroutine; when its queue is full
// the write is dropped and logged.
type Recorder struct {
	reg     *Registry
	log     daq.Logger
	jobs    chan job
	done    chan struct{}
	current Run
	dropped atomic.Uint64
}

// NewRecorder starts the worker. It stops when ctx is done or Close is
// called.
func NewRecorder(ctx context.Context, reg *Registry, log daq.Logger, size int) *Recorder {
	if size <= 0 {
		size = 1
	}
	r := &Recorder{
		reg:  reg,
		log:  log,
		jobs: make(chan job, size),
		done: make(chan struct{}),
	}
	go r.work(ctx)
	return r
}

var _ daq.RunRecorder = (*Recorder)(nil)

func (r *Recorder) RunStarted(info daq.RunInfo) {
	r.current = Run{
		ID:             uuid.NewString(),
		Name:           info.Name,
		SiPMParameters: info.SiPMParameters,
		Path:           info.Path,
		Model:          info.Model.String(),
		Started:        info.Started,
	}
	r.enqueue(job{start: true, run: r.current})
}

func (r *Recorder) RunEnded(info daq.RunInfo, events uint64) {
	if r.current.ID == "" {
		return
	}
	run := r.current
	run.Ended = sql.NullTime{Time: info.Ended, Valid: true}
	run.Events = events
	r.current = Run{}
	r.enqueue(job{run: run})
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.jobs <- j:
	default:
		r.dropped.Add(1)
		r.log.Error(fmt.Sprintf("run registry queue full, dropping update of run %s", j.run.ID))
	}
}

// Dropped is the number of updates lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) work(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-r.jobs:
			if !ok {
				return
			}
			r.handle(ctx, j)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(fmt.Sprintf("run registry worker recovered from panic: %v", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var err error
	if j.start {
		err = r.reg.RecordRunStart(ctx, j.run)
	} else {
		err = r.reg.RecordRunEnd(ctx, j.run)
	}
	if err != nil {
		r.log.Error(err.Error())
		return
	}
	r.log.Info(fmt.Sprintf("run %s (%s) registered", j.run.ID, j.run.Name), "runlog")
}

// Close drains the queue and waits for the worker.
func (r *Recorder) Close() {
	close(r.jobs)
	<-r.done
}
