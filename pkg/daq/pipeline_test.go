package daq

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/next-exp/sipm_daq/pkg/caen"
	"github.com/next-exp/sipm_daq/pkg/indicators"
	"github.com/next-exp/sipm_daq/pkg/timing"
)

type pipelineFixture struct {
	drv   *fakeDriver
	port  *caen.Port
	sink  *fakeSink
	out   *fakeSender
	log   *fakeLogger
	clock *timing.ManualClock
	pipe  *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		drv:   &fakeDriver{},
		sink:  &fakeSink{},
		out:   newFakeSender(),
		log:   &fakeLogger{},
		clock: timing.NewManualClock(time.Unix(0, 0)),
	}
	port, err := caen.Connect(f.drv, caen.DT5730, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := port.Setup(caen.DefaultGlobalConfig(), []caen.ChannelConfig{caen.DefaultChannelConfig()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	f.port = port
	pool := &Pool{}
	pool.Allocate(port)
	f.pipe = NewPipeline(pool, f.sink, f.out, f.log, f.clock, rand.New(rand.NewSource(3)))
	return f
}

func TestProcessBelowThresholdLeavesDataInBoard(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.buffered = AcquisitionThreshold - 1
	if n := f.pipe.Process(f.port); n != 0 {
		t.Fatalf("extracted %d events below threshold", n)
	}
	if f.drv.reads != 0 {
		t.Errorf("board read below threshold")
	}
	if len(f.out.plots) != 0 {
		t.Errorf("display updated below threshold")
	}
}

func TestProcessBoundsExtractionToPool(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.buffered = 3000
	if n := f.pipe.Process(f.port); n != PoolCapacity {
		t.Fatalf("expected %d events, got %d", PoolCapacity, n)
	}
	if f.drv.extracted != PoolCapacity || f.drv.maxIndex != PoolCapacity-1 {
		t.Errorf("extracted %d events up to index %d", f.drv.extracted, f.drv.maxIndex)
	}
	if f.drv.buffered != 3000-PoolCapacity {
		t.Errorf("expected %d events left in the board, got %d", 3000-PoolCapacity, f.drv.buffered)
	}
}

func TestProcessKeepsUnlimitedBlockInBoard(t *testing.T) {
	f := newPipelineFixture(t)
	global := caen.DefaultGlobalConfig()
	global.MaxEventsPerRead = 0
	if err := f.port.Setup(boundBlock(global), f.port.ChannelConfigs); err != nil {
		t.Fatalf("setup: %v", err)
	}
	f.drv.buffered = 3000
	f.pipe.Process(f.port)
	if f.drv.buffered != 3000-PoolCapacity {
		t.Fatalf("%d events left in the board, want %d", f.drv.buffered, 3000-PoolCapacity)
	}
	if n := f.pipe.Process(f.port); n != PoolCapacity {
		t.Errorf("second cycle extracted %d events", n)
	}
}

func TestBoundBlock(t *testing.T) {
	for _, tc := range []struct{ in, want uint32 }{
		{0, PoolCapacity},
		{1, 1},
		{PoolCapacity, PoolCapacity},
		{PoolCapacity + 1, PoolCapacity},
	} {
		g := caen.DefaultGlobalConfig()
		g.MaxEventsPerRead = tc.in
		if got := boundBlock(g).MaxEventsPerRead; got != tc.want {
			t.Errorf("boundBlock(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestProcessReportsReadoutErrorsBelowThreshold(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.eventsErr = caen.CommError
	for i := 0; i < 3; i++ {
		if n := f.pipe.Process(f.port); n != 0 {
			t.Fatalf("extracted %d events while the board fails", n)
		}
		f.clock.Advance(ErrorCheckInterval)
	}
	if len(f.log.errors) != 3 {
		t.Errorf("expected one error per %v, got %v", ErrorCheckInterval, f.log.errors)
	}
}

func TestProcessLogsAddFailuresOncePerCycle(t *testing.T) {
	f := newPipelineFixture(t)
	f.sink.open = true
	f.sink.addErr = errors.New("disk full")
	f.drv.buffered = 600
	if n := f.pipe.Process(f.port); n != 600 {
		t.Fatalf("expected 600 events, got %d", n)
	}
	if len(f.log.errors) != 1 || !strings.Contains(f.log.errors[0], "600 of 600") {
		t.Errorf("expected one summary error, got %v", f.log.errors)
	}
}

func TestNewPipelineDefaultsRand(t *testing.T) {
	f := newPipelineFixture(t)
	pool := &Pool{}
	pool.Allocate(f.port)
	pipe := NewPipeline(pool, nil, f.out, nil, f.clock, nil)
	f.drv.buffered = 600
	if n := pipe.Process(f.port); n != 600 {
		t.Fatalf("expected 600 events, got %d", n)
	}
	if len(f.out.plots) != 1 {
		t.Errorf("expected a display sample, got %d", len(f.out.plots))
	}
}

func TestProcessPersistsOnlyWhenSinkOpen(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.buffered = 600
	f.pipe.Process(f.port)
	if f.sink.added != 0 {
		t.Fatalf("events added to a closed sink")
	}
	f.sink.open = true
	f.drv.buffered = 600
	f.pipe.Process(f.port)
	if f.sink.added != 600 {
		t.Errorf("expected 600 events added, got %d", f.sink.added)
	}
}

func TestProcessThrottlesDisplay(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.buffered = 600
	for i := 0; i < 5; i++ {
		f.drv.buffered = 600
		f.pipe.Process(f.port)
	}
	if len(f.out.plots) != 1 {
		t.Fatalf("expected one plot inside %v, got %d", DisplayInterval, len(f.out.plots))
	}
	f.clock.Advance(DisplayInterval)
	f.drv.buffered = 600
	f.pipe.Process(f.port)
	if len(f.out.plots) != 2 {
		t.Errorf("expected a second plot after %v, got %d", DisplayInterval, len(f.out.plots))
	}

	plot := f.out.plots[0]
	if len(plot.xs) != len(plot.ys) || len(plot.xs) != 2000 {
		t.Fatalf("plot has %d x and %d y values", len(plot.xs), len(plot.ys))
	}
	if plot.xs[1] != 2 || plot.ys[1000] != 1500 || plot.ys[0] != 1000 {
		t.Errorf("unexpected conversion x1=%v y0=%v y1000=%v", plot.xs[1], plot.ys[0], plot.ys[1000])
	}
}

func TestProcessThrottlesErrorCheck(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.buffered = 600
	f.port.ExtractEvent(5000, &caen.Event{})
	f.pipe.Process(f.port)
	if len(f.log.errors) != 1 {
		t.Fatalf("expected one reported error, got %v", f.log.errors)
	}

	f.port.ExtractEvent(5000, &caen.Event{})
	f.pipe.Process(f.port)
	if len(f.log.errors) != 1 {
		t.Errorf("error check ran inside %v", ErrorCheckInterval)
	}
	f.clock.Advance(ErrorCheckInterval)
	f.pipe.Process(f.port)
	if len(f.log.errors) != 2 {
		t.Errorf("error check did not run after %v: %v", ErrorCheckInterval, f.log.errors)
	}
}

func TestProcessReportsTriggerFrequency(t *testing.T) {
	f := newPipelineFixture(t)
	f.drv.buffered = 600
	f.pipe.Process(f.port)
	got := f.out.values[indicators.TriggerFrequency]
	// one crossing per 2000 samples at 500 MS/s
	if len(got) != 1 || got[0] != 250e3 {
		t.Errorf("unexpected trigger frequency %v", got)
	}
}

func TestCrossingFrequency(t *testing.T) {
	samples := []uint16{10, 20, 10, 20, 10, 20}
	if got := crossingFrequency(samples, 15, 1000, 6); got != 500 {
		t.Errorf("expected 500 Hz, got %v", got)
	}
	if got := crossingFrequency([]uint16{15, 15, 15}, 15, 1000, 3); got != 0 {
		t.Errorf("samples at threshold counted as crossings: %v", got)
	}
}

func TestPoolRelease(t *testing.T) {
	f := newPipelineFixture(t)
	pool := &Pool{}
	pool.Allocate(f.port)
	if pool.Cap() != PoolCapacity || pool.Slot(PoolCapacity) != nil || pool.Slot(-1) != nil {
		t.Fatalf("unexpected pool bounds")
	}
	pool.Release()
	if pool.Allocated() || pool.Slot(0) != nil || pool.Osc() != nil {
		t.Errorf("pool not released")
	}
}
