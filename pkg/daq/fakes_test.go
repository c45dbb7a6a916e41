package daq

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/next-exp/sipm_daq/pkg/caen"
	"github.com/next-exp/sipm_daq/pkg/indicators"
	"github.com/next-exp/sipm_daq/pkg/timing"
)

// fakeDriver reports a scripted number of buffered events and fills each
// extracted event with one square pulse on every configured channel. A
// readout takes at most MaxEventsPerRead events off the board, all of them
// when it is zero.
type fakeDriver struct {
	openErr   error
	setupErr  error
	enableErr error
	eventsErr error

	buffered uint32
	readout  uint32
	global   caen.GlobalConfig
	channels []caen.ChannelConfig

	reads     int
	extracted int
	maxIndex  uint32
	cleared   int
	closes    int
	open      bool
}

func (d *fakeDriver) Open(model caen.Model, port int) (caen.Handle, error) {
	if d.openErr != nil {
		return 0, d.openErr
	}
	d.open = true
	return 1, nil
}

func (d *fakeDriver) Reset(caen.Handle) error { return nil }

func (d *fakeDriver) Setup(_ caen.Handle, global caen.GlobalConfig, channels []caen.ChannelConfig) error {
	if d.setupErr != nil {
		return d.setupErr
	}
	d.global = global
	d.channels = channels
	return nil
}

func (d *fakeDriver) EnableAcquisition(caen.Handle) error  { return d.enableErr }
func (d *fakeDriver) DisableAcquisition(caen.Handle) error { return nil }

func (d *fakeDriver) EventsInBuffer(caen.Handle) (uint32, error) {
	if d.eventsErr != nil {
		return 0, d.eventsErr
	}
	return d.buffered, nil
}

func (d *fakeDriver) ReadData(caen.Handle) (caen.ReadoutInfo, error) {
	d.reads++
	d.readout = d.buffered
	if block := d.global.MaxEventsPerRead; block > 0 && block < d.readout {
		d.readout = block
	}
	d.buffered -= d.readout
	return caen.ReadoutInfo{DataSize: d.readout * 100, NumEvents: d.readout}, nil
}

func (d *fakeDriver) ExtractEvent(_ caen.Handle, index uint32, evt *caen.Event) error {
	if index >= d.readout {
		return caen.InvalidEvent
	}
	d.extracted++
	d.maxIndex = max(d.maxIndex, index)
	evt.Info.EventCounter = uint32(d.extracted)
	for _, ch := range d.channels {
		buf := evt.Fill(int(ch.Channel), d.global.RecordLength)
		for i := range buf {
			buf[i] = 1000
			if i >= len(buf)/2 && i < len(buf)/2+10 {
				buf[i] = 1500
			}
		}
	}
	return nil
}

func (d *fakeDriver) ClearData(caen.Handle) error {
	d.cleared++
	d.buffered, d.readout = 0, 0
	return nil
}

func (d *fakeDriver) Close(caen.Handle) error {
	if d.open {
		d.closes++
	}
	d.open = false
	return nil
}

type fakeSink struct {
	openErr error
	addErr  error
	open    bool
	opens   []string
	added   int
	saves   int
	closes  int
}

func (s *fakeSink) Open(path string, _ *caen.Port) error {
	s.opens = append(s.opens, path)
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	return nil
}

func (s *fakeSink) IsOpen() bool { return s.open }

func (s *fakeSink) Add(*caen.Event) error {
	if !s.open {
		return errors.New("add to closed sink")
	}
	if s.addErr != nil {
		return s.addErr
	}
	s.added++
	return nil
}

func (s *fakeSink) Save() error       { s.saves++; return nil }
func (s *fakeSink) Close() error      { s.closes++; s.open = false; return nil }
func (s *fakeSink) Extension() string { return ".txt" }

type sentPlot struct {
	name   indicators.Name
	xs, ys []float64
}

type fakeSender struct {
	values map[indicators.Name][]float64
	plots  []sentPlot
}

func newFakeSender() *fakeSender {
	return &fakeSender{values: make(map[indicators.Name][]float64)}
}

func (s *fakeSender) Send(name indicators.Name, value float64) {
	s.values[name] = append(s.values[name], value)
}

func (s *fakeSender) SendPlot(name indicators.Name, xs, ys []float64) error {
	if len(xs) != len(ys) {
		return indicators.ErrLengthMismatch
	}
	s.plots = append(s.plots, sentPlot{name, xs, ys})
	return nil
}

type fakeLogger struct {
	infos, warns, errors []string
}

func (l *fakeLogger) Info(message, module string) { l.infos = append(l.infos, message) }
func (l *fakeLogger) Warn(message, module string) { l.warns = append(l.warns, message) }
func (l *fakeLogger) Error(message string)        { l.errors = append(l.errors, message) }

type fakeRecorder struct {
	started []RunInfo
	ended   []uint64
}

func (r *fakeRecorder) RunStarted(run RunInfo)              { r.started = append(r.started, run) }
func (r *fakeRecorder) RunEnded(run RunInfo, events uint64) { r.ended = append(r.ended, events) }

type harness struct {
	ctrl  *Controller
	drv   *fakeDriver
	sink  *fakeSink
	out   *fakeSender
	log   *fakeLogger
	rec   *fakeRecorder
	clock *timing.ManualClock
	queue *CommandQueue
}

func initialState() State {
	return State{
		RunDir:         "/data",
		RunName:        "run1",
		SiPMParameters: "cfgA",
		Model:          caen.DT5730,
		GlobalConfig:   caen.DefaultGlobalConfig(),
		ChannelConfigs: []caen.ChannelConfig{caen.DefaultChannelConfig()},
	}
}

func newHarness(t *testing.T, drv caen.Driver) *harness {
	t.Helper()
	return newHarnessWith(t, drv, initialState())
}

func newHarnessWith(t *testing.T, drv caen.Driver, initial State) *harness {
	t.Helper()
	h := &harness{
		sink:  &fakeSink{},
		out:   newFakeSender(),
		log:   &fakeLogger{},
		rec:   &fakeRecorder{},
		clock: timing.NewManualClock(time.Unix(0, 0)),
		queue: NewCommandQueue(8),
	}
	if fd, ok := drv.(*fakeDriver); ok {
		h.drv = fd
	}
	h.ctrl = NewController(Options{
		Driver:     drv,
		Commands:   h.queue,
		Indicators: h.out,
		Sink:       h.sink,
		Recorder:   h.rec,
		Logger:     h.log,
		Clock:      h.clock,
		Rand:       rand.New(rand.NewSource(1)),
		Initial:    initial,
	})
	return h
}

func (h *harness) enqueue(t *testing.T, cmds ...Command) {
	t.Helper()
	for _, cmd := range cmds {
		if err := h.queue.Enqueue(cmd); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
}

// steps runs n cycles and fails the test if the loop stops early.
func (h *harness) steps(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !h.ctrl.Step() {
			t.Fatalf("loop stopped at step %d", i)
		}
	}
}

func (h *harness) current() StateID {
	return h.ctrl.State().CurrentState
}

// connect drives the controller from Standby into OscilloscopeMode.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.enqueue(t, Connect{})
	h.steps(t, 2)
	if got := h.current(); got != OscilloscopeMode {
		t.Fatalf("expected oscilloscope after connect, got %v (errors: %v)", got, h.log.errors)
	}
}
