// Package daq runs the digitizer state machine. One goroutine owns the
// State record and runs one handler per cycle; commands arrive through a
// CommandQueue and display updates leave through a Sender.
package daq

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/next-exp/sipm_daq/pkg/caen"
	"github.com/next-exp/sipm_daq/pkg/indicators"
	"github.com/next-exp/sipm_daq/pkg/timing"
)

const (
	// RefreshInterval paces Standby and OscilloscopeMode.
	RefreshInterval = 100 * time.Millisecond
	// FastInterval paces the latency sensitive states.
	FastInterval = time.Millisecond
)

// RunInfo describes one run file.
type RunInfo struct {
	Dir            string
	Name           string
	SiPMParameters string
	Path           string
	Model          caen.Model
	Started        time.Time
	Ended          time.Time
}

// RunRecorder is told when a run file is opened and closed. It is called
// on the control goroutine and must not block.
type RunRecorder interface {
	RunStarted(run RunInfo)
	RunEnded(run RunInfo, events uint64)
}

type Options struct {
	Driver     caen.Driver
	Commands   *CommandQueue
	Indicators Sender
	Sink       Sink
	Recorder   RunRecorder
	Logger     Logger
	Clock      timing.Clock
	Rand       *rand.Rand

	// Initial holds the configuration and run naming to start with.
	Initial State
}

type discardSender struct{}

func (discardSender) Send(indicators.Name, float64)                        {}
func (discardSender) SendPlot(indicators.Name, []float64, []float64) error { return nil }

type Controller struct {
	state    State
	drv      caen.Driver
	commands *CommandQueue
	out      Sender
	sink     Sink
	recorder RunRecorder
	log      Logger
	clock    timing.Clock

	pool     Pool
	pipeline *Pipeline
	handlers map[StateID]*timing.Executor[bool]
	active   StateID

	run         RunInfo
	runEvents   uint64
	lastOpenErr string
}

func NewController(opts Options) *Controller {
	c := &Controller{
		state:    opts.Initial,
		drv:      opts.Driver,
		commands: opts.Commands,
		out:      opts.Indicators,
		sink:     opts.Sink,
		recorder: opts.Recorder,
		log:      opts.Logger,
		clock:    opts.Clock,
	}
	if c.commands == nil {
		c.commands = NewCommandQueue(16)
	}
	if c.out == nil {
		c.out = discardSender{}
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	if c.clock == nil {
		c.clock = timing.SystemClock
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.state.Port = nil
	c.state.CurrentState = NullState
	c.pipeline = NewPipeline(&c.pool, c.sink, c.out, c.log, c.clock, rng)

	blocking := func(interval time.Duration, fn func() bool) *timing.Executor[bool] {
		return timing.NewBlocking(interval, fn).WithClock(c.clock)
	}
	c.handlers = map[StateID]*timing.Executor[bool]{
		Standby:           blocking(RefreshInterval, c.standby),
		AttemptConnection: blocking(FastInterval, c.attemptConnection),
		OscilloscopeMode:  blocking(RefreshInterval, c.oscilloscope),
		StatisticsMode:    blocking(FastInterval, c.statistics),
		RunMode:           blocking(FastInterval, c.runMode),
		Disconnected:      blocking(FastInterval, c.disconnected),
		Closing:           blocking(FastInterval, c.closing),
	}
	c.switchState(Standby)
	return c
}

// Commands is the queue the controller polls.
func (c *Controller) Commands() *CommandQueue {
	return c.commands
}

// State returns a copy of the record. Only safe from the control goroutine
// or after Run has returned.
func (c *Controller) State() State {
	return c.state
}

// IsFileOpen reports whether a run file is open.
func (c *Controller) IsFileOpen() bool {
	return c.sink != nil && c.sink.IsOpen()
}

// Run loops until a Close command has been processed.
func (c *Controller) Run() {
	c.log.Info("control loop started", "daq")
	for c.Step() {
	}
	c.log.Info("control loop stopped", "daq")
}

// Step runs one cycle: it enters the state requested by the last command
// or handler and runs that state's handler once. It returns false after
// Closing.
func (c *Controller) Step() (keep bool) {
	c.switchState(c.state.CurrentState)
	current := c.active
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(fmt.Sprintf("%v handler recovered from panic: %v", current, r))
			switch current {
			case Closing:
				keep = false
			case Disconnected:
				c.state.CurrentState = Standby
				keep = true
			default:
				c.state.CurrentState = Disconnected
				keep = true
			}
		}
	}()
	keep, _ = c.handlers[current].Call()
	return keep
}

func (c *Controller) switchState(next StateID) {
	if next == NullState {
		next = Standby
	}
	c.state.CurrentState = next
	if next == c.active {
		return
	}
	prev := c.active
	if prev == RunMode {
		c.closeRun()
	}
	c.active = next
	c.log.Info(fmt.Sprintf("state %v -> %v", prev, next), "daq")
	c.out.Send(indicators.AcquisitionState, float64(next))
}

// pollCommand applies at most one queued command.
func (c *Controller) pollCommand() {
	cmd, ok := c.commands.tryDequeue()
	if !ok {
		return
	}
	prev := c.state.CurrentState
	if !cmd.Apply(&c.state) {
		c.state.CurrentState = prev
		c.log.Warn(fmt.Sprintf("command %s rejected in %v", describe(cmd), prev), "daq")
	}
}

func (c *Controller) reporter(step string) func(string) {
	return func(msg string) {
		c.log.Error(fmt.Sprintf("%s: %s", step, msg))
	}
}

func (c *Controller) standby() bool {
	c.pollCommand()
	return true
}

func (c *Controller) attemptConnection() bool {
	if err := c.connect(); err != nil {
		c.teardown()
		c.state.CurrentState = Standby
	} else {
		c.log.Info(fmt.Sprintf("connected to %v on port %d", c.state.Model, c.state.PortNum), "daq")
		c.state.CurrentState = OscilloscopeMode
	}
	c.pollCommand()
	return true
}

func (c *Controller) connect() error {
	s := &c.state
	port, err := caen.Connect(c.drv, s.Model, s.PortNum)
	if caen.CheckError(err, c.reporter("connect")) {
		return err
	}
	s.Port = port

	if bounded := boundBlock(s.GlobalConfig); bounded != s.GlobalConfig {
		c.log.Warn(fmt.Sprintf("max events per read %d outside 1..%d, using %d",
			s.GlobalConfig.MaxEventsPerRead, PoolCapacity, bounded.MaxEventsPerRead), "daq")
		s.GlobalConfig = bounded
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"reset", port.Reset},
		{"setup", func() error { return port.Setup(s.GlobalConfig, s.ChannelConfigs) }},
		{"enable acquisition", port.EnableAcquisition},
	}
	for _, step := range steps {
		if err := step.run(); caen.CheckError(err, c.reporter(step.name)) {
			return err
		}
	}

	c.pool.Allocate(port)
	if err := port.LastError(); caen.CheckError(err, c.reporter("connect")) {
		return err
	}
	return nil
}

// teardown closes the run file, releases the pool and disconnects. Every
// step is safe to repeat.
func (c *Controller) teardown() {
	c.closeRun()
	c.pool.Release()
	if err := caen.Disconnect(c.state.Port); err != nil {
		caen.CheckError(err, c.reporter("disconnect"))
	}
	c.state.Port = nil
}

// connected falls back to Standby when no port is held.
func (c *Controller) connected() *caen.Port {
	if c.state.Port == nil {
		c.log.Warn(fmt.Sprintf("%v without a connected digitizer", c.active), "daq")
		c.state.CurrentState = Standby
	}
	return c.state.Port
}

func (c *Controller) oscilloscope() bool {
	if port := c.connected(); port != nil {
		c.pipeline.Scope(port)
	}
	c.pollCommand()
	return true
}

func (c *Controller) statistics() bool {
	if port := c.connected(); port != nil {
		c.pipeline.Process(port)
	}
	c.pollCommand()
	return true
}

func (c *Controller) runMode() bool {
	port := c.connected()
	if port == nil {
		c.pollCommand()
		return true
	}
	// Events extracted below are written by the next cycle's Save, or by
	// closeRun when the run ends.
	if c.IsFileOpen() {
		if err := c.sink.Save(); err != nil {
			c.log.Error(fmt.Sprintf("saving %s: %v", c.run.Path, err))
		}
	} else {
		c.openRun(port)
	}
	c.runEvents += uint64(c.pipeline.Process(port))
	c.pollCommand()
	return true
}

func (c *Controller) disconnected() bool {
	c.log.Warn("disconnecting the digitizer", "daq")
	c.teardown()
	c.state.CurrentState = Standby
	return true
}

func (c *Controller) closing() bool {
	c.teardown()
	return false
}

// RunPath is where the next run file is opened.
func (c *Controller) RunPath() string {
	ext := ""
	if c.sink != nil {
		ext = c.sink.Extension()
	}
	s := c.state
	return filepath.Join(s.RunDir, s.RunName, s.SiPMParameters+ext)
}

// openRun is retried every cycle until it succeeds. A failure is logged
// once per distinct error.
func (c *Controller) openRun(port *caen.Port) {
	if c.sink == nil {
		c.logOpenFailure("no run file sink configured")
		return
	}
	path := c.RunPath()
	if err := c.sink.Open(path, port); err != nil {
		c.logOpenFailure(err.Error())
		return
	}
	c.lastOpenErr = ""
	c.run = RunInfo{
		Dir:            c.state.RunDir,
		Name:           c.state.RunName,
		SiPMParameters: c.state.SiPMParameters,
		Path:           path,
		Model:          port.Model,
		Started:        c.clock.Now(),
	}
	c.runEvents = 0
	c.log.Info("run file opened at "+path, "daq")
	if c.recorder != nil {
		c.recorder.RunStarted(c.run)
	}
}

func (c *Controller) logOpenFailure(msg string) {
	if msg == c.lastOpenErr {
		return
	}
	c.lastOpenErr = msg
	c.log.Error("opening run file: " + msg)
}

// closeRun saves and closes an open run file.
func (c *Controller) closeRun() {
	c.lastOpenErr = ""
	if !c.IsFileOpen() {
		return
	}
	if err := c.sink.Save(); err != nil {
		c.log.Error(fmt.Sprintf("saving %s: %v", c.run.Path, err))
	}
	if err := c.sink.Close(); err != nil {
		c.log.Error(fmt.Sprintf("closing %s: %v", c.run.Path, err))
	}
	c.run.Ended = c.clock.Now()
	c.log.Info(fmt.Sprintf("run file %s closed with %d events", c.run.Path, c.runEvents), "daq")
	if c.recorder != nil {
		c.recorder.RunEnded(c.run, c.runEvents)
	}
}
