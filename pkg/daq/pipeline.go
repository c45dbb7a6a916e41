package daq

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/next-exp/sipm_daq/pkg/caen"
	"github.com/next-exp/sipm_daq/pkg/indicators"
	"github.com/next-exp/sipm_daq/pkg/timing"
)

const (
	// AcquisitionThreshold is the number of buffered events below which the
	// board is left to keep accumulating.
	AcquisitionThreshold = 512

	DisplayInterval    = 200 * time.Millisecond
	ErrorCheckInterval = time.Second
)

// Sender is the display side of the indicator channel.
type Sender interface {
	Send(name indicators.Name, value float64)
	SendPlot(name indicators.Name, xs, ys []float64) error
}

// Sink persists events of a run.
type Sink interface {
	// Open creates the file at path; the header is sized from port.
	Open(path string, port *caen.Port) error
	IsOpen() bool
	Add(evt *caen.Event) error
	// Save writes out what was added since the previous Save.
	Save() error
	Close() error
	// Extension of the files this sink writes, including the dot.
	Extension() string
}

// Pipeline moves events from the board into the pool, on to the sink, and
// samples them for display. Throttle history lives in the instance.
type Pipeline struct {
	pool *Pool
	sink Sink
	out  Sender
	log  Logger
	rng  *rand.Rand

	errorCheck *timing.Executor[bool]
	display    *timing.Executor[bool]

	port      *caen.Port
	extracted int
}

func NewPipeline(pool *Pool, sink Sink, out Sender, log Logger, clock timing.Clock, rng *rand.Rand) *Pipeline {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = nopLogger{}
	}
	if clock == nil {
		clock = timing.SystemClock
	}
	p := &Pipeline{pool: pool, sink: sink, out: out, log: log, rng: rng}
	p.errorCheck = timing.NewThrottled(ErrorCheckInterval, p.checkErrors).WithClock(clock)
	p.display = timing.NewThrottled(DisplayInterval, p.sampleForDisplay).WithClock(clock)
	return p
}

func (p *Pipeline) persisting() bool {
	return p.sink != nil && p.sink.IsOpen()
}

// Process runs one acquisition cycle and returns the number of events
// extracted into the pool. The error check runs whether or not the board
// had enough events.
func (p *Pipeline) Process(port *caen.Port) int {
	p.port = port
	p.extracted = 0
	if port.RetrieveDataUntilNEvents(AcquisitionThreshold) {
		p.extract(port)
	}

	if p.extracted > 0 {
		p.out.Send(indicators.TriggerFrequency, p.meanFrequency(port))
	}
	p.errorCheck.Call()
	if p.extracted > 0 {
		p.display.Call()
	}
	return p.extracted
}

// extract copies at most one pool worth of the readout block into the
// slots and hands each event to the sink when a run file is open.
func (p *Pipeline) extract(port *caen.Port) {
	n := min(int(port.Data.NumEvents), p.pool.Cap())
	persist := p.persisting()
	failed := 0
	var firstErr error
	for i := 0; i < n; i++ {
		evt := p.pool.Slot(i)
		if err := port.ExtractEvent(uint32(i), evt); err != nil {
			break
		}
		p.extracted++
		if persist {
			if err := p.sink.Add(evt); err != nil {
				if failed == 0 {
					firstErr = err
				}
				failed++
			}
		}
	}
	if failed > 0 {
		p.log.Error(fmt.Sprintf("adding %d of %d events to run file: %v", failed, p.extracted, firstErr))
	}
}

// Scope runs one oscilloscope cycle: whatever is buffered is read, the
// first event is displayed and the board buffer is cleared.
func (p *Pipeline) Scope(port *caen.Port) {
	p.port = port
	p.out.Send(indicators.BufferEvents, float64(port.EventsInBuffer()))
	if port.RetrieveData() == nil && port.Data.NumEvents > 0 {
		evt := p.pool.Osc()
		if port.ExtractEvent(0, evt) == nil {
			p.sendWaveform(evt)
		}
	}
	port.ClearData()
	p.checkErrors()
}

func (p *Pipeline) checkErrors() bool {
	if p.port == nil {
		return false
	}
	return caen.CheckError(p.port.LastError(), p.log.Error)
}

func (p *Pipeline) sampleForDisplay() bool {
	if p.extracted == 0 {
		return false
	}
	evt := p.pool.Slot(p.rng.Intn(p.extracted))
	return p.sendWaveform(evt)
}

// displayChannel is the first configured channel.
func displayChannel(port *caen.Port) int {
	if len(port.ChannelConfigs) == 0 {
		return 0
	}
	return int(port.ChannelConfigs[0].Channel)
}

func (p *Pipeline) sendWaveform(evt *caen.Event) bool {
	if evt == nil {
		return false
	}
	samples := evt.Waveform(displayChannel(p.port))
	if len(samples) == 0 {
		return false
	}
	period := 1e9 / p.port.SampleRate() // ns
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, code := range samples {
		xs[i] = float64(i) * period
		ys[i] = float64(code)
	}
	if err := p.out.SendPlot(indicators.SiPMPlot, xs, ys); err != nil {
		p.log.Error(err.Error())
		return false
	}
	return true
}

// meanFrequency averages, over the extracted events, the rate of upward
// crossings of the trigger threshold on the display channel.
func (p *Pipeline) meanFrequency(port *caen.Port) float64 {
	if p.extracted == 0 || port.GlobalConfig.RecordLength == 0 {
		return 0
	}
	var threshold uint16
	if len(port.ChannelConfigs) > 0 {
		threshold = port.ChannelConfigs[0].TriggerThreshold
	}
	ch := displayChannel(port)
	total := 0.0
	for i := 0; i < p.extracted; i++ {
		total += crossingFrequency(p.pool.Slot(i).Waveform(ch), threshold, port.SampleRate(), port.GlobalConfig.RecordLength)
	}
	return total / float64(p.extracted)
}

func crossingFrequency(samples []uint16, threshold uint16, sampleRate float64, recordLength uint32) float64 {
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if samples[i] > threshold && samples[i-1] < threshold {
			crossings++
		}
	}
	return sampleRate * float64(crossings) / float64(recordLength)
}
