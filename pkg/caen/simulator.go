package caen

import (
	"math"
	"math/rand"
	"time"
)

// Simulator is an in-process Driver that produces SiPM-like pulses at a fixed
// trigger rate. It models the board memory (events accumulate while
// acquisition is enabled and are lost once the memory is full) and the
// readout block limit of MaxEventsPerRead.
type Simulator struct {
	Model       Model
	Ports       int     // reachable link numbers are [0, Ports)
	TriggerRate float64 // Hz
	BufferSize  uint32  // board memory, in events
	Now         func() time.Time

	rng       *rand.Rand
	open      bool
	handle    Handle
	global    GlobalConfig
	channels  []ChannelConfig
	acquiring bool
	lastFill  time.Time
	pending   float64
	buffered  uint32
	readout   uint32
	counter   uint32
	timeTag   uint32
}

func NewSimulator(model Model, seed int64) *Simulator {
	return &Simulator{
		Model:       model,
		Ports:       1,
		TriggerRate: 2000,
		BufferSize:  1024,
		Now:         time.Now,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) check(h Handle) error {
	if !s.open || h != s.handle {
		return InvalidHandle
	}
	return nil
}

func (s *Simulator) Open(model Model, port int) (Handle, error) {
	if s.open {
		return 0, DigitizerAlreadyOpen
	}
	if port < 0 || port >= s.Ports {
		return 0, DigitizerNotFound
	}
	if model != s.Model {
		return 0, BadBoardType
	}
	s.open = true
	s.handle = Handle(port + 1)
	return s.handle, nil
}

func (s *Simulator) Reset(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	s.acquiring = false
	s.buffered, s.readout, s.pending = 0, 0, 0
	s.counter, s.timeTag = 0, 0
	return nil
}

func (s *Simulator) Setup(h Handle, global GlobalConfig, channels []ChannelConfig) error {
	if err := s.check(h); err != nil {
		return err
	}
	if global.RecordLength == 0 || global.PostTrigger > 100 {
		return InvalidParam
	}
	for _, ch := range channels {
		if int(ch.Channel) >= s.Model.Channels() {
			return InvalidChannelNumber
		}
	}
	s.global = global
	s.channels = append(s.channels[:0], channels...)
	return nil
}

func (s *Simulator) EnableAcquisition(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	if len(s.channels) == 0 {
		return WrongAcqMode
	}
	s.acquiring = true
	s.lastFill = s.Now()
	return nil
}

func (s *Simulator) DisableAcquisition(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	s.acquiring = false
	return nil
}

func (s *Simulator) accumulate() {
	now := s.Now()
	if !s.acquiring {
		s.lastFill = now
		return
	}
	s.pending += now.Sub(s.lastFill).Seconds() * s.TriggerRate
	s.lastFill = now
	whole := math.Floor(s.pending)
	s.pending -= whole
	total := float64(s.buffered) + whole
	if total > float64(s.BufferSize) {
		total = float64(s.BufferSize)
	}
	s.buffered = uint32(total)
}

func (s *Simulator) EventsInBuffer(h Handle) (uint32, error) {
	if err := s.check(h); err != nil {
		return 0, err
	}
	s.accumulate()
	return s.buffered, nil
}

func (s *Simulator) eventSize() uint32 {
	return 16 + 2*s.global.RecordLength*uint32(len(s.channels))
}

func (s *Simulator) ReadData(h Handle) (ReadoutInfo, error) {
	if err := s.check(h); err != nil {
		return ReadoutInfo{}, err
	}
	s.accumulate()
	n := s.buffered
	if limit := s.global.MaxEventsPerRead; limit > 0 && n > limit {
		n = limit
	}
	s.buffered -= n
	s.readout = n
	return ReadoutInfo{DataSize: n * s.eventSize(), NumEvents: n}, nil
}

func (s *Simulator) ExtractEvent(h Handle, index uint32, evt *Event) error {
	if err := s.check(h); err != nil {
		return err
	}
	if index >= s.readout {
		return InvalidEvent
	}
	s.counter++
	s.timeTag += uint32(125e6 / s.TriggerRate)
	evt.Info = EventInfo{
		EventSize:      s.eventSize(),
		BoardID:        uint32(s.handle),
		ChannelMask:    ChannelMask(s.channels),
		EventCounter:   s.counter,
		TriggerTimeTag: s.timeTag,
	}
	for _, ch := range s.channels {
		s.pulse(ch, evt.Fill(int(ch.Channel), s.global.RecordLength))
	}
	return nil
}

// pulse writes a baseline with gaussian noise and one exponential SiPM pulse
// starting at the pre-trigger boundary.
func (s *Simulator) pulse(ch ChannelConfig, buf []uint16) {
	maxCode := float64(s.Model.MaxCode())
	baseline := maxCode * float64(ch.DCOffset) / 65536 / 8
	start := len(buf) * int(100-s.global.PostTrigger) / 100
	amplitude := 200 + 600*s.rng.Float64()
	const rise, decay = 3.0, 40.0
	sign := 1.0
	if ch.Polarity == "falling" {
		sign = -1.0
	}
	for i := range buf {
		v := baseline + 3*s.rng.NormFloat64()
		if i >= start {
			t := float64(i - start)
			v += sign * amplitude * (1 - math.Exp(-t/rise)) * math.Exp(-t/decay)
		}
		buf[i] = uint16(math.Max(0, math.Min(maxCode, v)))
	}
}

func (s *Simulator) ClearData(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	s.accumulate()
	s.buffered, s.readout = 0, 0
	return nil
}

// Close is idempotent.
func (s *Simulator) Close(h Handle) error {
	if !s.open {
		return nil
	}
	if h != s.handle {
		return InvalidHandle
	}
	s.open = false
	s.acquiring = false
	s.buffered, s.readout = 0, 0
	return nil
}
