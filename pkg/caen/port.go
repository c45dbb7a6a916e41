// Package caen wraps the CAEN digitizer primitives behind a Driver interface
// and keeps the per connection bookkeeping (applied configuration, readout
// buffer, last failure) in a Port.
package caen

import "fmt"

type Handle int

// ReadoutInfo describes the block last moved from the board into the
// readout buffer.
type ReadoutInfo struct {
	DataSize  uint32
	NumEvents uint32
}

// Driver is the vendor capability set. Implementations return ErrorCode
// values for device failures.
type Driver interface {
	Open(model Model, port int) (Handle, error)
	Reset(h Handle) error
	Setup(h Handle, global GlobalConfig, channels []ChannelConfig) error
	EnableAcquisition(h Handle) error
	DisableAcquisition(h Handle) error
	EventsInBuffer(h Handle) (uint32, error)
	ReadData(h Handle) (ReadoutInfo, error)
	ExtractEvent(h Handle, index uint32, evt *Event) error
	ClearData(h Handle) error
	Close(h Handle) error
}

// Port is an open connection to one digitizer. It is owned by a single
// goroutine.
type Port struct {
	drv     Driver
	Handle  Handle
	Model   Model
	PortNum int

	GlobalConfig   GlobalConfig
	ChannelConfigs []ChannelConfig
	Data           ReadoutInfo

	lastErr  error
	released bool
}

// Connect opens the digitizer on the given link number. A nil port is
// returned on failure.
func Connect(drv Driver, model Model, portNum int) (*Port, error) {
	if drv == nil {
		return nil, fmt.Errorf("connecting to %v on port %d: %w", model, portNum, GenericError)
	}
	h, err := drv.Open(model, portNum)
	if err != nil {
		return nil, err
	}
	return &Port{drv: drv, Handle: h, Model: model, PortNum: portNum}, nil
}

// Disconnect disables acquisition and releases the handle. It is safe to
// call on a nil port and on a port that was already released.
func Disconnect(p *Port) error {
	if p == nil || p.released {
		return nil
	}
	p.released = true
	_ = p.drv.DisableAcquisition(p.Handle)
	p.Data = ReadoutInfo{}
	return p.drv.Close(p.Handle)
}

// Released reports whether Disconnect already ran on p.
func (p *Port) Released() bool {
	return p.released
}

func (p *Port) record(err error) error {
	if err != nil {
		p.lastErr = err
	}
	return err
}

func (p *Port) live() error {
	if p.released {
		return p.record(InvalidHandle)
	}
	return nil
}

// LastError returns the most recent failure since the previous call and
// clears it.
func (p *Port) LastError() error {
	err := p.lastErr
	p.lastErr = nil
	return err
}

func (p *Port) Reset() error {
	if err := p.live(); err != nil {
		return err
	}
	return p.record(p.drv.Reset(p.Handle))
}

// Setup applies the configuration and remembers it for sink headers and
// waveform conversion.
func (p *Port) Setup(global GlobalConfig, channels []ChannelConfig) error {
	if err := p.live(); err != nil {
		return err
	}
	if err := p.record(p.drv.Setup(p.Handle, global, channels)); err != nil {
		return err
	}
	p.GlobalConfig = global
	p.ChannelConfigs = append(p.ChannelConfigs[:0], channels...)
	return nil
}

func (p *Port) EnableAcquisition() error {
	if err := p.live(); err != nil {
		return err
	}
	return p.record(p.drv.EnableAcquisition(p.Handle))
}

func (p *Port) DisableAcquisition() error {
	if err := p.live(); err != nil {
		return err
	}
	return p.record(p.drv.DisableAcquisition(p.Handle))
}

// EventsInBuffer returns zero when the query fails.
func (p *Port) EventsInBuffer() uint32 {
	if p.live() != nil {
		return 0
	}
	n, err := p.drv.EventsInBuffer(p.Handle)
	if p.record(err) != nil {
		return 0
	}
	return n
}

// RetrieveData moves the buffered block into Data.
func (p *Port) RetrieveData() error {
	if err := p.live(); err != nil {
		p.Data = ReadoutInfo{}
		return err
	}
	info, err := p.drv.ReadData(p.Handle)
	if p.record(err) != nil {
		p.Data = ReadoutInfo{}
		return err
	}
	p.Data = info
	return nil
}

// RetrieveDataUntilNEvents reads only once at least n events wait in the
// board. It reports whether a block was read.
func (p *Port) RetrieveDataUntilNEvents(n uint32) bool {
	if p.EventsInBuffer() < n {
		return false
	}
	if p.RetrieveData() != nil {
		return false
	}
	return p.Data.NumEvents > 0
}

// ExtractEvent decodes event index of the readout buffer into evt.
func (p *Port) ExtractEvent(index uint32, evt *Event) error {
	if err := p.live(); err != nil {
		return err
	}
	if evt == nil {
		return p.record(InvalidBuffer)
	}
	if index >= p.Data.NumEvents {
		return p.record(InvalidEvent)
	}
	return p.record(p.drv.ExtractEvent(p.Handle, index, evt))
}

func (p *Port) ClearData() error {
	if err := p.live(); err != nil {
		return err
	}
	p.Data = ReadoutInfo{}
	return p.record(p.drv.ClearData(p.Handle))
}

// SampleRate in samples per second.
func (p *Port) SampleRate() float64 {
	return p.Model.SampleRate()
}

// ChannelMask of the applied channel configuration.
func (p *Port) ChannelMask() uint64 {
	return ChannelMask(p.ChannelConfigs)
}
