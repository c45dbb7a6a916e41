package daq

import "github.com/next-exp/sipm_daq/pkg/caen"

// PoolCapacity is the most events the board hands over in one readout.
const PoolCapacity = 1024

// Pool holds the event containers reused every cycle. Slots are borrowed
// by index for one pipeline cycle and never escape it.
type Pool struct {
	slots     [PoolCapacity]*caen.Event
	osc       *caen.Event
	allocated bool
}

// Allocate sizes every slot for the port's applied configuration.
func (p *Pool) Allocate(port *caen.Port) {
	channels := port.Model.Channels()
	mask := port.ChannelMask()
	length := port.GlobalConfig.RecordLength
	for i := range p.slots {
		p.slots[i] = caen.NewEvent(channels, mask, length)
	}
	p.osc = caen.NewEvent(channels, mask, length)
	p.allocated = true
}

// Release drops every container.
func (p *Pool) Release() {
	for i := range p.slots {
		p.slots[i] = nil
	}
	p.osc = nil
	p.allocated = false
}

func (p *Pool) Allocated() bool {
	return p.allocated
}

func (p *Pool) Cap() int {
	return len(p.slots)
}

// Slot returns container i, or nil when the pool is released.
func (p *Pool) Slot(i int) *caen.Event {
	if i < 0 || i >= len(p.slots) {
		return nil
	}
	return p.slots[i]
}

// Osc is the single container used for oscilloscope display.
func (p *Pool) Osc() *caen.Event {
	return p.osc
}

// boundBlock keeps one readout block within the pool, so events beyond it
// stay buffered in the board. Zero, which the driver reads as unlimited,
// becomes PoolCapacity.
func boundBlock(global caen.GlobalConfig) caen.GlobalConfig {
	if global.MaxEventsPerRead == 0 || global.MaxEventsPerRead > PoolCapacity {
		global.MaxEventsPerRead = PoolCapacity
	}
	return global
}
