package caen

// EventInfo is the board header attached to every acquisition window.
type EventInfo struct {
	EventSize      uint32
	BoardID        uint32
	Pattern        uint32
	ChannelMask    uint64
	EventCounter   uint32
	TriggerTimeTag uint32
}

// Event is a reusable container for one decoded acquisition window.
// DataChannel is indexed by physical channel; only enabled channels carry
// sample storage.
type Event struct {
	Info        EventInfo
	ChSize      []uint32
	DataChannel [][]uint16
}

// NewEvent allocates sample storage of recordLength samples for every
// channel enabled in mask.
func NewEvent(channels int, mask uint64, recordLength uint32) *Event {
	evt := &Event{
		ChSize:      make([]uint32, channels),
		DataChannel: make([][]uint16, channels),
	}
	for ch := 0; ch < channels && ch < 64; ch++ {
		if mask&(1<<uint(ch)) != 0 {
			evt.DataChannel[ch] = make([]uint16, 0, recordLength)
		}
	}
	return evt
}

// Fill resizes channel ch to n samples and returns the slice to write into.
// Storage is reused; it only grows when n exceeds what was allocated.
func (e *Event) Fill(ch int, n uint32) []uint16 {
	if ch < 0 || ch >= len(e.DataChannel) {
		return nil
	}
	buf := e.DataChannel[ch]
	if uint32(cap(buf)) < n {
		buf = make([]uint16, n)
	}
	buf = buf[:n]
	e.DataChannel[ch] = buf
	e.ChSize[ch] = n
	return buf
}

// Waveform returns the samples stored for channel ch.
func (e *Event) Waveform(ch int) []uint16 {
	if ch < 0 || ch >= len(e.DataChannel) {
		return nil
	}
	return e.DataChannel[ch][:e.ChSize[ch]]
}
