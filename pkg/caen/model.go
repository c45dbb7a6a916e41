package caen

import (
	"fmt"
	"strings"
)

// Model identifies a supported digitizer board.
type Model int

const (
	DT5730 Model = iota
	DT5730B
	DT5725
	DT5740D
	V1740D
)

type modelInfo struct {
	name       string
	sampleRate float64 // samples per second
	adcBits    uint
	channels   int
}

var models = []modelInfo{
	DT5730:  {"DT5730", 500e6, 14, 8},
	DT5730B: {"DT5730B", 500e6, 14, 8},
	DT5725:  {"DT5725", 250e6, 14, 8},
	DT5740D: {"DT5740D", 62.5e6, 12, 32},
	V1740D:  {"V1740D", 62.5e6, 12, 64},
}

func (m Model) valid() bool {
	return m >= 0 && int(m) < len(models)
}

func (m Model) String() string {
	if !m.valid() {
		return "UNKNOWN"
	}
	return models[m].name
}

// SampleRate in samples per second.
func (m Model) SampleRate() float64 {
	if !m.valid() {
		return 0
	}
	return models[m].sampleRate
}

// Channels is the number of physical inputs on the board.
func (m Model) Channels() int {
	if !m.valid() {
		return 0
	}
	return models[m].channels
}

// MaxCode is the largest ADC code the board can produce.
func (m Model) MaxCode() uint16 {
	if !m.valid() {
		return 0
	}
	return uint16(1<<models[m].adcBits - 1)
}

// ParseModel is case insensitive.
func ParseModel(s string) (Model, error) {
	for i, info := range models {
		if strings.EqualFold(info.name, s) {
			return Model(i), nil
		}
	}
	return 0, fmt.Errorf("unknown digitizer model %q", s)
}

func (m Model) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("invalid digitizer model %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Model) UnmarshalText(text []byte) error {
	parsed, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
