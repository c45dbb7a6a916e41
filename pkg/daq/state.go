package daq

import (
	"fmt"
	"strings"

	"github.com/next-exp/sipm_daq/pkg/caen"
)

type StateID int

const (
	NullState StateID = iota
	Standby
	AttemptConnection
	OscilloscopeMode
	StatisticsMode
	RunMode
	Disconnected
	Closing
)

var stateNames = []string{
	"null",
	"standby",
	"attempt_connection",
	"oscilloscope",
	"statistics",
	"run",
	"disconnected",
	"closing",
}

func (s StateID) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseStateID accepts the names returned by String, case insensitive.
func ParseStateID(name string) (StateID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return StateID(i), nil
		}
	}
	return NullState, fmt.Errorf("unknown state %q", name)
}

// needsPort reports whether a state drives the digitizer.
func (s StateID) needsPort() bool {
	return s == OscilloscopeMode || s == StatisticsMode || s == RunMode
}

// State is the record owned by the control goroutine. Commands mutate it
// between handler runs; nothing else touches it.
type State struct {
	RunDir         string
	RunName        string
	SiPMParameters string

	Model          caen.Model
	GlobalConfig   caen.GlobalConfig
	ChannelConfigs []caen.ChannelConfig
	PortNum        int

	// Port is non-nil only while connected.
	Port *caen.Port

	CurrentState StateID
}
