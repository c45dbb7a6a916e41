package daq

import (
	"errors"
	"fmt"

	"github.com/next-exp/sipm_daq/pkg/caen"
)

// Command is a unit of work executed on the control goroutine. Apply
// returns false to reject the command; the controller then restores the
// previous CurrentState.
type Command interface {
	Apply(s *State) bool
}

// CommandFunc adapts a function to Command.
type CommandFunc func(s *State) bool

func (f CommandFunc) Apply(s *State) bool {
	return f(s)
}

// Connect starts a connection attempt from Standby.
type Connect struct{}

func (Connect) Apply(s *State) bool {
	if s.Port != nil {
		return false
	}
	s.CurrentState = AttemptConnection
	return true
}

func (Connect) String() string { return "connect" }

// SetMode requests a transition. Acquisition modes require a connected
// port; Standby and AttemptConnection require a disconnected one.
type SetMode struct {
	Target StateID
}

func (c SetMode) Apply(s *State) bool {
	switch {
	case c.Target == NullState || c.Target > Closing || c.Target < 0:
		return false
	case c.Target.needsPort() && s.Port == nil:
		return false
	case (c.Target == Standby || c.Target == AttemptConnection) && s.Port != nil:
		return false
	}
	s.CurrentState = c.Target
	return true
}

func (c SetMode) String() string { return "set mode " + c.Target.String() }

// SetRunInfo names the next run file. A file already open keeps its name
// until RunMode is left.
type SetRunInfo struct {
	RunDir         string
	RunName        string
	SiPMParameters string
}

func (c SetRunInfo) Apply(s *State) bool {
	if c.RunName == "" || c.SiPMParameters == "" {
		return false
	}
	s.RunDir = c.RunDir
	s.RunName = c.RunName
	s.SiPMParameters = c.SiPMParameters
	return true
}

func (c SetRunInfo) String() string { return "set run info " + c.RunName }

// SetConfig replaces the digitizer configuration applied at the next
// connection. It is rejected while connected.
type SetConfig struct {
	Model    caen.Model
	PortNum  int
	Global   caen.GlobalConfig
	Channels []caen.ChannelConfig
}

func (c SetConfig) Apply(s *State) bool {
	if s.Port != nil || len(c.Channels) == 0 {
		return false
	}
	s.Model = c.Model
	s.PortNum = c.PortNum
	s.GlobalConfig = boundBlock(c.Global)
	s.ChannelConfigs = append([]caen.ChannelConfig(nil), c.Channels...)
	return true
}

func (c SetConfig) String() string { return "set config " + c.Model.String() }

// Disconnect tears the connection down and returns to Standby.
type Disconnect struct{}

func (Disconnect) Apply(s *State) bool {
	s.CurrentState = Disconnected
	return true
}

func (Disconnect) String() string { return "disconnect" }

// Close tears the connection down and ends the control loop.
type Close struct{}

func (Close) Apply(s *State) bool {
	s.CurrentState = Closing
	return true
}

func (Close) String() string { return "close" }

func describe(cmd Command) string {
	if s, ok := cmd.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", cmd)
}

var ErrQueueFull = errors.New("command queue full")

// CommandQueue carries commands from one producer to the control goroutine.
// Neither side ever blocks.
type CommandQueue struct {
	ch chan Command
}

func NewCommandQueue(size int) *CommandQueue {
	if size <= 0 {
		size = 1
	}
	return &CommandQueue{ch: make(chan Command, size)}
}

// Enqueue returns ErrQueueFull instead of waiting for room.
func (q *CommandQueue) Enqueue(cmd Command) error {
	if cmd == nil {
		return errors.New("nil command")
	}
	select {
	case q.ch <- cmd:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", describe(cmd), ErrQueueFull)
	}
}

func (q *CommandQueue) tryDequeue() (Command, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return nil, false
	}
}

// Len is the number of commands waiting.
func (q *CommandQueue) Len() int {
	return len(q.ch)
}
