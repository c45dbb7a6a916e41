package daq

// Logger is the sink for controller diagnostics. Info and Warn carry the
// name of the module that produced the message.
type Logger interface {
	Info(message string, module string)
	Warn(message string, module string)
	Error(message string)
}

type nopLogger struct{}

func (nopLogger) Info(string, string) {}
func (nopLogger) Warn(string, string) {}
func (nopLogger) Error(string)        {}
