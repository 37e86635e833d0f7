package server

import "time"

// Logger defines the logging interface used by the Server.
// This allows the server to work with any logger implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives per-connection outcomes for metrics and telemetry.
type Recorder interface {
	ConnectionAccepted()
	ConnectionRejected()
	HandshakeFinished(d time.Duration, err error)
	GreetingFinished(err error)
}

type noopRecorder struct{}

func (noopRecorder) ConnectionAccepted()                    {}
func (noopRecorder) ConnectionRejected()                    {}
func (noopRecorder) HandshakeFinished(time.Duration, error) {}
func (noopRecorder) GreetingFinished(error)                 {}
