package internal

import "errors"

// ValidationError is a user action rejected locally before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// ServerError carries the text of an inbound `error` event.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}

var (
	// ErrClosed is returned by Emit once the connection has shut down.
	ErrClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Emit when the writer cannot keep up.
	ErrSendQueueFull = errors.New("send queue full")
)
