package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned by a Handle when a non-blocking read or
	// write cannot make progress right now.
	ErrWouldBlock = errors.New("serial: operation would block")
	// ErrTransportClosed is returned when writing to a closing or closed transport.
	ErrTransportClosed = errors.New("serial: transport is closing")
	// ErrPeerClosed is returned by socket-backed handles when the remote end
	// closes the connection.
	ErrPeerClosed = errors.New("serial: peer closed the connection")
	// ErrHandleClosed is returned by handle operations after Close.
	ErrHandleClosed = errors.New("serial: handle is closed")
)

// OpenFailure classifies why a device could not be opened.
type OpenFailure int

const (
	FailureOther OpenFailure = iota
	FailureNotFound
	FailureBusy
	FailurePermission
)

func (f OpenFailure) String() string {
	switch f {
	case FailureNotFound:
		return "not found"
	case FailureBusy:
		return "busy"
	case FailurePermission:
		return "permission denied"
	}
	return "failed"
}

// DeviceOpenError reports a device that is missing, busy or not accessible.
type DeviceOpenError struct {
	Path   string
	Reason OpenFailure
	Err    error
}

func (e *DeviceOpenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("serial: open %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("serial: open %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// InvalidConfigError reports a configuration value the device cannot use.
type InvalidConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("serial: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// ConnectionClosedError is returned to stream reads and drains that were
// interrupted by the transport closing. Err is the reason the transport
// closed and is nil for a deliberate close.
type ConnectionClosedError struct {
	Err error
}

func (e *ConnectionClosedError) Error() string {
	if e.Err == nil {
		return "serial: connection closed"
	}
	return "serial: connection closed: " + e.Err.Error()
}

func (e *ConnectionClosedError) Unwrap() error { return e.Err }

// IncompleteReadError is returned by ReadExactly and ReadUntil when the
// stream ends early. Expected is -1 when the length was not known.
type IncompleteReadError struct {
	Partial  []byte
	Expected int
}

func (e *IncompleteReadError) Error() string {
	if e.Expected < 0 {
		return fmt.Sprintf("serial: stream ended after %d bytes without the separator", len(e.Partial))
	}
	return fmt.Sprintf("serial: %d bytes read on a total of %d expected bytes", len(e.Partial), e.Expected)
}

// LimitOverrunError is returned by ReadUntil when the separator is not found
// within the stream buffer limit.
type LimitOverrunError struct {
	Consumed int
}

func (e *LimitOverrunError) Error() string {
	return fmt.Sprintf("serial: separator not found within buffer limit (%d bytes buffered)", e.Consumed)
}
