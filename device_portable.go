package serial

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"go.bug.st/serial"
)

// portablePort is the subset of go.bug.st/serial.Port this package uses.
type portablePort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// allow tests to override the go.bug.st/serial opener
var openPortablePort = func(name string, mode *serial.Mode) (portablePort, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// portableMode converts the line parameters into the serial.Mode required by
// go.bug.st/serial.
func portableMode(cfg Config) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.ByteSize,
	}
	switch cfg.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}
	switch cfg.StopBits {
	case StopBitsOnePointFive:
		mode.StopBits = serial.OnePointFiveStopBits
	case StopBitsTwo:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	return mode
}

// openPortable opens cfg.Path with go.bug.st/serial and drives it from pump
// goroutines.
func openPortable(cfg Config) (Handle, error) {
	port, err := openPortablePort(cfg.Path, portableMode(cfg))
	if err != nil {
		return nil, portableOpenError(cfg, err)
	}

	timeout := serial.NoTimeout
	if cfg.ReadTimeout > 0 {
		timeout = cfg.ReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	return newPumpHandle(cfg.Path, port), nil
}

func portableOpenError(cfg Config, err error) error {
	var perr *serial.PortError
	if !errors.As(err, &perr) {
		// Some open failures come back as plain errno values.
		reason := FailureOther
		switch {
		case errors.Is(err, fs.ErrNotExist):
			reason = FailureNotFound
		case errors.Is(err, fs.ErrPermission):
			reason = FailurePermission
		}
		return &DeviceOpenError{Path: cfg.Path, Reason: reason, Err: err}
	}
	switch perr.Code() {
	case serial.PortNotFound:
		return &DeviceOpenError{Path: cfg.Path, Reason: FailureNotFound, Err: err}
	case serial.PortBusy:
		return &DeviceOpenError{Path: cfg.Path, Reason: FailureBusy, Err: err}
	case serial.PermissionDenied:
		return &DeviceOpenError{Path: cfg.Path, Reason: FailurePermission, Err: err}
	case serial.InvalidSpeed:
		return &InvalidConfigError{Field: "baud rate", Value: cfg.BaudRate, Reason: perr.EncodedErrorString()}
	case serial.InvalidDataBits:
		return &InvalidConfigError{Field: "byte size", Value: cfg.ByteSize, Reason: perr.EncodedErrorString()}
	case serial.InvalidParity:
		return &InvalidConfigError{Field: "parity", Value: cfg.Parity, Reason: perr.EncodedErrorString()}
	case serial.InvalidStopBits:
		return &InvalidConfigError{Field: "stop bits", Value: cfg.StopBits, Reason: perr.EncodedErrorString()}
	}
	return &DeviceOpenError{Path: cfg.Path, Err: err}
}
