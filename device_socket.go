package serial

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

const socketDialTimeout = 5 * time.Second

func dialError(path string, err error) *DeviceOpenError {
	reason := FailureOther
	if errors.Is(err, syscall.ECONNREFUSED) {
		reason = FailureNotFound
	}
	return &DeviceOpenError{Path: path, Reason: reason, Err: err}
}

// socketPort is a TCP connection used as a blocking port where descriptors
// cannot be polled.
type socketPort struct {
	net.Conn
}

func (p socketPort) Read(b []byte) (int, error) {
	n, err := p.Conn.Read(b)
	if errors.Is(err, io.EOF) {
		err = ErrPeerClosed
	}
	return n, err
}
