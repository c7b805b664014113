//go:build linux || darwin

package serial

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

const pollSupported = true

// fdHandle is a non-blocking descriptor: a tty or a duplicated TCP socket.
type fdHandle struct {
	fd   int
	name string
	// eofIsError makes a zero-byte read a disconnect. Sockets signal EOF;
	// serial lines never do.
	eofIsError bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (h *fdHandle) Read(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrHandleClosed
	}
	n, err := unix.Read(h.fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, ErrWouldBlock
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", h.name, err)
	case n == 0 && len(p) > 0 && h.eofIsError:
		return 0, ErrPeerClosed
	}
	return n, nil
}

func (h *fdHandle) Write(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrHandleClosed
	}
	n, err := unix.Write(h.fd, p)
	if n < 0 {
		n = 0
	}
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return n, ErrWouldBlock
	case err != nil:
		return n, fmt.Errorf("write %s: %w", h.name, err)
	case n < len(p):
		return n, ErrWouldBlock
	}
	return n, nil
}

// Close releases the descriptor, and with it any exclusive lock.
// Safe to call multiple times; subsequent calls are no-ops.
func (h *fdHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = unix.Close(h.fd)
	})
	return h.closeErr
}

func (h *fdHandle) Watch(loop *eventloop.Loop, ready func(eventloop.Interest)) (Watch, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	return watchFD(loop, h.fd, ready)
}

// openSocket dials addr and keeps a non-blocking duplicate of the socket
// descriptor so that it can be polled like a tty.
func openSocket(cfg Config, addr string) (Handle, error) {
	conn, err := net.DialTimeout("tcp", addr, socketDialTimeout)
	if err != nil {
		return nil, dialError(cfg.Path, err)
	}
	defer conn.Close()

	raw, err := conn.(*net.TCPConn).SyscallConn()
	if err != nil {
		return nil, &DeviceOpenError{Path: cfg.Path, Err: err}
	}
	fd := -1
	var dupErr error
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return nil, &DeviceOpenError{Path: cfg.Path, Err: err}
	}
	if dupErr != nil {
		return nil, &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("dup: %w", dupErr)}
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("set nonblock: %w", err)}
	}
	return &fdHandle{fd: fd, name: cfg.Path, eofIsError: true}, nil
}
