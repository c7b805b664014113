//go:build linux || darwin

package serial

import (
	"errors"

	"golang.org/x/sys/unix"
)

// openTTY opens a serial device for raw, non-blocking operation.
func openTTY(cfg Config) (Handle, error) {
	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, openError(cfg.Path, err)
	}
	h := &fdHandle{fd: fd, name: cfg.Path}

	// prevent handle leaks
	ok := false
	defer func() {
		if !ok {
			h.Close()
		}
	}()

	if !cfg.Shared {
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			return nil, openError(cfg.Path, err)
		}
	}
	if err := configureTTY(fd, cfg); err != nil {
		return nil, err
	}
	ok = true
	return h, nil
}

func openError(path string, err error) *DeviceOpenError {
	reason := FailureOther
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		reason = FailureNotFound
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EWOULDBLOCK):
		reason = FailureBusy
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		reason = FailurePermission
	}
	return &DeviceOpenError{Path: path, Reason: reason, Err: err}
}
