//go:build darwin

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint64{
	50:     50,
	75:     75,
	110:    110,
	134:    134,
	150:    150,
	200:    200,
	300:    300,
	600:    600,
	1200:   1200,
	1800:   1800,
	2400:   2400,
	4800:   4800,
	9600:   9600,
	19200:  19200,
	38400:  38400,
	57600:  57600,
	115200: 115200,
	230400: 230400,
}

func configureTTY(fd int, cfg Config) error {
	speed, ok := baudRates[cfg.BaudRate]
	if !ok {
		return &InvalidConfigError{Field: "baud rate", Value: cfg.BaudRate, Reason: "not supported by this platform"}
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TIOCGETA)
	if err != nil {
		return &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("get termios: %w", err)}
	}

	makeRaw(&termios.Iflag, &termios.Oflag, &termios.Lflag, &termios.Cflag)
	// No CMSPAR on Darwin.
	if err := setLine(&termios.Iflag, &termios.Cflag, cfg, 0); err != nil {
		return err
	}

	termios.Ispeed = speed
	termios.Ospeed = speed
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TIOCSETA, termios); err != nil {
		return &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("set termios: %w", err)}
	}
	return nil
}
