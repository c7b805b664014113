//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

func configureTTY(fd int, cfg Config) error {
	speed, ok := baudRates[cfg.BaudRate]
	if !ok {
		return &InvalidConfigError{Field: "baud rate", Value: cfg.BaudRate, Reason: "not supported by this platform"}
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("get termios: %w", err)}
	}

	makeRaw(&termios.Iflag, &termios.Oflag, &termios.Lflag, &termios.Cflag)
	if err := setLine(&termios.Iflag, &termios.Cflag, cfg, unix.CMSPAR); err != nil {
		return err
	}

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed

	// Reads return whatever is available; the descriptor is non-blocking.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return &DeviceOpenError{Path: cfg.Path, Err: fmt.Errorf("set termios: %w", err)}
	}
	return nil
}
