//go:build linux || darwin

package serial

import "golang.org/x/sys/unix"

// tcflag covers the termios flag word widths of the supported platforms.
type tcflag interface {
	~uint32 | ~uint64
}

// makeRaw disables line editing, echo, signals and output processing, and
// enables the receiver with modem control lines ignored.
func makeRaw[F tcflag](iflag, oflag, lflag, cflag *F) {
	*iflag &^= F(unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY)
	*oflag &^= F(unix.OPOST)
	*lflag &^= F(unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN)
	*cflag &^= F(unix.CRTSCTS)
	*cflag |= F(unix.CREAD | unix.CLOCAL)
}

// setLine applies byte size, parity and stop bits. markSpace is the
// platform's mark/space parity bit, or zero when unsupported.
func setLine[F tcflag](iflag, cflag *F, cfg Config, markSpace F) error {
	*cflag &^= F(unix.CSIZE)
	switch cfg.ByteSize {
	case 5:
		*cflag |= F(unix.CS5)
	case 6:
		*cflag |= F(unix.CS6)
	case 7:
		*cflag |= F(unix.CS7)
	default:
		*cflag |= F(unix.CS8)
	}

	*cflag &^= F(unix.PARENB|unix.PARODD) | markSpace
	*iflag &^= F(unix.INPCK)
	switch cfg.Parity {
	case ParityNone:
	case ParityOdd:
		*cflag |= F(unix.PARENB | unix.PARODD)
		*iflag |= F(unix.INPCK)
	case ParityEven:
		*cflag |= F(unix.PARENB)
		*iflag |= F(unix.INPCK)
	case ParityMark, ParitySpace:
		if markSpace == 0 {
			return &InvalidConfigError{Field: "parity", Value: cfg.Parity, Reason: "not supported by this platform"}
		}
		*cflag |= F(unix.PARENB) | markSpace
		if cfg.Parity == ParityMark {
			*cflag |= F(unix.PARODD)
		}
		*iflag |= F(unix.INPCK)
	}

	// termios has no 1.5 stop bit setting; the line uses two.
	if cfg.StopBits == StopBitsOne {
		*cflag &^= F(unix.CSTOPB)
	} else {
		*cflag |= F(unix.CSTOPB)
	}
	return nil
}
