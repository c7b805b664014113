//go:build linux || darwin

package eventloop

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller waits with poll(2) and uses a self-pipe to interrupt the wait.
type pollPoller struct {
	pipeR int
	pipeW int

	closeOnce sync.Once
	fds       []unix.PollFd
}

func newPoller() (poller, error) {
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range pipeFds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(pipeFds[0])
			unix.Close(pipeFds[1])
			return nil, fmt.Errorf("set nonblock: %w", err)
		}
	}
	return &pollPoller{pipeR: pipeFds[0], pipeW: pipeFds[1]}, nil
}

func (p *pollPoller) supportsFD() bool { return true }

func (p *pollPoller) wait(reqs []pollRequest, block bool) ([]pollEvent, error) {
	p.fds = p.fds[:0]
	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.pipeR), Events: unix.POLLIN})
	for _, r := range reqs {
		var events int16
		if r.interest&Readable != 0 {
			events |= unix.POLLIN
		}
		if r.interest&Writable != 0 {
			events |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(r.fd), Events: events})
	}

	timeout := 0
	if block {
		timeout = -1
	}
	n, err := unix.Poll(p.fds, timeout)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	if p.fds[0].Revents&unix.POLLIN != 0 {
		p.drain()
	}

	var events []pollEvent
	for i, pfd := range p.fds[1:] {
		if pfd.Revents == 0 {
			continue
		}
		var ready Interest
		if pfd.Revents&unix.POLLIN != 0 {
			ready |= Readable
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ready |= Writable
		}
		// Hangups and errors are reported as readiness so that the next
		// read or write surfaces the actual error.
		if pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			ready |= reqs[i].interest
		}
		events = append(events, pollEvent{fd: int(pfd.Fd), ready: ready})
	}
	return events, nil
}

func (p *pollPoller) drain() {
	var b [64]byte
	for {
		n, err := unix.Read(p.pipeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *pollPoller) wakeup() {
	// A full pipe already guarantees a pending wakeup.
	unix.Write(p.pipeW, []byte{1})
}

func (p *pollPoller) close() error {
	var err error
	p.closeOnce.Do(func() {
		err = unix.Close(p.pipeR)
		if cerr := unix.Close(p.pipeW); err == nil {
			err = cerr
		}
	})
	return err
}
