package serial

import (
	"bytes"
	"io"
	"sync"
)

// loopbackPort returns everything written to it, like a cable with TX tied
// to RX.
type loopbackPort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newLoopbackPort() *loopbackPort {
	p := &loopbackPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func openLoopback(cfg Config) Handle {
	return newPumpHandle(cfg.Path, newLoopbackPort())
}

func (p *loopbackPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *loopbackPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.buf.Write(b)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *loopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
