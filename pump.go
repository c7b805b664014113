package serial

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

const (
	pumpReadSize    = 1024
	pumpInputLimit  = 64 * 1024
	pumpOutputLimit = 4 * 1024

	// pumpCloseLinger bounds how long Close lets buffered output drain
	// before the port is closed underneath it.
	pumpCloseLinger = 2 * time.Second
)

// pumpHandle adapts a blocking port (a go.bug.st/serial port, a net.Conn,
// the loop:// buffer) to the non-blocking Handle contract. One goroutine
// keeps reading into an input buffer and another drains an output buffer
// into the port, the way overlapped I/O completes in the background.
// Readiness is pushed to the loop whenever either buffer changes.
type pumpHandle struct {
	port io.ReadWriteCloser
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	in       bytes.Buffer
	inErr    error
	inLimit  int
	out      bytes.Buffer
	outErr   error
	outLimit int
	inFlight int // bytes taken by the write pump but not yet written
	closed   bool
	notify   func()
	flushed  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newPumpHandle(name string, port io.ReadWriteCloser) *pumpHandle {
	return newPumpHandleSize(name, port, pumpInputLimit, pumpOutputLimit)
}

func newPumpHandleSize(name string, port io.ReadWriteCloser, inLimit, outLimit int) *pumpHandle {
	h := &pumpHandle{
		port:     port,
		name:     name,
		inLimit:  inLimit,
		outLimit: outLimit,
		flushed:  make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.readPump()
	go h.writePump()
	return h
}

func (h *pumpHandle) readPump() {
	buf := make([]byte, pumpReadSize)
	for {
		h.mu.Lock()
		for !h.closed && h.in.Len() >= h.inLimit {
			h.cond.Wait()
		}
		if h.closed {
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		n, err := h.port.Read(buf)

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return
		}
		if n > 0 {
			h.in.Write(buf[:n])
		}
		if err != nil {
			h.inErr = err
		}
		notify := h.notify
		h.mu.Unlock()

		// A timed out read returns nothing and is simply retried.
		if (n > 0 || err != nil) && notify != nil {
			notify()
		}
		if err != nil {
			return
		}
	}
}

func (h *pumpHandle) writePump() {
	defer close(h.flushed)
	for {
		h.mu.Lock()
		for !h.closed && h.out.Len() == 0 {
			h.cond.Wait()
		}
		// Output accepted before Close is still written.
		if h.out.Len() == 0 {
			h.mu.Unlock()
			return
		}
		chunk := make([]byte, h.out.Len())
		copy(chunk, h.out.Bytes())
		h.out.Reset()
		h.inFlight = len(chunk)
		h.mu.Unlock()

		err := writeAll(h.port, chunk)

		h.mu.Lock()
		h.inFlight = 0
		if err != nil {
			if !h.closed {
				h.outErr = err
			}
			h.out.Reset()
		}
		closed := h.closed
		notify := h.notify
		h.mu.Unlock()

		if notify != nil && !closed {
			notify()
		}
		if err != nil {
			return
		}
	}
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func (h *pumpHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrHandleClosed
	}
	if h.in.Len() > 0 {
		n, _ := h.in.Read(p)
		h.cond.Broadcast()
		return n, nil
	}
	if h.inErr != nil {
		return 0, fmt.Errorf("read %s: %w", h.name, h.inErr)
	}
	return 0, ErrWouldBlock
}

func (h *pumpHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrHandleClosed
	}
	if h.outErr != nil {
		return 0, fmt.Errorf("write %s: %w", h.name, h.outErr)
	}
	space := h.outLimit - h.out.Len() - h.inFlight
	if space <= 0 {
		return 0, ErrWouldBlock
	}
	n := len(p)
	if n > space {
		n = space
	}
	h.out.Write(p[:n])
	h.cond.Broadcast()
	if n < len(p) {
		return n, ErrWouldBlock
	}
	return n, nil
}

// ready reports the readiness the buffers currently allow.
func (h *pumpHandle) ready() eventloop.Interest {
	h.mu.Lock()
	defer h.mu.Unlock()
	var r eventloop.Interest
	if h.closed || h.in.Len() > 0 || h.inErr != nil {
		r |= eventloop.Readable
	}
	if h.closed || h.outErr != nil || h.outLimit-h.out.Len()-h.inFlight > 0 {
		r |= eventloop.Writable
	}
	return r
}

// Close stops both pumps. Output that was already accepted is written in
// the background for up to pumpCloseLinger before the port is closed.
func (h *pumpHandle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.notify = nil
		pending := h.out.Len()+h.inFlight > 0
		h.cond.Broadcast()
		h.mu.Unlock()

		// Closing the port unblocks pumps stuck in Read or Write.
		if !pending {
			h.closeErr = h.port.Close()
			return
		}
		go func() {
			select {
			case <-h.flushed:
			case <-time.After(pumpCloseLinger):
			}
			if err := h.port.Close(); err != nil {
				Logf("serial: close %s: %v", h.name, err)
			}
		}()
	})
	return h.closeErr
}

func (h *pumpHandle) Watch(loop *eventloop.Loop, ready func(eventloop.Interest)) (Watch, error) {
	w := &pumpWatch{h: h, loop: loop, ready: ready}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	h.notify = w.signal
	return w, nil
}

// pumpWatch turns pump notifications into level-triggered readiness
// callbacks. Everything except signal runs on the loop goroutine.
type pumpWatch struct {
	h     *pumpHandle
	loop  *eventloop.Loop
	ready func(eventloop.Interest)

	interest eventloop.Interest
	stopped  bool
	queued   atomic.Bool
}

func (w *pumpWatch) signal() {
	if !w.queued.CompareAndSwap(false, true) {
		return
	}
	if err := w.loop.Schedule(w.kick); err != nil {
		w.queued.Store(false)
	}
}

func (w *pumpWatch) kick() {
	w.queued.Store(false)
	if w.stopped {
		return
	}
	if ev := w.h.ready() & w.interest; ev != eventloop.None {
		w.ready(ev)
	}
	// Re-arm while the condition still holds so that partially consumed
	// input is delivered on a later iteration.
	if !w.stopped && w.h.ready()&w.interest != eventloop.None {
		w.signal()
	}
}

func (w *pumpWatch) SetInterest(i eventloop.Interest) error {
	if w.stopped {
		return eventloop.ErrNotRegistered
	}
	w.interest = i
	if w.h.ready()&i != eventloop.None {
		w.signal()
	}
	return nil
}

func (w *pumpWatch) Interest() eventloop.Interest {
	return w.interest
}

func (w *pumpWatch) Stop() {
	if w.stopped {
		return
	}
	w.stopped = true
	w.h.mu.Lock()
	w.h.notify = nil
	w.h.mu.Unlock()
}
