package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

// OpenConnection opens the device described by cfg and returns a
// goroutine-safe reader and writer for it. The loop must be running on
// another goroutine for the stream methods to make progress.
func OpenConnection(loop *eventloop.Loop, cfg Config, opts ...Option) (*StreamReader, *StreamWriter, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	p := newStreamProtocol(loop, o.streamLimit)
	t, _, err := CreateConnection(loop, func() Protocol { return p }, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return p.reader, newStreamWriter(loop, t, p), nil
}

// NewStreamPair is OpenConnection for an already open handle.
func NewStreamPair(loop *eventloop.Loop, h Handle, opts ...Option) (*StreamReader, *StreamWriter, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	p := newStreamProtocol(loop, o.streamLimit)
	t, err := newTransport(loop, h, p, Config{}, o)
	if err != nil {
		return nil, nil, err
	}
	return p.reader, newStreamWriter(loop, t, p), nil
}

// StreamReader buffers received data for goroutines outside the loop.
//
// Its exported methods must not be called from the loop goroutine. A call
// whose context is cancelled returns ctx.Err() and leaves buffered data in
// place.
type StreamReader struct {
	loop  *eventloop.Loop
	limit int

	// Loop goroutine only.
	transport *Transport
	buf       []byte
	eof       bool
	err       error
	paused    bool
	waiter    *eventloop.Future[struct{}]
}

func newStreamReader(loop *eventloop.Loop, limit int) *StreamReader {
	return &StreamReader{loop: loop, limit: limit}
}

// Limit returns the buffer limit.
func (r *StreamReader) Limit() int { return r.limit }

func (r *StreamReader) feedData(data []byte) {
	if len(data) == 0 {
		return
	}
	r.buf = append(r.buf, data...)
	r.wakeup()

	if r.transport != nil && !r.paused && len(r.buf) > 2*r.limit {
		r.paused = true
		r.transport.PauseReading()
	}
}

func (r *StreamReader) feedEOF() {
	r.eof = true
	r.wakeup()
}

func (r *StreamReader) setError(err error) {
	r.err = err
	r.wakeup()
}

func (r *StreamReader) wakeup() {
	if r.waiter != nil {
		r.waiter.Resolve(struct{}{})
		r.waiter = nil
	}
}

// waitForData returns the future resolved on the next buffer change.
// A reader blocked on more data than the pause threshold resumes the
// transport so that it can make progress.
func (r *StreamReader) waitForData() *eventloop.Future[struct{}] {
	if r.paused {
		r.paused = false
		r.transport.ResumeReading()
	}
	if r.waiter == nil {
		r.waiter = eventloop.NewFuture[struct{}]()
	}
	return r.waiter
}

func (r *StreamReader) take(n int) []byte {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	if len(r.buf) == 0 {
		r.buf = nil
	}

	if r.paused && len(r.buf) <= r.limit {
		r.paused = false
		r.transport.ResumeReading()
	}
	return out
}

// await runs step on the loop until it reports completion, parking on the
// reader's waiter in between.
func (r *StreamReader) await(ctx context.Context, step func() bool) error {
	for {
		var (
			done bool
			wait *eventloop.Future[struct{}]
		)
		err := r.loop.Call(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			if step() {
				done = true
				return
			}
			wait = r.waitForData()
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if wait == nil {
			return ctx.Err()
		}
		if _, err := wait.Wait(ctx); err != nil {
			return err
		}
	}
}

// Read returns up to n bytes, waiting until at least one is available.
// After a clean close it returns an empty slice and a nil error. After the
// connection is lost to an error, buffered bytes are returned first and then
// a *ConnectionClosedError. A negative n reads until the stream ends.
func (r *StreamReader) Read(ctx context.Context, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if n < 0 {
		return r.readAll(ctx)
	}

	var (
		out  []byte
		rerr error
	)
	err := r.await(ctx, func() bool {
		switch {
		case len(r.buf) > 0:
			out = r.take(n)
		case r.err != nil:
			rerr = &ConnectionClosedError{Err: r.err}
		case r.eof:
			out = []byte{}
		default:
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (r *StreamReader) readAll(ctx context.Context) ([]byte, error) {
	out := []byte{}
	var rerr error
	err := r.await(ctx, func() bool {
		out = append(out, r.take(len(r.buf))...)
		if r.err != nil {
			rerr = &ConnectionClosedError{Err: r.err}
			return true
		}
		return r.eof
	})
	if err != nil {
		return out, err
	}
	return out, rerr
}

// ReadExactly returns exactly n bytes. If the stream ends first the bytes
// received so far are consumed and returned inside an *IncompleteReadError.
func (r *StreamReader) ReadExactly(ctx context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("serial: read length must not be negative, got %d", n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	var (
		out  []byte
		rerr error
	)
	err := r.await(ctx, func() bool {
		switch {
		case len(r.buf) >= n:
			out = r.take(n)
		case r.err != nil:
			rerr = &ConnectionClosedError{Err: r.err}
		case r.eof:
			rerr = &IncompleteReadError{Partial: r.take(len(r.buf)), Expected: n}
		default:
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

// ReadUntil returns data up to and including sep. If sep is not found within
// the buffer limit a *LimitOverrunError is returned and the data stays
// buffered. If the stream ends first the remaining bytes are consumed and
// returned inside an *IncompleteReadError.
func (r *StreamReader) ReadUntil(ctx context.Context, sep []byte) ([]byte, error) {
	if len(sep) == 0 {
		return nil, errors.New("serial: separator must not be empty")
	}

	var (
		out  []byte
		rerr error
	)
	err := r.await(ctx, func() bool {
		if i := bytes.Index(r.buf, sep); i >= 0 {
			if end := i + len(sep); end <= r.limit {
				out = r.take(end)
			} else {
				rerr = &LimitOverrunError{Consumed: i}
			}
			return true
		}
		switch {
		case len(r.buf) > r.limit:
			rerr = &LimitOverrunError{Consumed: len(r.buf)}
		case r.err != nil:
			rerr = &ConnectionClosedError{Err: r.err}
		case r.eof:
			rerr = &IncompleteReadError{Partial: r.take(len(r.buf)), Expected: -1}
		default:
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

// ReadLine reads up to and including the next '\n'. At the end of the
// stream it returns whatever is left, which is empty once drained.
func (r *StreamReader) ReadLine(ctx context.Context) ([]byte, error) {
	line, err := r.ReadUntil(ctx, []byte{'\n'})
	var incomplete *IncompleteReadError
	if errors.As(err, &incomplete) {
		return incomplete.Partial, nil
	}
	return line, err
}

// AtEOF reports whether the stream ended cleanly and every byte was read.
func (r *StreamReader) AtEOF(ctx context.Context) (bool, error) {
	var eof bool
	if err := r.loop.Call(ctx, func() {
		eof = r.eof && len(r.buf) == 0
	}); err != nil {
		return false, err
	}
	return eof, nil
}

// streamProtocol connects a Transport to a StreamReader and tracks write
// flow control for StreamWriter.Drain.
type streamProtocol struct {
	reader    *StreamReader
	transport *Transport

	paused  bool
	drains  []*eventloop.Future[struct{}]
	lost    bool
	lostErr error
	closed  *eventloop.Future[struct{}]
}

func newStreamProtocol(loop *eventloop.Loop, limit int) *streamProtocol {
	return &streamProtocol{
		reader: newStreamReader(loop, limit),
		closed: eventloop.NewFuture[struct{}](),
	}
}

func (p *streamProtocol) ConnectionMade(t *Transport) {
	p.transport = t
	p.reader.transport = t
}

func (p *streamProtocol) DataReceived(data []byte) {
	p.reader.feedData(data)
}

func (p *streamProtocol) ConnectionLost(err error) {
	p.lost = true
	p.lostErr = err
	if err == nil {
		p.reader.feedEOF()
	} else {
		p.reader.setError(err)
	}

	for _, f := range p.drains {
		f.Reject(&ConnectionClosedError{Err: err})
	}
	p.drains = nil

	if err == nil {
		p.closed.Resolve(struct{}{})
	} else {
		p.closed.Reject(err)
	}
}

func (p *streamProtocol) PauseWriting() {
	p.paused = true
}

func (p *streamProtocol) ResumeWriting() {
	p.paused = false
	for _, f := range p.drains {
		f.Resolve(struct{}{})
	}
	p.drains = nil
}

// StreamWriter writes to a Transport from goroutines outside the loop. Its
// methods must not be called from the loop goroutine.
type StreamWriter struct {
	loop      *eventloop.Loop
	transport *Transport
	protocol  *streamProtocol
}

func newStreamWriter(loop *eventloop.Loop, t *Transport, p *streamProtocol) *StreamWriter {
	return &StreamWriter{loop: loop, transport: t, protocol: p}
}

// Transport returns the underlying transport. Its methods may only be used
// on the loop goroutine.
func (w *StreamWriter) Transport() *Transport { return w.transport }

// Write queues p on the transport. It does not wait for the device; use
// Drain for flow control.
func (w *StreamWriter) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext is Write with a context bounding the hop onto the loop.
func (w *StreamWriter) WriteContext(ctx context.Context, p []byte) (int, error) {
	data := append([]byte(nil), p...)
	var werr error
	if err := w.loop.Call(ctx, func() {
		werr = w.transport.Write(data)
	}); err != nil {
		return 0, err
	}
	if werr != nil {
		return 0, werr
	}
	return len(p), nil
}

// Drain waits until the transport's write queue is below its high-water
// mark. It returns a *ConnectionClosedError once the connection is lost.
func (w *StreamWriter) Drain(ctx context.Context) error {
	var (
		wait *eventloop.Future[struct{}]
		derr error
	)
	if err := w.loop.Call(ctx, func() {
		switch {
		case w.protocol.lost:
			derr = &ConnectionClosedError{Err: w.protocol.lostErr}
		case w.protocol.paused:
			wait = eventloop.NewFuture[struct{}]()
			w.protocol.drains = append(w.protocol.drains, wait)
		}
	}); err != nil {
		return err
	}
	if derr != nil || wait == nil {
		return derr
	}
	_, err := wait.Wait(ctx)
	return err
}

// Close closes the transport after queued data is flushed.
func (w *StreamWriter) Close() error {
	return w.loop.Call(context.Background(), func() {
		w.transport.Close()
	})
}

// Abort closes the transport and discards queued data.
func (w *StreamWriter) Abort() error {
	return w.loop.Call(context.Background(), w.transport.Abort)
}

// WaitClosed waits for the connection to be lost and returns its cause,
// nil for a deliberate close.
func (w *StreamWriter) WaitClosed(ctx context.Context) error {
	_, err := w.protocol.closed.Wait(ctx)
	return err
}
