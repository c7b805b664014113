package serial

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

const (
	// maxReadSize bounds the bytes read per readable event.
	maxReadSize = 1024

	DefaultWriteHighWater = 64 * 1024
	DefaultWriteLowWater  = DefaultWriteHighWater / 4
	DefaultStreamLimit    = 64 * 1024
)

// State is the lifecycle state of a Transport.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type options struct {
	high        int
	low         int
	streamLimit int
}

// Option configures a Transport or stream pair.
type Option func(*options) error

// WithWriteBufferLimits sets the flow control marks. PauseWriting fires when
// the queue grows above high, ResumeWriting when it drains to low or below.
func WithWriteBufferLimits(high, low int) Option {
	return func(o *options) error {
		if err := checkLimits(high, low); err != nil {
			return err
		}
		o.high, o.low = high, low
		return nil
	}
}

// WithStreamLimit sets the StreamReader buffer limit used for backpressure
// and ReadUntil.
func WithStreamLimit(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return &InvalidConfigError{Field: "stream limit", Value: n, Reason: "must be positive"}
		}
		o.streamLimit = n
		return nil
	}
}

func checkLimits(high, low int) error {
	if low < 0 {
		return &InvalidConfigError{Field: "low-water mark", Value: low, Reason: "must not be negative"}
	}
	if high <= low {
		return &InvalidConfigError{Field: "high-water mark", Value: high, Reason: fmt.Sprintf("must be greater than the low-water mark %d", low)}
	}
	return nil
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		high:        DefaultWriteHighWater,
		low:         DefaultWriteLowWater,
		streamLimit: DefaultStreamLimit,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// Transport drives one Handle from readiness events and delivers its data to
// a Protocol.
//
// Apart from construction, every method must be called on the loop
// goroutine: from Protocol callbacks or from functions passed to
// Loop.Schedule. Use the stream facade for goroutine-safe access.
type Transport struct {
	id       string
	loop     *eventloop.Loop
	handle   Handle
	watch    Watch
	cfg      Config
	protocol Protocol

	state          State
	queue          writeQueue
	paused         bool
	high, low      int
	reading        bool
	closeRequested bool
	abortRequested bool
	lostScheduled  bool

	readBuf [maxReadSize]byte
}

// CreateConnection opens the device described by cfg, binds it to the
// protocol returned by factory and registers it with loop. ConnectionMade
// runs on the loop shortly after.
func CreateConnection(loop *eventloop.Loop, factory func() Protocol, cfg Config, opts ...Option) (*Transport, Protocol, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, nil, err
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, nil, err
	}

	h, err := OpenDevice(cfg)
	if err != nil {
		return nil, nil, err
	}
	p := factory()
	t, err := newTransport(loop, h, p, cfg, o)
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	return t, p, nil
}

// NewTransport binds an already open handle to p. The transport takes
// ownership of h.
func NewTransport(loop *eventloop.Loop, h Handle, p Protocol, opts ...Option) (*Transport, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newTransport(loop, h, p, Config{}, o)
}

func newTransport(loop *eventloop.Loop, h Handle, p Protocol, cfg Config, o options) (*Transport, error) {
	t := &Transport{
		id:       uuid.NewString(),
		loop:     loop,
		handle:   h,
		cfg:      cfg,
		protocol: p,
		high:     o.high,
		low:      o.low,
		reading:  true,
	}

	w, err := h.Watch(loop, t.onReady)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", t.name(), err)
	}
	t.watch = w
	if err := loop.Schedule(t.start); err != nil {
		w.Stop()
		return nil, err
	}
	Logf("serial: %s connecting to %s", t.id, t.name())
	return t, nil
}

func (t *Transport) name() string {
	if t.cfg.Path != "" {
		return t.cfg.Path
	}
	return "handle"
}

// start completes CONNECTING -> OPEN on the loop goroutine.
func (t *Transport) start() {
	if t.state != StateConnecting {
		return
	}
	t.state = StateOpen
	t.protocol.ConnectionMade(t)

	switch {
	case t.abortRequested:
		t.abort(nil)
	case t.closeRequested:
		t.Close()
	default:
		// Writes made while connecting may already exceed the high mark.
		t.maybePauseProtocol()
		t.updateInterest()
	}
}

func (t *Transport) updateInterest() {
	if t.lostScheduled || t.state == StateClosed {
		return
	}
	var want eventloop.Interest
	if t.reading && t.state == StateOpen {
		want |= eventloop.Readable
	}
	if !t.queue.empty() {
		want |= eventloop.Writable
	}
	if err := t.watch.SetInterest(want); err != nil {
		Logf("serial: %s failed to update readiness: %v", t.id, err)
	}
}

func (t *Transport) onReady(ev eventloop.Interest) {
	if ev&eventloop.Readable != 0 {
		t.readReady()
	}
	if ev&eventloop.Writable != 0 {
		t.writeReady()
	}
}

func (t *Transport) readReady() {
	if t.state != StateOpen || !t.reading {
		return
	}
	n, err := t.handle.Read(t.readBuf[:])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return
		}
		t.fatalError(err)
		return
	}
	// Serial lines have no end of stream; nothing read means nothing to do.
	if n == 0 {
		return
	}
	data := make([]byte, n)
	copy(data, t.readBuf[:n])
	t.protocol.DataReceived(data)
}

func (t *Transport) writeReady() {
	if t.lostScheduled || t.state == StateClosed || t.state == StateConnecting {
		return
	}
	for !t.queue.empty() {
		n, err := t.handle.Write(t.queue.front())
		t.queue.consume(n)
		if n == 0 && err == nil {
			// No progress; wait for the next writable event.
			break
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				break
			}
			t.fatalError(err)
			return
		}
	}

	t.maybeResumeProtocol()
	if t.queue.empty() && t.state == StateClosing {
		t.scheduleConnectionLost(nil)
		return
	}
	t.updateInterest()
}

// Write queues p for transmission and never blocks. A copy of p is kept.
// Writing to a closing or closed transport returns ErrTransportClosed; I/O
// errors close the transport and are reported through ConnectionLost.
func (t *Transport) Write(p []byte) error {
	if t.state == StateClosing || t.state == StateClosed {
		return ErrTransportClosed
	}
	if len(p) == 0 {
		return nil
	}

	if t.queue.empty() && t.state == StateOpen {
		n, err := t.handle.Write(p)
		if err != nil && !errors.Is(err, ErrWouldBlock) {
			t.fatalError(err)
			return nil
		}
		p = p[n:]
		if len(p) == 0 {
			return nil
		}
	}

	t.queue.push(p)
	t.updateInterest()
	t.maybePauseProtocol()
	return nil
}

func (t *Transport) maybePauseProtocol() {
	if t.paused || t.state != StateOpen || t.queue.len() <= t.high {
		return
	}
	t.paused = true
	t.protocol.PauseWriting()
}

func (t *Transport) maybeResumeProtocol() {
	if !t.paused || t.state != StateOpen || t.queue.len() > t.low {
		return
	}
	t.paused = false
	t.protocol.ResumeWriting()
}

// Close stops reading, flushes queued data best effort and then releases the
// device. ConnectionLost(nil) follows once. Further calls do nothing.
func (t *Transport) Close() error {
	switch t.state {
	case StateClosing, StateClosed:
		return nil
	case StateConnecting:
		t.closeRequested = true
		return nil
	}
	t.state = StateClosing
	if t.queue.empty() {
		t.scheduleConnectionLost(nil)
		return nil
	}
	t.updateInterest()
	return nil
}

// Abort closes the transport immediately, discarding queued data.
func (t *Transport) Abort() {
	if t.state == StateConnecting {
		t.abortRequested = true
		return
	}
	t.abort(nil)
}

func (t *Transport) fatalError(err error) {
	Logf("serial: %s fatal error on %s: %v", t.id, t.name(), err)
	t.abort(err)
}

func (t *Transport) abort(err error) {
	if t.lostScheduled || t.state == StateClosed {
		return
	}
	t.state = StateClosing
	t.queue.reset()
	t.scheduleConnectionLost(err)
}

func (t *Transport) scheduleConnectionLost(err error) {
	if t.lostScheduled {
		return
	}
	t.lostScheduled = true
	if serr := t.watch.SetInterest(eventloop.None); serr != nil {
		Logf("serial: %s failed to clear readiness: %v", t.id, serr)
	}
	// ConnectionLost always runs from its own loop task, never from inside
	// the caller's callback.
	if serr := t.loop.Schedule(func() { t.connectionLost(err) }); serr != nil {
		t.connectionLost(err)
	}
}

func (t *Transport) connectionLost(err error) {
	if t.state == StateClosed {
		return
	}
	t.watch.Stop()
	if cerr := t.handle.Close(); cerr != nil {
		Logf("serial: %s close %s: %v", t.id, t.name(), cerr)
	}
	t.state = StateClosed
	t.queue.reset()

	p := t.protocol
	t.protocol = nil
	if err != nil {
		Logf("serial: %s connection to %s lost: %v", t.id, t.name(), err)
	} else {
		Logf("serial: %s closed %s", t.id, t.name())
	}
	if p != nil {
		p.ConnectionLost(err)
	}
}

// PauseReading stops DataReceived callbacks until ResumeReading.
func (t *Transport) PauseReading() {
	if !t.reading || t.state == StateClosing || t.state == StateClosed {
		return
	}
	t.reading = false
	t.updateInterest()
}

// ResumeReading re-enables DataReceived callbacks.
func (t *Transport) ResumeReading() {
	if t.reading || t.state == StateClosing || t.state == StateClosed {
		return
	}
	t.reading = true
	t.updateInterest()
}

// IsReading reports whether the transport is delivering received data.
func (t *Transport) IsReading() bool {
	return t.reading && (t.state == StateOpen || t.state == StateConnecting)
}

// IsClosing reports whether Close or Abort has been called or the
// connection was lost.
func (t *Transport) IsClosing() bool {
	return t.closeRequested || t.abortRequested || t.state == StateClosing || t.state == StateClosed
}

// WriteBufferSize returns the number of queued bytes.
func (t *Transport) WriteBufferSize() int { return t.queue.len() }

// WriteBufferLimits returns the high and low water marks.
func (t *Transport) WriteBufferLimits() (high, low int) { return t.high, t.low }

// SetWriteBufferLimits changes the flow control marks and pauses the
// protocol right away if the queue is already above the new high mark.
func (t *Transport) SetWriteBufferLimits(high, low int) error {
	if err := checkLimits(high, low); err != nil {
		return err
	}
	t.high, t.low = high, low
	t.maybePauseProtocol()
	return nil
}

// State returns the lifecycle state.
func (t *Transport) State() State { return t.state }

// ID returns the identifier used in log lines.
func (t *Transport) ID() string { return t.id }

// Loop returns the loop the transport is registered with.
func (t *Transport) Loop() *eventloop.Loop { return t.loop }

// Config returns the normalized configuration. It is the zero Config for
// transports built with NewTransport.
func (t *Transport) Config() Config { return t.cfg }

// Protocol returns the bound protocol, or nil after ConnectionLost.
func (t *Transport) Protocol() Protocol { return t.protocol }

// SetProtocol rebinds the transport to p. It has no effect once closed.
func (t *Transport) SetProtocol(p Protocol) {
	if t.state == StateClosed {
		return
	}
	t.protocol = p
}

func (t *Transport) String() string {
	return fmt.Sprintf("serial.Transport(%s %s %s)", t.id, t.name(), t.state)
}
