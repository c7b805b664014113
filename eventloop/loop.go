// Package eventloop is a small single-goroutine scheduler with descriptor
// readiness notifications.
//
// Every callback handed to a Loop (scheduled tasks and readiness callbacks)
// runs on the goroutine that called Run, one at a time. State that is only
// touched from those callbacks needs no locking. Schedule, Call and Stop are
// safe to use from any goroutine.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned when using a Loop after Close.
	ErrClosed = errors.New("eventloop: loop is closed")
	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("eventloop: loop is already running")
	// ErrUnsupported is returned by Register on platforms without descriptor polling.
	ErrUnsupported = errors.New("eventloop: descriptor readiness not supported on this platform")
	// ErrNotRegistered is returned when modifying a registration that is gone.
	ErrNotRegistered = errors.New("eventloop: descriptor not registered")
	// ErrStopped is returned by RunUntilComplete when the loop stops before the future resolves.
	ErrStopped = errors.New("eventloop: loop stopped before future completed")
)

// Interest is a set of readiness conditions.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable

	None Interest = 0
)

func (i Interest) String() string {
	switch i {
	case None:
		return "none"
	case Readable:
		return "r"
	case Writable:
		return "w"
	case Readable | Writable:
		return "rw"
	}
	return "invalid"
}

// Loop runs scheduled tasks and dispatches readiness events.
type Loop struct {
	poller poller

	mu      sync.Mutex
	pending []func()
	regs    map[int]*Registration
	stop    bool
	closed  bool

	running atomic.Bool
}

// Registration ties a descriptor to a readiness callback.
type Registration struct {
	loop     *Loop
	fd       int
	interest Interest
	cb       func(Interest)
	removed  bool
}

// New creates a Loop. The caller must Close it when done.
func New() (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Loop{
		poller: p,
		regs:   make(map[int]*Registration),
	}, nil
}

// Schedule queues fn to run on the loop goroutine.
func (l *Loop) Schedule(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.poller.wakeup()
	return nil
}

const (
	callPending int32 = iota
	callStarted
	callAbandoned
)

// Call runs fn on the loop goroutine and waits for it to return.
// It must not be called from the loop goroutine itself.
//
// If ctx is done before fn starts, fn is skipped and ctx.Err() is returned.
// Once fn has started, Call waits for it and returns nil.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	var state atomic.Int32
	done := make(chan struct{})
	if err := l.Schedule(func() {
		if !state.CompareAndSwap(callPending, callStarted) {
			return
		}
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(callPending, callAbandoned) {
			return ctx.Err()
		}
		<-done
		return nil
	}
}

// Register starts watching fd for the given interest. cb runs on the loop
// goroutine with the subset of interest that is ready.
func (l *Loop) Register(fd int, interest Interest, cb func(Interest)) (*Registration, error) {
	if !l.poller.supportsFD() {
		return nil, ErrUnsupported
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if old, ok := l.regs[fd]; ok {
		old.removed = true
	}
	r := &Registration{loop: l, fd: fd, interest: interest, cb: cb}
	l.regs[fd] = r
	l.mu.Unlock()
	l.poller.wakeup()
	return r, nil
}

// Unregister stops watching fd. Unknown descriptors are ignored.
func (l *Loop) Unregister(fd int) {
	l.mu.Lock()
	if r, ok := l.regs[fd]; ok {
		r.removed = true
		delete(l.regs, fd)
	}
	l.mu.Unlock()
	l.poller.wakeup()
}

// Fd returns the registered descriptor.
func (r *Registration) Fd() int { return r.fd }

// Interest returns the current interest set.
func (r *Registration) Interest() Interest {
	r.loop.mu.Lock()
	defer r.loop.mu.Unlock()
	return r.interest
}

// Modify replaces the interest set.
func (r *Registration) Modify(interest Interest) error {
	r.loop.mu.Lock()
	if r.removed {
		r.loop.mu.Unlock()
		return ErrNotRegistered
	}
	changed := r.interest != interest
	r.interest = interest
	r.loop.mu.Unlock()
	if changed {
		r.loop.poller.wakeup()
	}
	return nil
}

// Unregister removes the registration. Calling it twice is a no-op.
func (r *Registration) Unregister() {
	r.loop.mu.Lock()
	if r.removed {
		r.loop.mu.Unlock()
		return
	}
	r.removed = true
	if cur, ok := r.loop.regs[r.fd]; ok && cur == r {
		delete(r.loop.regs, r.fd)
	}
	r.loop.mu.Unlock()
	r.loop.poller.wakeup()
}

// Stop makes Run return after the current iteration. Stopping a loop that is
// not running makes the next Run return after one iteration.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stop = true
	l.mu.Unlock()
	l.poller.wakeup()
}

// Running reports whether Run is executing.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// RunForever runs the loop until Stop is called.
func (l *Loop) RunForever() error {
	return l.Run(context.Background())
}

// Run processes tasks and readiness events until Stop is called or ctx is
// done. It returns ctx.Err() in the latter case.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	unhook := context.AfterFunc(ctx, func() {
		l.Stop()
	})
	defer unhook()

	for {
		l.mu.Lock()
		tasks := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}

		l.mu.Lock()
		if l.stop {
			l.stop = false
			l.mu.Unlock()
			break
		}
		block := len(l.pending) == 0
		reqs := make([]pollRequest, 0, len(l.regs))
		for fd, r := range l.regs {
			if r.interest != None {
				reqs = append(reqs, pollRequest{fd: fd, interest: r.interest})
			}
		}
		l.mu.Unlock()

		events, err := l.poller.wait(reqs, block)
		if err != nil {
			return err
		}
		for _, ev := range events {
			l.dispatch(ev)
		}
	}

	return ctx.Err()
}

func (l *Loop) dispatch(ev pollEvent) {
	l.mu.Lock()
	r, ok := l.regs[ev.fd]
	if !ok || r.removed {
		l.mu.Unlock()
		return
	}
	ready := ev.ready & r.interest
	cb := r.cb
	l.mu.Unlock()

	if ready != None {
		cb(ready)
	}
}

// Close releases the loop's resources. Pending tasks are dropped. The loop
// must not be running.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.pending = nil
	for fd, r := range l.regs {
		r.removed = true
		delete(l.regs, fd)
	}
	l.mu.Unlock()
	return l.poller.close()
}

type pollRequest struct {
	fd       int
	interest Interest
}

type pollEvent struct {
	fd    int
	ready Interest
}

// poller waits for descriptor readiness or an explicit wakeup.
type poller interface {
	supportsFD() bool
	// wait blocks until an event or a wakeup when block is true, otherwise
	// it only collects events that are already pending.
	wait(reqs []pollRequest, block bool) ([]pollEvent, error)
	wakeup()
	close() error
}
