package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future is a single-shot result. It is resolved at most once; later
// Resolve and Reject calls report false and change nothing.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with v.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	ok := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed once the future is resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Resolved reports whether the future has completed.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future[T]) Result() (T, error) {
	return f.val, f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// RunUntilComplete runs l until f completes and returns its outcome. If the
// loop is stopped some other way first, ErrStopped is returned.
func RunUntilComplete[T any](l *Loop, f *Future[T]) (T, error) {
	// The stop request goes through the task queue and only takes effect
	// while this call is still running the loop, so a late completion
	// cannot leave a stop pending for the next Run.
	var active atomic.Bool
	active.Store(true)
	stopper := make(chan struct{})
	defer close(stopper)
	go func() {
		select {
		case <-f.Done():
			l.Schedule(func() {
				if active.Load() {
					l.Stop()
				}
			})
		case <-stopper:
		}
	}()

	err := l.RunForever()
	active.Store(false)
	if err != nil {
		var zero T
		return zero, err
	}
	if !f.Resolved() {
		var zero T
		return zero, ErrStopped
	}
	return f.Result()
}
