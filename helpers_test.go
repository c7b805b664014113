package serial

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

const testTimeout = 2 * time.Second

func init() {
	SetLogger(nil)
}

// startLoop runs a fresh loop on its own goroutine for the duration of t.
func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- loop.RunForever() }()
	t.Cleanup(func() {
		loop.Stop()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("loop did not stop")
		}
		loop.Close()
	})
	return loop
}

// onLoop runs fn on the loop goroutine and waits for it.
func onLoop(t *testing.T, loop *eventloop.Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, loop.Call(ctx, fn))
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for %s", what)
	}
}

// recordingProtocol records the callbacks it receives. Its fields are only
// touched on the loop goroutine; read them through snapshot.
type recordingProtocol struct {
	transport *Transport
	actions   []string
	received  []byte
	lostErr   error
	lostCount int

	made chan struct{}
	lost chan struct{}

	onMade func(t *Transport)
	onData func(t *Transport, received []byte)
}

func newRecordingProtocol() *recordingProtocol {
	return &recordingProtocol{
		made: make(chan struct{}),
		lost: make(chan struct{}),
	}
}

func (p *recordingProtocol) ConnectionMade(t *Transport) {
	p.transport = t
	p.actions = append(p.actions, "made")
	close(p.made)
	if p.onMade != nil {
		p.onMade(t)
	}
}

func (p *recordingProtocol) DataReceived(data []byte) {
	p.received = append(p.received, data...)
	if p.onData != nil {
		p.onData(p.transport, p.received)
	}
}

func (p *recordingProtocol) ConnectionLost(err error) {
	p.actions = append(p.actions, "lost")
	p.lostErr = err
	p.lostCount++
	if p.lostCount == 1 {
		close(p.lost)
	}
}

func (p *recordingProtocol) PauseWriting() {
	p.actions = append(p.actions, "pause")
}

func (p *recordingProtocol) ResumeWriting() {
	p.actions = append(p.actions, "resume")
}

type protocolSnapshot struct {
	actions   []string
	received  string
	lostErr   error
	lostCount int
}

func (p *recordingProtocol) snapshot(t *testing.T, loop *eventloop.Loop) protocolSnapshot {
	t.Helper()
	var s protocolSnapshot
	onLoop(t, loop, func() {
		s = protocolSnapshot{
			actions:   append([]string(nil), p.actions...),
			received:  string(p.received),
			lostErr:   p.lostErr,
			lostCount: p.lostCount,
		}
	})
	return s
}

// gatedPort is a blocking port whose writes stall until open is called.
// Reads block until the port is closed.
type gatedPort struct {
	gate      chan struct{}
	gateOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written bytes.Buffer
}

func newGatedPort() *gatedPort {
	return &gatedPort{
		gate:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (g *gatedPort) open() {
	g.gateOnce.Do(func() { close(g.gate) })
}

func (g *gatedPort) Read(p []byte) (int, error) {
	<-g.closed
	return 0, io.EOF
}

func (g *gatedPort) Write(p []byte) (int, error) {
	select {
	case <-g.gate:
	case <-g.closed:
		return 0, io.ErrClosedPipe
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.written.Write(p)
}

func (g *gatedPort) Close() error {
	g.closeOnce.Do(func() { close(g.closed) })
	return nil
}

func (g *gatedPort) writtenLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.written.Len()
}

// scriptedPort returns its chunks one per read, then err. A nil err blocks
// until the port is closed.
type scriptedPort struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed chan struct{}
	once   sync.Once
}

func newScriptedPort(err error, chunks ...string) *scriptedPort {
	p := &scriptedPort{err: err, closed: make(chan struct{})}
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
	return p
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		p.chunks = p.chunks[1:]
		p.mu.Unlock()
		return n, nil
	}
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	<-p.closed
	return 0, io.EOF
}

func (p *scriptedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *scriptedPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
