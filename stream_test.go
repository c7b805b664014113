package serial

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestOpenConnection_LoopbackRoundTrip(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)

	r, w, err := OpenConnection(loop, Config{Path: "loop://"})
	require.NoError(t, err)

	n, err := w.Write([]byte("ping\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	line, err := r.ReadLine(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping\n", string(line))

	require.NoError(t, w.Close())
	require.NoError(t, w.WaitClosed(ctx))

	data, err := r.Read(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, data)

	eof, err := r.AtEOF(ctx)
	require.NoError(t, err)
	require.True(t, eof)
}

func TestStreamReader_ErrorCloseDeliversBufferedFirst(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	boom := errors.New("line dropped")

	r, w, err := NewStreamPair(loop, newPumpHandle("scripted", newScriptedPort(boom, "data")))
	require.NoError(t, err)

	var got []byte
	for len(got) < 4 {
		chunk, err := r.Read(ctx, 100)
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	require.Equal(t, "data", string(got))

	_, err = r.Read(ctx, 100)
	var closedErr *ConnectionClosedError
	require.ErrorAs(t, err, &closedErr)
	require.ErrorIs(t, err, boom)

	require.ErrorIs(t, w.WaitClosed(ctx), boom)
}

func TestStreamReader_ReadWaitsForData(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	r := newStreamReader(loop, DefaultStreamLimit)

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 1)
	go func() {
		data, err := r.Read(ctx, 10)
		results <- result{data, err}
	}()

	select {
	case <-results:
		t.Fatal("read returned before data arrived")
	case <-time.After(50 * time.Millisecond):
	}

	onLoop(t, loop, func() { r.feedData([]byte("x")) })
	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.Equal(t, "x", string(res.data))
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for read")
	}
}

func TestStreamReader_ReadHonoursContext(t *testing.T) {
	loop := startLoop(t)
	r := newStreamReader(loop, DefaultStreamLimit)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Read(ctx, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamReader_ReadExactly(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	r := newStreamReader(loop, DefaultStreamLimit)

	onLoop(t, loop, func() { r.feedData([]byte("abcdef")) })
	data, err := r.ReadExactly(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(data))

	onLoop(t, loop, r.feedEOF)
	_, err = r.ReadExactly(ctx, 5)
	var incomplete *IncompleteReadError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, "ef", string(incomplete.Partial))
	require.Equal(t, 5, incomplete.Expected)
}

func TestStreamReader_ReadUntil(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	r := newStreamReader(loop, 8)

	onLoop(t, loop, func() { r.feedData([]byte("ab\r\ncd")) })
	data, err := r.ReadUntil(ctx, []byte("\r\n"))
	require.NoError(t, err)
	require.Equal(t, "ab\r\n", string(data))

	onLoop(t, loop, func() { r.feedData([]byte("efghijk")) })
	_, err = r.ReadUntil(ctx, []byte("\r\n"))
	var overrun *LimitOverrunError
	require.ErrorAs(t, err, &overrun)

	// The data stays buffered after an overrun.
	data, err = r.Read(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "cdefghijk", string(data))

	_, err = r.ReadUntil(ctx, nil)
	require.Error(t, err)
}

func TestStreamReader_ReadLineAtEOF(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	r := newStreamReader(loop, DefaultStreamLimit)

	onLoop(t, loop, func() {
		r.feedData([]byte("one\ntwo"))
		r.feedEOF()
	})

	line, err := r.ReadLine(ctx)
	require.NoError(t, err)
	require.Equal(t, "one\n", string(line))

	line, err = r.ReadLine(ctx)
	require.NoError(t, err)
	require.Equal(t, "two", string(line))

	line, err = r.ReadLine(ctx)
	require.NoError(t, err)
	require.Empty(t, line)
}

func TestStreamReader_ReadAllUntilEOF(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	r := newStreamReader(loop, DefaultStreamLimit)

	onLoop(t, loop, func() { r.feedData([]byte("first ")) })
	go func() {
		time.Sleep(20 * time.Millisecond)
		loop.Schedule(func() {
			r.feedData([]byte("second"))
			r.feedEOF()
		})
	}()

	data, err := r.Read(ctx, -1)
	require.NoError(t, err)
	require.Equal(t, "first second", string(data))
}

func TestStreamReader_BackpressurePausesTransport(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)

	r, w, err := OpenConnection(loop, Config{Path: "loop://"}, WithStreamLimit(4))
	require.NoError(t, err)
	tr := w.Transport()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	// More than twice the limit is buffered, so reading pauses.
	require.Eventually(t, func() bool {
		var reading bool
		onLoop(t, loop, func() { reading = tr.IsReading() })
		return !reading
	}, testTimeout, 10*time.Millisecond)

	data, err := r.ReadExactly(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))

	var reading bool
	onLoop(t, loop, func() { reading = tr.IsReading() })
	require.True(t, reading)

	require.NoError(t, w.Close())
	require.NoError(t, w.WaitClosed(ctx))
}

func TestStreamWriter_DrainReleasedOnResume(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	port := newGatedPort()

	_, w, err := NewStreamPair(loop, newPumpHandleSize("gated", port, 1024, 16), WithWriteBufferLimits(64, 16))
	require.NoError(t, err)

	// Not paused yet: drain returns straight away.
	require.NoError(t, w.Drain(ctx))

	_, err = w.Write(bytes.Repeat([]byte("d"), 100))
	require.NoError(t, err)

	drained := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { drained <- w.Drain(ctx) }()
	}
	waitDrainers(t, loop, w, 2)

	select {
	case <-drained:
		t.Fatal("drain returned while writing was paused")
	case <-time.After(50 * time.Millisecond):
	}

	port.open()
	for i := 0; i < 2; i++ {
		select {
		case err := <-drained:
			require.NoError(t, err)
		case <-time.After(testTimeout):
			t.Fatal("timeout waiting for drain")
		}
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.WaitClosed(ctx))
}

func TestStreamWriter_DrainFailsWhenConnectionLost(t *testing.T) {
	loop := startLoop(t)
	ctx := testContext(t)
	port := newGatedPort()
	t.Cleanup(func() { port.Close() })

	_, w, err := NewStreamPair(loop, newPumpHandleSize("gated", port, 1024, 16), WithWriteBufferLimits(64, 16))
	require.NoError(t, err)

	_, err = w.Write(bytes.Repeat([]byte("d"), 100))
	require.NoError(t, err)

	drained := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { drained <- w.Drain(ctx) }()
	}
	waitDrainers(t, loop, w, 2)

	require.NoError(t, w.Abort())
	for i := 0; i < 2; i++ {
		select {
		case err := <-drained:
			var closedErr *ConnectionClosedError
			require.ErrorAs(t, err, &closedErr)
			require.NoError(t, closedErr.Err)
		case <-time.After(testTimeout):
			t.Fatal("timeout waiting for drain")
		}
	}

	// Later drains fail straight away.
	var closedErr *ConnectionClosedError
	require.ErrorAs(t, w.Drain(ctx), &closedErr)

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, ErrTransportClosed)
}

func waitDrainers(t *testing.T, loop *eventloop.Loop, w *StreamWriter, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		var parked int
		onLoop(t, loop, func() { parked = len(w.protocol.drains) })
		return parked == n
	}, testTimeout, 5*time.Millisecond)
}

func TestStreamReader_CancelledReadsKeepData(t *testing.T) {
	loop := startLoop(t)
	r := newStreamReader(loop, 1<<20)

	const total = 5000
	go func() {
		for i := 0; i < total; i++ {
			b := byte(i)
			loop.Schedule(func() { r.feedData([]byte{b}) })
		}
	}()

	var got []byte
	deadline := time.Now().Add(10 * time.Second)
	for len(got) < total && time.Now().Before(deadline) {
		// Deadlines this short often expire while the read is on the loop.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(1+len(got)%7)*time.Microsecond)
		data, err := r.Read(ctx, 3)
		cancel()
		if err == nil {
			got = append(got, data...)
		}
	}

	require.Len(t, got, total)
	for i, b := range got {
		require.Equal(t, byte(i), b, "byte %d", i)
	}
}
