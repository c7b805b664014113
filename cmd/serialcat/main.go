// Command serialcat connects stdin and stdout to a serial device, a TCP
// byte stream (socket://host:port) or the loopback device (loop://).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	serial "github.com/luhtfiimanal/go-async-serial"
	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

var (
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port, socket://host:port or loop://")
	baud        = flag.Int("baud", serial.DefaultBaudRate, "Baud rate")
	byteSize    = flag.Int("bytesize", serial.DefaultByteSize, "Data bits (5-8)")
	parity      = flag.String("parity", "N", "Parity: N, O, E, M or S")
	stopBits    = flag.String("stopbits", "1", "Stop bits: 1, 1.5 or 2")
	backend     = flag.String("backend", "auto", "Backend: auto, poll or portable")
	shared      = flag.Bool("shared", false, "Do not lock the device exclusively")
	readTimeout = flag.Duration("read-timeout", 0, "Read timeout for the portable backend")
	configFile  = flag.String("config", "", "JSON config file; overrides the port flags")
	verbose     = flag.Bool("v", false, "Log transport events")
)

// buildConfig returns the port configuration from -config or the flags.
func buildConfig() (serial.Config, error) {
	if *configFile != "" {
		return serial.LoadConfig(*configFile)
	}

	p, err := serial.ParseParity(*parity)
	if err != nil {
		return serial.Config{}, err
	}
	s, err := serial.ParseStopBits(*stopBits)
	if err != nil {
		return serial.Config{}, err
	}
	b, err := serial.ParseBackend(*backend)
	if err != nil {
		return serial.Config{}, err
	}
	return serial.Config{
		Path:        *port,
		BaudRate:    *baud,
		ByteSize:    *byteSize,
		Parity:      p,
		StopBits:    s,
		ReadTimeout: *readTimeout,
		Shared:      *shared,
		Backend:     b,
	}.Normalize()
}

func main() {
	flag.Parse()

	if !*verbose {
		serial.SetLogger(nil)
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loop, err := eventloop.New()
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}
	defer loop.Close()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.RunForever() }()
	defer func() {
		loop.Stop()
		<-loopDone
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, w, err := serial.OpenConnection(loop, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}

	go copyInput(ctx, w, os.Stdin)

	copyErr := copyOutput(ctx, os.Stdout, r)

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	if err := w.WaitClosed(closeCtx); err != nil {
		log.Printf("close: %v", err)
	}

	if copyErr != nil && !errors.Is(copyErr, context.Canceled) {
		return fmt.Errorf("connection error: %w", copyErr)
	}
	return nil
}

// copyInput forwards stdin line by line, waiting for the write queue to
// drain between lines.
func copyInput(ctx context.Context, w *serial.StreamWriter, in io.Reader) {
	br := bufio.NewReader(in)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.WriteContext(ctx, line); werr != nil {
				log.Printf("write: %v", werr)
				return
			}
			if derr := w.Drain(ctx); derr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// copyOutput writes received data to out until the connection closes.
func copyOutput(ctx context.Context, out io.Writer, r *serial.StreamReader) error {
	for {
		data, err := r.Read(ctx, 1024)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
}
