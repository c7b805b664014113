// Package serial drives serial ports from an event loop.
//
// A device is opened as a non-blocking Handle, registered with an
// eventloop.Loop and driven by a Transport, which calls back into a
// Protocol as data arrives, as the write queue crosses its water marks and
// when the connection ends. On Linux and macOS tty devices and sockets are
// polled directly. Elsewhere, or with BackendPortable, a pair of goroutines
// around go.bug.st/serial provide the same readiness contract.
//
// Addresses may be device paths (/dev/ttyUSB0, COM3), socket://host:port
// for a TCP byte stream, or loop:// for an in-process loopback.
//
// Transport and Protocol methods run on the loop goroutine. For ordinary
// goroutines OpenConnection returns a StreamReader and StreamWriter:
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//	go loop.RunForever()
//	defer loop.Stop()
//
//	r, w, err := serial.OpenConnection(loop, serial.Config{
//	    Path:     "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	w.Write([]byte("C,INFO\r\n"))
//	line, err := r.ReadLine(ctx)
//
// This package does not control modem lines or manage buffer flushing on
// the device; it moves bytes.
package serial
