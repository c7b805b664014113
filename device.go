package serial

import (
	"net"
	"net/url"
	"strings"

	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

// Handle is an open byte-stream device. Read and Write never block: they
// return ErrWouldBlock when no progress is possible. Close is idempotent.
//
// A Handle is owned by exactly one Transport; nothing else should read,
// write or close it once it has been handed over.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	// Watch registers the handle with loop. ready is invoked on the loop
	// goroutine with the readiness that matches the watch's interest.
	Watch(loop *eventloop.Loop, ready func(eventloop.Interest)) (Watch, error)
}

// Watch is a readiness registration for one Handle.
type Watch interface {
	SetInterest(eventloop.Interest) error
	Interest() eventloop.Interest
	// Stop removes the registration. It is idempotent.
	Stop()
}

const (
	schemeSocket = "socket"
	schemeLoop   = "loop"
)

// OpenDevice opens the device described by cfg. Bare paths are serial
// devices; socket://host:port and loop:// select network and in-process
// loopback handles.
func OpenDevice(cfg Config) (Handle, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	scheme, target, err := splitAddress(cfg.Path)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case schemeSocket:
		return openSocket(cfg, target)
	case schemeLoop:
		return openLoopback(cfg), nil
	case "":
	default:
		return nil, &InvalidConfigError{Field: "path", Value: cfg.Path, Reason: "unsupported scheme " + scheme}
	}

	switch cfg.Backend {
	case BackendPortable:
		return openPortable(cfg)
	case BackendPoll:
		return openTTY(cfg)
	}
	if pollSupported {
		return openTTY(cfg)
	}
	return openPortable(cfg)
}

// splitAddress returns the URL scheme and its target, or an empty scheme for
// a plain device path.
func splitAddress(path string) (scheme, target string, err error) {
	i := strings.Index(path, "://")
	if i <= 0 {
		return "", path, nil
	}
	u, perr := url.Parse(path)
	if perr != nil {
		return "", "", &InvalidConfigError{Field: "path", Value: path, Reason: perr.Error()}
	}
	scheme = strings.ToLower(u.Scheme)
	switch scheme {
	case schemeSocket:
		if _, _, serr := net.SplitHostPort(u.Host); serr != nil {
			return "", "", &InvalidConfigError{Field: "path", Value: path, Reason: "expected socket://host:port"}
		}
		return scheme, u.Host, nil
	case schemeLoop:
		return scheme, "", nil
	}
	return scheme, u.Host, nil
}
