//go:build !linux && !darwin

package serial

import "net"

const pollSupported = false

func openTTY(cfg Config) (Handle, error) {
	return nil, &InvalidConfigError{Field: "backend", Value: cfg.Backend, Reason: "descriptor polling is not available on this platform"}
}

func openSocket(cfg Config, addr string) (Handle, error) {
	conn, err := net.DialTimeout("tcp", addr, socketDialTimeout)
	if err != nil {
		return nil, dialError(cfg.Path, err)
	}
	return newPumpHandle(cfg.Path, socketPort{conn}), nil
}
