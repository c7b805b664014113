package serial

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Parity is the parity mode of a serial line.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityOdd   Parity = 'O'
	ParityEven  Parity = 'E'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	}
	return fmt.Sprintf("Parity(%d)", byte(p))
}

// StopBits is the number of stop bits. StopBitsOnePointFive is encoded as 15.
type StopBits byte

const (
	StopBitsOne          StopBits = 1
	StopBitsOnePointFive StopBits = 15
	StopBitsTwo          StopBits = 2
)

func (s StopBits) String() string {
	switch s {
	case StopBitsOne:
		return "1"
	case StopBitsOnePointFive:
		return "1.5"
	case StopBitsTwo:
		return "2"
	}
	return fmt.Sprintf("StopBits(%d)", byte(s))
}

// Backend selects how a bare device path is opened.
type Backend int

const (
	// BackendAuto uses BackendPoll where descriptor polling is available and
	// BackendPortable elsewhere.
	BackendAuto Backend = iota
	// BackendPoll opens the tty non-blocking and polls its descriptor.
	BackendPoll
	// BackendPortable drives a go.bug.st/serial port from helper goroutines.
	BackendPortable
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendPoll:
		return "poll"
	case BackendPortable:
		return "portable"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

const (
	DefaultBaudRate = 9600
	DefaultByteSize = 8
)

// Config describes the device to open and its line parameters.
type Config struct {
	// Path is a device path (/dev/ttyUSB0, COM3) or a URL:
	// socket://host:port for a TCP byte stream, loop:// for an in-process
	// loopback.
	Path     string
	BaudRate int
	ByteSize int
	Parity   Parity
	StopBits StopBits
	// ReadTimeout bounds each blocking read of the portable backend. Zero
	// blocks until data arrives or the port is closed.
	ReadTimeout time.Duration
	// Shared skips the exclusive lock taken on tty devices.
	Shared  bool
	Backend Backend
}

// Normalize validates the configuration and applies defaults for unset values.
func (c Config) Normalize() (Config, error) {
	cfg := c

	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		return cfg, &InvalidConfigError{Field: "path", Value: c.Path, Reason: "must not be empty"}
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.BaudRate < 0 {
		return cfg, &InvalidConfigError{Field: "baud rate", Value: c.BaudRate, Reason: "must be positive"}
	}

	if cfg.ByteSize == 0 {
		cfg.ByteSize = DefaultByteSize
	}
	if cfg.ByteSize < 5 || cfg.ByteSize > 8 {
		return cfg, &InvalidConfigError{Field: "byte size", Value: c.ByteSize, Reason: "must be between 5 and 8"}
	}

	if cfg.Parity == 0 {
		cfg.Parity = ParityNone
	}
	switch cfg.Parity {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
	default:
		return cfg, &InvalidConfigError{Field: "parity", Value: c.Parity, Reason: "expected N, O, E, M or S"}
	}

	if cfg.StopBits == 0 {
		cfg.StopBits = StopBitsOne
	}
	switch cfg.StopBits {
	case StopBitsOne, StopBitsOnePointFive, StopBitsTwo:
	default:
		return cfg, &InvalidConfigError{Field: "stop bits", Value: c.StopBits, Reason: "expected 1, 1.5 or 2"}
	}

	if cfg.ReadTimeout < 0 {
		return cfg, &InvalidConfigError{Field: "read timeout", Value: c.ReadTimeout, Reason: "must not be negative"}
	}

	switch cfg.Backend {
	case BackendAuto, BackendPoll, BackendPortable:
	default:
		return cfg, &InvalidConfigError{Field: "backend", Value: c.Backend, Reason: "unknown backend"}
	}

	return cfg, nil
}

// fileConfig is the JSON form of Config.
type fileConfig struct {
	Path        string `json:"path"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	ByteSize    int    `json:"byte_size,omitempty"`
	Parity      string `json:"parity,omitempty"`
	StopBits    string `json:"stop_bits,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"` // duration string like "500ms"
	Shared      bool   `json:"shared,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

// LoadConfig reads a JSON configuration file and returns the normalized Config.
func LoadConfig(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return fc.config()
}

func (fc fileConfig) config() (Config, error) {
	cfg := Config{
		Path:     fc.Path,
		BaudRate: fc.BaudRate,
		ByteSize: fc.ByteSize,
		Shared:   fc.Shared,
	}

	var err error
	if cfg.Parity, err = ParseParity(fc.Parity); err != nil {
		return Config{}, err
	}
	if cfg.StopBits, err = ParseStopBits(fc.StopBits); err != nil {
		return Config{}, err
	}
	if cfg.Backend, err = ParseBackend(fc.Backend); err != nil {
		return Config{}, err
	}
	if fc.ReadTimeout != "" {
		d, err := time.ParseDuration(fc.ReadTimeout)
		if err != nil {
			return Config{}, &InvalidConfigError{Field: "read timeout", Value: fc.ReadTimeout, Reason: err.Error()}
		}
		cfg.ReadTimeout = d
	}
	return cfg.Normalize()
}

// ParseParity accepts N/O/E/M/S or the spelled-out names. Empty means none.
func ParseParity(s string) (Parity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "N", "NONE":
		return ParityNone, nil
	case "O", "ODD":
		return ParityOdd, nil
	case "E", "EVEN":
		return ParityEven, nil
	case "M", "MARK":
		return ParityMark, nil
	case "S", "SPACE":
		return ParitySpace, nil
	}
	return 0, &InvalidConfigError{Field: "parity", Value: s, Reason: "expected N, O, E, M or S"}
}

// ParseStopBits accepts "1", "1.5" or "2". Empty means one stop bit.
func ParseStopBits(s string) (StopBits, error) {
	switch strings.TrimSpace(s) {
	case "", "1":
		return StopBitsOne, nil
	case "1.5":
		return StopBitsOnePointFive, nil
	case "2":
		return StopBitsTwo, nil
	}
	return 0, &InvalidConfigError{Field: "stop bits", Value: s, Reason: "expected 1, 1.5 or 2"}
}

// ParseBackend accepts "auto", "poll" or "portable". Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "poll":
		return BackendPoll, nil
	case "portable":
		return BackendPortable, nil
	}
	return 0, &InvalidConfigError{Field: "backend", Value: s, Reason: "expected auto, poll or portable"}
}
