package serial

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestConfig_NormalizeDefaults(t *testing.T) {
	cfg, err := Config{Path: " /dev/ttyUSB0 "}.Normalize()
	require.NoError(t, err)

	want := Config{
		Path:     "/dev/ttyUSB0",
		BaudRate: DefaultBaudRate,
		ByteSize: DefaultByteSize,
		Parity:   ParityNone,
		StopBits: StopBitsOne,
		Backend:  BackendAuto,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("normalized config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfig_NormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"empty path", Config{}, "path"},
		{"negative baud", Config{Path: "x", BaudRate: -1}, "baud rate"},
		{"byte size too small", Config{Path: "x", ByteSize: 4}, "byte size"},
		{"byte size too large", Config{Path: "x", ByteSize: 9}, "byte size"},
		{"unknown parity", Config{Path: "x", Parity: 'Q'}, "parity"},
		{"unknown stop bits", Config{Path: "x", StopBits: 3}, "stop bits"},
		{"negative timeout", Config{Path: "x", ReadTimeout: -time.Second}, "read timeout"},
		{"unknown backend", Config{Path: "x", Backend: 7}, "backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Normalize()
			var cfgErr *InvalidConfigError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"path": "/dev/ttyACM0",
		"baud_rate": 115200,
		"parity": "even",
		"stop_bits": "1.5",
		"read_timeout": "250ms",
		"backend": "portable"
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Path)
	require.Equal(t, 115200, cfg.BaudRate)
	require.Equal(t, 8, cfg.ByteSize)
	require.Equal(t, ParityEven, cfg.Parity)
	require.Equal(t, StopBitsOnePointFive, cfg.StopBits)
	require.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
	require.Equal(t, BackendPortable, cfg.Backend)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "port.yaml"))
	require.ErrorContains(t, err, ".json extension")

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"path": "x", "read_timeout": "soon"}`), 0o600))
	_, err = LoadConfig(bad)
	var cfgErr *InvalidConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "read timeout", cfgErr.Field)
}

func TestParseHelpers(t *testing.T) {
	p, err := ParseParity("o")
	require.NoError(t, err)
	require.Equal(t, ParityOdd, p)
	_, err = ParseParity("x")
	require.Error(t, err)

	s, err := ParseStopBits("2")
	require.NoError(t, err)
	require.Equal(t, StopBitsTwo, s)
	_, err = ParseStopBits("3")
	require.Error(t, err)

	b, err := ParseBackend("")
	require.NoError(t, err)
	require.Equal(t, BackendAuto, b)
	require.Equal(t, "portable", BackendPortable.String())
	require.Equal(t, "1.5", StopBitsOnePointFive.String())
	require.Equal(t, "mark", ParityMark.String())
}
