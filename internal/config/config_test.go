package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	arbiter "github.com/luhtfiimanal/go-serial-arbiter"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `device: /dev/ttyACM0
baud_rate: 9600
parity: even
stop_bits: "2"
mode: raw
timeout: 500ms
reconnect_attempts: 5
portable: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Device)
	require.Equal(t, 9600, cfg.BaudRate)
	require.Equal(t, 8, cfg.DataBits) // default kept
	require.Equal(t, 500*time.Millisecond, cfg.Timeout)

	pc, err := cfg.PortConfig()
	require.NoError(t, err)
	require.Equal(t, arbiter.ParityEven, pc.Parity)
	require.Equal(t, arbiter.StopBitsTwo, pc.StopBits)

	ac, err := cfg.ArbiterConfig(zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, arbiter.ModeRaw, ac.Mode)
	require.Equal(t, 5, ac.ReconnectAttempts)
	require.Equal(t, arbiter.PortableOpener{}, ac.Opener)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baud_rate: [fast"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Invalid(t *testing.T) {
	cfg := Default()
	cfg.Parity = "sometimes"
	_, err := cfg.PortConfig()
	require.ErrorIs(t, err, arbiter.ErrInvalidConfig)

	cfg = Default()
	cfg.Device = ""
	_, err = cfg.PortConfig()
	require.ErrorIs(t, err, arbiter.ErrInvalidConfig)

	cfg = Default()
	cfg.Delimiter = "\r\n"
	_, err = cfg.ArbiterConfig(zap.NewNop())
	require.Error(t, err)

	cfg = Default()
	cfg.Mode = "frames"
	_, err = cfg.ArbiterConfig(zap.NewNop())
	require.Error(t, err)
}
