package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	arbiter "github.com/luhtfiimanal/go-serial-arbiter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds the serialarb configuration.
type Config struct {
	Device      string `yaml:"device"`
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	Parity      string `yaml:"parity"`
	StopBits    string `yaml:"stop_bits"`
	FlowControl string `yaml:"flow_control"`

	Mode      string `yaml:"mode"`      // lines or raw
	Delimiter string `yaml:"delimiter"` // a single byte

	Timeout           time.Duration `yaml:"timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`

	// Portable selects the go.bug.st/serial opener instead of the native one.
	Portable bool `yaml:"portable"`
}

// DefaultPath returns the default config file path: ~/.serialarb/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".serialarb", "config.yaml")
	}
	return filepath.Join(home, ".serialarb", "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Device:      "/dev/ttyUSB0",
		BaudRate:    115200,
		DataBits:    8,
		Parity:      "none",
		StopBits:    "1",
		FlowControl: "none",
		Mode:        "lines",
		Delimiter:   "\n",
		Timeout:     2 * time.Second,
	}
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns Default() with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// PortConfig converts the device settings.
func (c *Config) PortConfig() (arbiter.PortConfig, error) {
	parity, err := arbiter.ParseParity(c.Parity)
	if err != nil {
		return arbiter.PortConfig{}, err
	}
	stopBits, err := arbiter.ParseStopBits(c.StopBits)
	if err != nil {
		return arbiter.PortConfig{}, err
	}
	flow, err := arbiter.ParseFlowControl(c.FlowControl)
	if err != nil {
		return arbiter.PortConfig{}, err
	}
	pc := arbiter.PortConfig{
		Device:      c.Device,
		BaudRate:    c.BaudRate,
		DataBits:    c.DataBits,
		Parity:      parity,
		StopBits:    stopBits,
		FlowControl: flow,
	}
	return pc, pc.Validate()
}

// ArbiterConfig converts the engine settings.
func (c *Config) ArbiterConfig(logger *zap.Logger) (arbiter.Config, error) {
	cfg := arbiter.Config{
		ReconnectDelay:    c.ReconnectDelay,
		MaxReconnectDelay: c.MaxReconnectDelay,
		ReconnectAttempts: c.ReconnectAttempts,
		Logger:            logger,
	}
	switch c.Mode {
	case "lines", "":
		cfg.Mode = arbiter.ModeLines
	case "raw":
		cfg.Mode = arbiter.ModeRaw
	default:
		return arbiter.Config{}, fmt.Errorf("unknown mode %q (must be lines or raw)", c.Mode)
	}
	if len(c.Delimiter) > 1 {
		return arbiter.Config{}, fmt.Errorf("delimiter %q must be a single byte", c.Delimiter)
	}
	if len(c.Delimiter) == 1 {
		cfg.Delimiter = c.Delimiter[0]
	}
	if c.Portable {
		cfg.Opener = arbiter.PortableOpener{}
	}
	return cfg, nil
}
