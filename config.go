package arbiter

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Parity selects the parity bit mode of the line.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
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
	return fmt.Sprintf("Parity(%d)", int(p))
}

// ParseParity accepts the names returned by Parity.String.
func ParseParity(s string) (Parity, error) {
	for p := ParityNone; p <= ParitySpace; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return ParityNone, fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, s)
}

// StopBits selects the number of stop bits.
type StopBits int

const (
	StopBitsOne StopBits = iota
	StopBitsOnePointFive
	StopBitsTwo
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
	return fmt.Sprintf("StopBits(%d)", int(s))
}

// ParseStopBits accepts "1", "1.5" and "2".
func ParseStopBits(s string) (StopBits, error) {
	for b := StopBitsOne; b <= StopBitsTwo; b++ {
		if b.String() == s {
			return b, nil
		}
	}
	return StopBitsOne, fmt.Errorf("%w: unknown stop bits %q", ErrInvalidConfig, s)
}

// FlowControl selects the flow control the device driver applies. The
// arbiter itself never speaks XON/XOFF or toggles RTS.
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlSoftware
	FlowControlHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowControlNone:
		return "none"
	case FlowControlSoftware:
		return "software"
	case FlowControlHardware:
		return "hardware"
	}
	return fmt.Sprintf("FlowControl(%d)", int(f))
}

// ParseFlowControl accepts the names returned by FlowControl.String.
func ParseFlowControl(s string) (FlowControl, error) {
	for f := FlowControlNone; f <= FlowControlHardware; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return FlowControlNone, fmt.Errorf("%w: unknown flow control %q", ErrInvalidConfig, s)
}

// PortConfig describes how to open and configure the device. It is kept
// verbatim and reused on every reconnect attempt.
type PortConfig struct {
	Device      string
	BaudRate    int // default 115200
	DataBits    int // default 8
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl
}

func (pc PortConfig) withDefaults() PortConfig {
	if pc.BaudRate == 0 {
		pc.BaudRate = 115200
	}
	if pc.DataBits == 0 {
		pc.DataBits = 8
	}
	return pc
}

// Validate reports whether the configuration can be handed to an Opener.
func (pc PortConfig) Validate() error {
	pc = pc.withDefaults()
	if pc.Device == "" {
		return fmt.Errorf("%w: no device selected", ErrInvalidConfig)
	}
	if pc.BaudRate < 0 {
		return fmt.Errorf("%w: negative baud rate %d", ErrInvalidConfig, pc.BaudRate)
	}
	if pc.DataBits < 5 || pc.DataBits > 8 {
		return fmt.Errorf("%w: invalid data bits %d (must be 5..8)", ErrInvalidConfig, pc.DataBits)
	}
	if pc.Parity < ParityNone || pc.Parity > ParitySpace {
		return fmt.Errorf("%w: invalid parity %d", ErrInvalidConfig, pc.Parity)
	}
	if pc.StopBits < StopBitsOne || pc.StopBits > StopBitsTwo {
		return fmt.Errorf("%w: invalid stop bits %d", ErrInvalidConfig, pc.StopBits)
	}
	if pc.FlowControl < FlowControlNone || pc.FlowControl > FlowControlHardware {
		return fmt.Errorf("%w: invalid flow control %d", ErrInvalidConfig, pc.FlowControl)
	}
	return nil
}

func (pc PortConfig) String() string {
	pc = pc.withDefaults()
	return fmt.Sprintf("%s %d %d%s%s", pc.Device, pc.BaudRate, pc.DataBits, strings.ToUpper(pc.Parity.String()[:1]), pc.StopBits)
}

// Mode selects how the receive worker cuts the inbound byte stream into units.
type Mode int

const (
	// ModeLines delivers units terminated by Config.Delimiter (delimiter included).
	ModeLines Mode = iota
	// ModeRaw delivers every non-empty read as a unit.
	ModeRaw
)

// OverflowPolicy decides what the receive worker does when the inbound
// channel is full.
type OverflowPolicy int

const (
	// OverflowDropOldest discards the oldest undelivered unit so the
	// transport is always drained.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowBlock holds the receive worker until a caller takes a unit.
	OverflowBlock
)

// Config holds the engine policy of an Arbiter. The zero value is usable.
type Config struct {
	Mode      Mode
	Delimiter byte // zero selects '\n'
	// MaxUnitSize bounds the accumulator. A run of bytes this long without a
	// delimiter is delivered as a unit with Overlong set.
	MaxUnitSize int

	ReadSize         int
	InboundCapacity  int
	Overflow         OverflowPolicy
	OutboundCapacity int

	// PollInterval bounds a single transport read so the receive worker
	// notices shutdown and reconnects promptly.
	PollInterval time.Duration
	// WriteSlice bounds a single transport write call.
	WriteSlice time.Duration

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// ReconnectAttempts caps a reconnect sequence; 0 retries until Close.
	ReconnectAttempts int

	Opener Opener
	Logger *zap.Logger
}

const (
	defaultMaxUnitSize       = 64 * 1024
	defaultReadSize          = 4096
	defaultInboundCapacity   = 1024
	defaultOutboundCapacity  = 64
	defaultPollInterval      = 10 * time.Millisecond
	defaultWriteSlice        = 100 * time.Millisecond
	defaultReconnectDelay    = 100 * time.Millisecond
	defaultMaxReconnectDelay = time.Second
)

func (c Config) withDefaults() Config {
	if c.Mode == ModeLines && c.Delimiter == 0 {
		c.Delimiter = '\n'
	}
	if c.MaxUnitSize <= 0 {
		c.MaxUnitSize = defaultMaxUnitSize
	}
	if c.ReadSize <= 0 {
		c.ReadSize = defaultReadSize
	}
	if c.InboundCapacity <= 0 {
		c.InboundCapacity = defaultInboundCapacity
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = defaultOutboundCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.WriteSlice <= 0 {
		c.WriteSlice = defaultWriteSlice
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
		if c.MaxReconnectDelay < c.ReconnectDelay {
			c.MaxReconnectDelay = c.ReconnectDelay
		}
	}
	if c.Opener == nil {
		c.Opener = DefaultOpener()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
