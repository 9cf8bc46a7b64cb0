package arbiter

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/atomic"
)

// PortableOpener opens devices through go.bug.st/serial, which covers
// Windows and macOS as well as Linux. The library cannot bound a write, so
// Write ignores its timeout and a Transmit deadline is not enforced while a
// write call is in progress. A stalled device can hold Transmit past its
// deadline until the call returns; deadlines are only checked between
// calls.
type PortableOpener struct{}

// Open implements Opener.
func (PortableOpener) Open(pc PortConfig) (Transport, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	pc = pc.withDefaults()
	if pc.FlowControl != FlowControlNone {
		return nil, fmt.Errorf("%w: flow control %s is not available through the portable opener",
			ErrInvalidConfig, pc.FlowControl)
	}

	mode := &serial.Mode{
		BaudRate: pc.BaudRate,
		DataBits: pc.DataBits,
		Parity:   bugstParity[pc.Parity],
		StopBits: bugstStopBits[pc.StopBits],
	}
	port, err := serial.Open(pc.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush input: %w", err)
	}
	return &portTransport{port: port}, nil
}

var bugstParity = map[Parity]serial.Parity{
	ParityNone:  serial.NoParity,
	ParityOdd:   serial.OddParity,
	ParityEven:  serial.EvenParity,
	ParityMark:  serial.MarkParity,
	ParitySpace: serial.SpaceParity,
}

var bugstStopBits = map[StopBits]serial.StopBits{
	StopBitsOne:          serial.OneStopBit,
	StopBitsOnePointFive: serial.OnePointFiveStopBits,
	StopBitsTwo:          serial.TwoStopBits,
}

// ListPorts returns the serial devices present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	return ports, nil
}

type portTransport struct {
	port serial.Port

	mu      sync.Mutex // guards timeout
	timeout time.Duration
	closed  atomic.Bool
}

func (t *portTransport) setReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timeout == t.timeout {
		return nil
	}
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return err
	}
	t.timeout = timeout
	return nil
}

// Read implements Transport. go.bug.st/serial returns 0, nil on timeout.
func (t *portTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if t.closed.Load() {
		return 0, errTransportClosed
	}
	if err := t.setReadTimeout(timeout); err != nil {
		return 0, err
	}
	return t.port.Read(p)
}

// Write implements Transport.
func (t *portTransport) Write(p []byte, _ time.Duration) (int, error) {
	if t.closed.Load() {
		return 0, errTransportClosed
	}
	return t.port.Write(p)
}

func (t *portTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.port.Close()
}
