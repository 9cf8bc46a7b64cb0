package arbiter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUnplugged = errors.New("device unplugged")

// fakeDevice is an in-memory serial device. Every successful Open attaches
// a new fakePort to it, the way a real node reappears after a replug.
type fakeDevice struct {
	mu         sync.Mutex
	present    bool
	accepting  bool          // false: writes never complete
	chunk      int           // >0 caps bytes accepted per Write call
	openDelay  time.Duration // each Open sleeps this long first
	failAfter  int           // >0 breaks the port once this many writes landed
	stallAfter int           // >0 stops accepting once this many writes landed
	opens      int
	writes     int
	written    []byte
	port       *fakePort
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{present: true, accepting: true}
}

// Open implements Opener.
func (d *fakeDevice) Open(pc PortConfig) (Transport, error) {
	d.mu.Lock()
	d.opens++
	delay := d.openDelay
	d.mu.Unlock()
	time.Sleep(delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.present {
		return nil, errUnplugged
	}
	d.port = &fakePort{
		dev:    d,
		rx:     make(chan []byte, 64),
		failed: make(chan struct{}),
		closed: make(chan struct{}),
	}
	return d.port, nil
}

func (d *fakeDevice) current() *fakePort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// feed makes b readable in a single Read on the current port.
func (d *fakeDevice) feed(t *testing.T, b string) {
	t.Helper()
	p := d.current()
	require.NotNil(t, p, "device never opened")
	p.rx <- []byte(b)
}

// fail breaks the current port; the device stays present so the next
// reconnect attempt succeeds.
func (d *fakeDevice) fail() {
	if p := d.current(); p != nil {
		p.fail()
	}
}

func (d *fakeDevice) unplug() {
	d.mu.Lock()
	d.present = false
	p := d.port
	d.mu.Unlock()
	if p != nil {
		p.fail()
	}
}

func (d *fakeDevice) plug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present = true
}

func (d *fakeDevice) setAccepting(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accepting = v
}

func (d *fakeDevice) setChunk(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunk = n
}

func (d *fakeDevice) setOpenDelay(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openDelay = v
}

func (d *fakeDevice) setFailAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAfter = n
}

func (d *fakeDevice) setStallAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stallAfter = n
}

func (d *fakeDevice) output() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.written)
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

type fakePort struct {
	dev     *fakeDevice
	rx      chan []byte
	pending []byte // rest of a chunk larger than the read buffer

	failOnce  sync.Once
	failed    chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func (p *fakePort) fail() { p.failOnce.Do(func() { close(p.failed) }) }

func (p *fakePort) Read(b []byte, timeout time.Duration) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.closed:
		return 0, errTransportClosed
	case <-p.failed:
		return 0, errUnplugged
	case chunk := <-p.rx:
		n := copy(b, chunk)
		p.pending = chunk[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte, timeout time.Duration) (int, error) {
	select {
	case <-p.closed:
		return 0, errTransportClosed
	case <-p.failed:
		return 0, errUnplugged
	default:
	}

	p.dev.mu.Lock()
	accepting, chunk := p.dev.accepting, p.dev.chunk
	p.dev.mu.Unlock()
	if !accepting {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.closed:
			return 0, errTransportClosed
		case <-p.failed:
			return 0, errUnplugged
		case <-timer.C:
			return 0, nil
		}
	}

	if chunk > 0 && len(b) > chunk {
		b = b[:chunk]
	}
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	d := p.dev
	d.writes++
	d.written = append(d.written, b...)
	if d.failAfter > 0 && d.writes >= d.failAfter {
		d.failAfter = 0
		p.fail()
	}
	if d.stallAfter > 0 && d.writes >= d.stallAfter {
		d.stallAfter = 0
		d.accepting = false
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// testConfig shortens every interval so fault tests finish quickly.
func testConfig(t *testing.T, dev *fakeDevice) Config {
	return Config{
		PollInterval:      2 * time.Millisecond,
		WriteSlice:        20 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		Opener:            dev,
		Logger:            zaptest.NewLogger(t),
	}
}

func openTestArbiter(t *testing.T, cfg Config) *Arbiter {
	t.Helper()
	arb := New(cfg)
	require.NoError(t, arb.Open(PortConfig{Device: "/dev/ttyFAKE0"}))
	t.Cleanup(func() { arb.Close() })
	return arb
}

func in(d time.Duration) time.Time { return time.Now().Add(d) }
