package arbiter

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// Arbiter serializes access to one serial device. Any number of goroutines
// may call Transmit and Receive concurrently; payloads reach the wire whole
// and in submission order, and every call is bounded by its deadline.
//
// Connection faults are repaired in the background. Only the operation that
// was in flight when the fault happened sees an ErrConnection.
type Arbiter struct {
	cfg   Config
	stats *stats

	openMu sync.Mutex // serializes Open

	mu     sync.Mutex
	s      *session // nil unless open
	closed bool     // Close was called after a successful Open
}

// New returns an unopened Arbiter. Zero fields of cfg take their defaults.
func New(cfg Config) *Arbiter {
	return &Arbiter{cfg: cfg.withDefaults(), stats: &stats{}}
}

// Open connects to the device and starts the workers. It is a no-op while
// the arbiter is open. If a reconnect sequence was abandoned after
// Config.ReconnectAttempts, Open tries the device again with pc. On failure
// the arbiter stays closed and the error matches ErrConnection.
func (a *Arbiter) Open(pc PortConfig) error {
	if err := pc.Validate(); err != nil {
		return connError("open", pc.Device, err)
	}
	pc = pc.withDefaults()

	a.openMu.Lock()
	defer a.openMu.Unlock()

	// mu is never held across a device open, so State and the Receive and
	// Transmit paths stay responsive while a slow device is opened.
	a.mu.Lock()
	s := a.s
	a.mu.Unlock()
	if s != nil {
		if err := s.conn.open(pc); err != nil {
			return connError("open", pc.Device, err)
		}
		return nil
	}

	s = newSession(a.cfg, pc, a.stats)
	if err := s.conn.open(pc); err != nil {
		return connError("open", pc.Device, err)
	}
	s.start()
	a.mu.Lock()
	a.s = s
	a.closed = false
	a.mu.Unlock()
	return nil
}

// Close stops both workers, releases the device and fails every pending
// call with ErrCanceled. Close is idempotent and the arbiter may be opened
// again afterwards.
func (a *Arbiter) Close() error {
	a.mu.Lock()
	s := a.s
	a.s = nil
	if s != nil {
		a.closed = true
	}
	a.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.teardown()
}

func (a *Arbiter) active(op string) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.s == nil {
		if a.closed {
			return nil, opError(op, "", ErrCanceled, ErrClosed)
		}
		return nil, opError(op, "", ErrConnection, ErrNotOpen)
	}
	return a.s, nil
}

// Transmit writes p before deadline. It returns nil only when every byte
// was handed to the device; a partial write is reported as ErrTimeout or
// ErrConnection and is never retried.
func (a *Arbiter) Transmit(p []byte, deadline time.Time) error {
	s, err := a.active("transmit")
	if err != nil {
		return err
	}
	return s.submit(p, deadline)
}

// TransmitString writes str before deadline.
func (a *Arbiter) TransmitString(str string, deadline time.Time) error {
	return a.Transmit([]byte(str), deadline)
}

// ReceiveUnit returns the next unit. ok is false with a nil error when
// nothing arrived before deadline.
func (a *Arbiter) ReceiveUnit(deadline time.Time) (Unit, bool, error) {
	s, err := a.active("receive")
	if err != nil {
		return Unit{}, false, err
	}
	return s.receive(deadline, s.inbound.pop)
}

// Receive is ReceiveUnit without the arrival time.
func (a *Arbiter) Receive(deadline time.Time) ([]byte, bool, error) {
	u, ok, err := a.ReceiveUnit(deadline)
	return u.Data, ok, err
}

// ReceiveString returns the next unit as a string. A unit that is not valid
// UTF-8 is consumed and reported as ErrMalformed.
func (a *Arbiter) ReceiveString(deadline time.Time) (string, bool, error) {
	u, ok, err := a.ReceiveUnit(deadline)
	if err != nil || !ok {
		return "", ok, err
	}
	return decodeString(u)
}

// ReceiveStringUntil returns buffered bytes up to and including delim,
// joining units when needed. Bytes after delim stay queued for the next
// call.
func (a *Arbiter) ReceiveStringUntil(delim byte, deadline time.Time) (string, bool, error) {
	s, err := a.active("receive")
	if err != nil {
		return "", false, err
	}
	u, ok, err := s.receive(deadline, func() (Unit, bool, <-chan struct{}) {
		return s.inbound.takeUntil(delim)
	})
	if err != nil || !ok {
		return "", ok, err
	}
	return decodeString(u)
}

func decodeString(u Unit) (string, bool, error) {
	if !utf8.Valid(u.Data) {
		return "", false, opError("receive", "", ErrMalformed, fmt.Errorf("%d-byte unit is not valid UTF-8", len(u.Data)))
	}
	return string(u.Data), true, nil
}

// State reports the connection state. An arbiter that is not open reports
// StateClosed.
func (a *Arbiter) State() State {
	a.mu.Lock()
	s := a.s
	a.mu.Unlock()
	if s == nil {
		return StateClosed
	}
	return s.conn.current()
}

// Stats returns the arbiter counters.
func (a *Arbiter) Stats() Stats { return a.stats.snapshot() }

// session is one Open..Close lifetime: a connection, both workers and the
// queues between them and the callers.
type session struct {
	cfg   Config
	stats *stats
	conn  *connection

	outbound chan *writeJob
	inbound  *inbound

	// Enqueuers hold mu for reading so teardown can wait them out before
	// draining the outbound queue.
	mu     sync.RWMutex
	closed bool

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

func newSession(cfg Config, pc PortConfig, st *stats) *session {
	return &session{
		cfg:      cfg,
		stats:    st,
		conn:     newConnection(cfg, pc, st),
		outbound: make(chan *writeJob, cfg.OutboundCapacity),
		inbound:  newInbound(cfg.InboundCapacity, cfg.Overflow),
		done:     make(chan struct{}),
	}
}

func (s *session) start() {
	s.wg.Add(2)
	go s.transmitLoop()
	go s.receiveLoop()
}

func (s *session) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// teardown stops the workers, releases the connection, fails queued jobs
// with ErrCanceled and empties the inbound channel.
func (s *session) teardown() error {
	s.doneOnce.Do(func() { close(s.done) })
	err := s.conn.shutdown()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	for drained := false; !drained; {
		select {
		case job := <-s.outbound:
			job.complete(opError("transmit", s.conn.device.Load(), ErrCanceled, ErrClosed))
		default:
			drained = true
		}
	}
	s.inbound.close()
	s.conn.logger().Info("arbiter closed")
	return err
}
