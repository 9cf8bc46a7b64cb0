package arbiter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is the connection state shared by the transmit and receive workers.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// errNoHandle is returned by withHandle when the connection is not open.
	errNoHandle       = errors.New("no transport handle")
	errOpenInProgress = errors.New("open already in progress")
)

// connection owns the single transport handle. The lock guards lookups and
// swaps only; no I/O ever runs under it.
type connection struct {
	cfg   Config
	base  *zap.Logger
	stats *stats

	// The device name and the logger carrying it change when Open picks a
	// new PortConfig; workers read them without taking mu.
	device atomic.String
	logp   atomic.Pointer[zap.Logger]

	mu      sync.Mutex
	pc      PortConfig
	state   State
	port    Transport
	gen     uint64        // bumped on every successful open
	changed chan struct{} // closed and replaced on every state change
	opening bool          // an open call is running outside mu
	closing bool

	done chan struct{} // closed by shutdown, stops reconnect attempts
	wg   sync.WaitGroup
}

func newConnection(cfg Config, pc PortConfig, st *stats) *connection {
	c := &connection{
		cfg:     cfg,
		base:    cfg.Logger,
		stats:   st,
		pc:      pc,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.setDevice(pc.Device)
	return c
}

func (c *connection) setDevice(device string) {
	c.device.Store(device)
	c.logp.Store(c.base.With(zap.String("device", device)))
}

func (c *connection) logger() *zap.Logger { return c.logp.Load() }

// open acquires a transport for pc. It is a no-op while the connection is
// open or reconnecting; from Closed it tries exactly once. The opener runs
// outside mu, so workers and callers keep observing the Closed state while
// a slow device is being opened.
func (c *connection) open(pc PortConfig) error {
	c.mu.Lock()
	switch {
	case c.closing:
		c.mu.Unlock()
		return ErrClosed
	case c.state != StateClosed:
		c.mu.Unlock()
		return nil
	case c.opening:
		c.mu.Unlock()
		return errOpenInProgress
	}
	c.opening = true
	c.mu.Unlock()

	log := c.base.With(zap.String("device", pc.Device))
	log.Info("opening device", zap.Stringer("config", pc))
	t, err := c.cfg.Opener.Open(pc)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opening = false
	if err != nil {
		log.Warn("open failed", zap.Error(err))
		return err
	}
	if c.closing {
		t.Close()
		return ErrClosed
	}
	c.pc = pc
	c.setDevice(pc.Device)
	c.install(t)
	log.Info("connected", zap.Uint64("generation", c.gen))
	return nil
}

// install must be called with mu held.
func (c *connection) install(t Transport) {
	c.port = t
	c.gen++
	c.state = StateOpen
	c.notify()
}

// notify must be called with mu held.
func (c *connection) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// changes returns the current state and a channel closed on the next
// transition. Taking both under one lock means no transition is missed.
func (c *connection) changes() (State, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.changed
}

func (c *connection) current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// withHandle runs op against the current transport and returns the
// generation it ran on. The handle is looked up under the lock and used
// outside it, so one worker blocked in I/O never delays the other worker
// from observing a state change. A non-nil error from op faults that
// generation of the connection.
func (c *connection) withHandle(op func(t Transport, gen uint64) error) (uint64, error) {
	c.mu.Lock()
	t, gen := c.port, c.gen
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return 0, errNoHandle
	}
	if err := op(t, gen); err != nil {
		c.fault(gen, err)
		return gen, err
	}
	return gen, nil
}

// fault moves an open connection to Reconnecting, closes the stale handle
// and starts one reconnect sequence. Reports from a generation that is no
// longer current are ignored, so a second worker faulting on the same
// broken handle does not start another sequence.
func (c *connection) fault(gen uint64, cause error) bool {
	c.mu.Lock()
	if c.state != StateOpen || gen != c.gen {
		c.mu.Unlock()
		return false
	}
	stale := c.port
	c.port = nil
	c.state = StateReconnecting
	c.stats.faults.Inc()
	c.notify()
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger().Warn("connection fault", zap.Uint64("generation", gen), zap.Error(cause))
	if err := stale.Close(); err != nil {
		c.logger().Debug("closing stale handle", zap.Error(err))
	}
	go c.reconnect()
	return true
}

// reconnect retries the opener with capped exponential backoff until it
// succeeds, the attempt cap is reached, or shutdown is called.
func (c *connection) reconnect() {
	defer c.wg.Done()

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	delay := c.cfg.ReconnectDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		t, err := c.cfg.Opener.Open(pc)
		if err != nil {
			c.logger().Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if c.cfg.ReconnectAttempts > 0 && attempt >= c.cfg.ReconnectAttempts {
				c.giveUp(attempt)
				return
			}
			delay *= 2
			if delay > c.cfg.MaxReconnectDelay {
				delay = c.cfg.MaxReconnectDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			t.Close()
			return
		}
		c.stats.reconnects.Inc()
		c.install(t)
		gen := c.gen
		c.mu.Unlock()

		c.logger().Info("reconnected", zap.Int("attempt", attempt), zap.Uint64("generation", gen))
		return
	}
}

func (c *connection) giveUp(attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReconnecting {
		return
	}
	c.state = StateClosed
	c.notify()
	c.logger().Warn("reconnect abandoned", zap.Int("attempts", attempts))
}

// shutdown stops any reconnect sequence and releases the handle. The
// connection cannot be reopened afterwards.
func (c *connection) shutdown() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	close(c.done)
	t := c.port
	c.port = nil
	c.state = StateClosed
	c.notify()
	c.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close()
	}
	c.wg.Wait()
	return err
}
