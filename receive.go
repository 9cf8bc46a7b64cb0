package arbiter

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// receiveLoop drains the transport into the accumulator and publishes every
// completed unit. A partial unit never outlives the connection generation
// it started on.
func (s *session) receiveLoop() {
	defer s.wg.Done()

	acc := newAccumulator(s.cfg)
	buf := make([]byte, s.cfg.ReadSize)
	var current uint64
	for {
		select {
		case <-s.done:
			return
		default:
		}

		var n int
		gen, err := s.conn.withHandle(func(t Transport, _ uint64) error {
			var rerr error
			n, rerr = t.Read(buf, s.cfg.PollInterval)
			return rerr
		})
		switch {
		case errors.Is(err, errNoHandle):
			s.discard(acc)
			state, changed := s.conn.changes()
			if state == StateOpen {
				continue
			}
			select {
			case <-changed:
			case <-s.done:
				return
			}
			continue
		case err != nil:
			s.discard(acc)
			continue
		}

		if gen != current {
			s.discard(acc)
			current = gen
		}
		if n == 0 {
			continue
		}
		s.stats.bytesReceived.Add(uint64(n))
		for _, u := range acc.feed(buf[:n], time.Now()) {
			if !s.publish(u) {
				return
			}
		}
	}
}

func (s *session) discard(acc *accumulator) {
	if n := acc.pending(); n > 0 {
		s.conn.logger().Debug("discarding partial unit", zap.Int("size", n))
	}
	acc.reset()
}

func (s *session) publish(u Unit) bool {
	if u.Overlong {
		s.conn.logger().Warn("unit exceeded max size without delimiter", zap.Int("size", len(u.Data)))
	}
	dropped, ok := s.inbound.push(u, s.done)
	if dropped > 0 {
		s.stats.unitsDropped.Add(uint64(dropped))
		s.conn.logger().Warn("inbound channel full, dropped oldest units", zap.Int("dropped", dropped))
	}
	if ok {
		s.stats.unitsReceived.Inc()
	}
	return ok
}

// receive waits for take to yield a unit. Running out of time is not an
// error unless the connection is down; a fault while waiting is reported.
func (s *session) receive(deadline time.Time, take func() (Unit, bool, <-chan struct{})) (Unit, bool, error) {
	dev := s.conn.device.Load()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	wasOpen := false
	for {
		select {
		case <-s.done:
			return Unit{}, false, opError("receive", dev, ErrCanceled, ErrClosed)
		default:
		}
		u, ok, arrived := take()
		if ok {
			return u, true, nil
		}

		state, changed := s.conn.changes()
		switch {
		case state == StateClosed:
			if s.stopping() {
				return Unit{}, false, opError("receive", dev, ErrCanceled, ErrClosed)
			}
			return Unit{}, false, connError("receive", dev, ErrNotOpen)
		case wasOpen && state != StateOpen:
			return Unit{}, false, connError("receive", dev, errors.New("connection lost while waiting"))
		}
		wasOpen = state == StateOpen

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if state != StateOpen {
				return Unit{}, false, connError("receive", dev, errors.New("reconnect did not complete before deadline"))
			}
			return Unit{}, false, nil
		}
		if timer == nil {
			timer = time.NewTimer(remaining)
		}
		select {
		case <-arrived:
		case <-changed:
		case <-timer.C:
			timer = nil
			deadline = time.Time{}
		case <-s.done:
			return Unit{}, false, opError("receive", dev, ErrCanceled, ErrClosed)
		}
	}
}
