package arbiter

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errLostMidWrite     = errors.New("connection lost mid-write")
	errReplacedMidWrite = errors.New("connection replaced mid-write")
)

// writeJob is one Transmit call. The caller blocks on done; the worker or
// teardown completes it exactly once.
type writeJob struct {
	payload  []byte
	deadline time.Time

	once sync.Once
	done chan struct{}
	err  error
}

func newWriteJob(p []byte, deadline time.Time) *writeJob {
	return &writeJob{payload: p, deadline: deadline, done: make(chan struct{})}
}

func (j *writeJob) complete(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

func (j *writeJob) wait() error {
	<-j.done
	return j.err
}

// submit queues a job and waits for its result. Waiting for room in a full
// queue is bounded by the job deadline.
func (s *session) submit(p []byte, deadline time.Time) error {
	dev := s.conn.device.Load()
	if !time.Now().Before(deadline) {
		return timeoutError("transmit", dev, 0, 0)
	}
	// The caller may reuse p as soon as Transmit returns, including on timeout.
	job := newWriteJob(append([]byte(nil), p...), deadline)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return opError("transmit", dev, ErrCanceled, ErrClosed)
	}
	select {
	case s.outbound <- job:
	default:
		timer := time.NewTimer(time.Until(deadline))
		select {
		case s.outbound <- job:
			timer.Stop()
		case <-timer.C:
			s.mu.RUnlock()
			return timeoutError("transmit", dev, 0, 0)
		case <-s.done:
			timer.Stop()
			s.mu.RUnlock()
			return opError("transmit", dev, ErrCanceled, ErrClosed)
		}
	}
	s.mu.RUnlock()
	return job.wait()
}

// transmitLoop serves the outbound queue one job at a time, so payloads
// reach the wire whole and in submission order.
func (s *session) transmitLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case job := <-s.outbound:
			err := s.write(job.payload, job.deadline)
			if err != nil {
				s.stats.jobsFailed.Inc()
				s.conn.logger().Debug("transmit failed", zap.Int("size", len(job.payload)), zap.Error(err))
			} else {
				s.stats.jobsCompleted.Inc()
			}
			job.complete(err)
		}
	}
}

// write pushes p to the transport in slices no longer than WriteSlice. It
// waits for a reconnect only while nothing has been written; once bytes are
// on the wire the job is bound to that connection generation.
func (s *session) write(p []byte, deadline time.Time) error {
	dev := s.conn.device.Load()
	if !time.Now().Before(deadline) {
		return timeoutError("transmit", dev, 0, 0)
	}

	var (
		sent     int
		bound    uint64
		replaced bool
	)
	for sent < len(p) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError("transmit", dev, sent, len(p))
		}
		slice := min(remaining, s.cfg.WriteSlice)

		var n int
		gen, err := s.conn.withHandle(func(t Transport, gen uint64) error {
			if sent > 0 && gen != bound {
				replaced = true
				return nil
			}
			var werr error
			n, werr = t.Write(p[sent:], slice)
			return werr
		})
		switch {
		case errors.Is(err, errNoHandle):
			if s.stopping() {
				return opError("transmit", dev, ErrCanceled, ErrClosed)
			}
			if sent > 0 {
				return connError("transmit", dev, errLostMidWrite)
			}
			if err := s.awaitConnection(deadline); err != nil {
				return err
			}
			continue
		case err != nil:
			if s.stopping() {
				return opError("transmit", dev, ErrCanceled, ErrClosed)
			}
			return connError("transmit", dev, err)
		case replaced:
			return connError("transmit", dev, errReplacedMidWrite)
		}
		bound = gen
		sent += n
		s.stats.bytesSent.Add(uint64(n))
	}
	return nil
}

// awaitConnection blocks until the connection is open again. It fails at
// once when reconnection was abandoned.
func (s *session) awaitConnection(deadline time.Time) error {
	dev := s.conn.device.Load()
	for {
		state, changed := s.conn.changes()
		switch state {
		case StateOpen:
			return nil
		case StateClosed:
			if s.stopping() {
				return opError("transmit", dev, ErrCanceled, ErrClosed)
			}
			return connError("transmit", dev, ErrNotOpen)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return connError("transmit", dev, errors.New("reconnect did not complete before deadline"))
		}
		timer := time.NewTimer(remaining)
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
		case <-s.done:
			timer.Stop()
			return opError("transmit", dev, ErrCanceled, ErrClosed)
		}
	}
}
