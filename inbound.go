package arbiter

import (
	"bytes"
	"sync"
)

// inbound is the bounded FIFO between the receive worker and callers.
// Waiters hold a channel that is closed and replaced on every push or pop.
type inbound struct {
	mu       sync.Mutex
	units    []Unit
	capacity int
	policy   OverflowPolicy
	arrived  chan struct{} // closed on push
	freed    chan struct{} // closed on pop
	closed   bool
}

func newInbound(capacity int, policy OverflowPolicy) *inbound {
	return &inbound{
		capacity: capacity,
		policy:   policy,
		arrived:  make(chan struct{}),
		freed:    make(chan struct{}),
	}
}

// push appends u. When the queue is full it either drops the oldest unit
// or, under OverflowBlock, waits for room until stop is closed. It returns
// the number of units dropped and false if u was not queued.
func (q *inbound) push(u Unit, stop <-chan struct{}) (dropped int, ok bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return dropped, false
		}
		if len(q.units) < q.capacity {
			q.units = append(q.units, u)
			close(q.arrived)
			q.arrived = make(chan struct{})
			q.mu.Unlock()
			return dropped, true
		}
		if q.policy == OverflowDropOldest {
			q.units[0] = Unit{}
			q.units = q.units[1:]
			dropped++
			q.mu.Unlock()
			continue
		}
		freed := q.freed
		q.mu.Unlock()

		select {
		case <-freed:
		case <-stop:
			return dropped, false
		}
	}
}

// pop removes the oldest unit. When the queue is empty it returns a channel
// closed by the next push.
func (q *inbound) pop() (Unit, bool, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.units) == 0 {
		return Unit{}, false, q.arrived
	}
	u := q.units[0]
	q.units[0] = Unit{}
	q.units = q.units[1:]
	q.signalFreed()
	return u, true, nil
}

// takeUntil removes bytes up to and including the first delim found across
// the queued units and returns them as one unit stamped with the arrival
// time of the unit holding the delimiter. Bytes after the delimiter stay at
// the head of the queue. When no queued unit holds delim nothing is
// removed, except under OverflowBlock with the queue at capacity: no
// further unit could arrive, so the whole queue is returned instead.
func (q *inbound) takeUntil(delim byte) (Unit, bool, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, u := range q.units {
		j := bytes.IndexByte(u.Data, delim)
		if j < 0 {
			continue
		}
		var data []byte
		for _, prev := range q.units[:i] {
			data = append(data, prev.Data...)
		}
		data = append(data, u.Data[:j+1]...)
		out := Unit{Data: data, Arrived: u.Arrived}

		if rest := u.Data[j+1:]; len(rest) > 0 {
			q.units[i] = Unit{Data: rest, Arrived: u.Arrived, Overlong: u.Overlong}
			q.units = q.units[i:]
		} else {
			q.units = q.units[i+1:]
		}
		q.signalFreed()
		return out, true, nil
	}
	if q.policy == OverflowBlock && len(q.units) > 0 && len(q.units) >= q.capacity {
		var data []byte
		for _, u := range q.units {
			data = append(data, u.Data...)
		}
		out := Unit{Data: data, Arrived: q.units[len(q.units)-1].Arrived}
		q.units = nil
		q.signalFreed()
		return out, true, nil
	}
	return Unit{}, false, q.arrived
}

// signalFreed must be called with mu held.
func (q *inbound) signalFreed() {
	close(q.freed)
	q.freed = make(chan struct{})
}

func (q *inbound) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// close discards queued units and rejects further pushes.
func (q *inbound) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.units = nil
	close(q.arrived)
	q.arrived = make(chan struct{})
	q.signalFreed()
}
