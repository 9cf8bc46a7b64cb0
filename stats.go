package arbiter

import "go.uber.org/atomic"

// Stats is a snapshot of the arbiter counters. Counters survive Close and
// re-Open.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	UnitsReceived uint64 // units published to the inbound channel
	UnitsDropped  uint64 // units discarded by OverflowDropOldest
	JobsCompleted uint64
	JobsFailed    uint64
	Faults        uint64
	Reconnects    uint64
}

type stats struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	unitsReceived atomic.Uint64
	unitsDropped  atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsFailed    atomic.Uint64
	faults        atomic.Uint64
	reconnects    atomic.Uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		BytesSent:     s.bytesSent.Load(),
		BytesReceived: s.bytesReceived.Load(),
		UnitsReceived: s.unitsReceived.Load(),
		UnitsDropped:  s.unitsDropped.Load(),
		JobsCompleted: s.jobsCompleted.Load(),
		JobsFailed:    s.jobsFailed.Load(),
		Faults:        s.faults.Load(),
		Reconnects:    s.reconnects.Load(),
	}
}
