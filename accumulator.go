package arbiter

import (
	"bytes"
	"time"
)

// Unit is one received item: a delimited line in ModeLines, or the bytes of
// one read in ModeRaw.
type Unit struct {
	Data    []byte
	Arrived time.Time
	// Overlong is set when MaxUnitSize bytes arrived without a delimiter and
	// were flushed as they were.
	Overlong bool
}

// accumulator is owned by the receive worker. It holds the partial unit
// between reads and is reset whenever the connection changes.
type accumulator struct {
	mode  Mode
	delim byte
	max   int
	buf   []byte
}

func newAccumulator(cfg Config) *accumulator {
	return &accumulator{mode: cfg.Mode, delim: cfg.Delimiter, max: cfg.MaxUnitSize}
}

// feed appends p and returns the units it completes, in arrival order.
func (a *accumulator) feed(p []byte, now time.Time) []Unit {
	if len(p) == 0 {
		return nil
	}
	if a.mode == ModeRaw {
		return []Unit{{Data: append([]byte(nil), p...), Arrived: now}}
	}

	a.buf = append(a.buf, p...)
	var units []Unit
	start := 0
	for {
		rest := a.buf[start:]
		if i := bytes.IndexByte(rest, a.delim); i >= 0 && i < a.max {
			units = append(units, Unit{Data: append([]byte(nil), rest[:i+1]...), Arrived: now})
			start += i + 1
			continue
		}
		if len(rest) >= a.max {
			units = append(units, Unit{Data: append([]byte(nil), rest[:a.max]...), Arrived: now, Overlong: true})
			start += a.max
			continue
		}
		break
	}
	if start > 0 {
		n := copy(a.buf, a.buf[start:])
		a.buf = a.buf[:n]
	}
	return units
}

// pending reports how many bytes are waiting for a delimiter.
func (a *accumulator) pending() int { return len(a.buf) }

// reset discards the partial unit.
func (a *accumulator) reset() { a.buf = a.buf[:0] }
