package arbiter

import (
	"errors"
	"time"
)

var errTransportClosed = errors.New("transport closed")

// Transport is an open device handle. Read and Write wait at most timeout
// for the device to become ready; n == 0 with a nil error means nothing
// could be transferred in that time. Any non-nil error is treated as a
// connection fault and the handle is discarded.
//
// One goroutine reads while another writes, and Close may be called from
// a third while either call is blocked; implementations must allow that.
type Transport interface {
	Read(p []byte, timeout time.Duration) (n int, err error)
	Write(p []byte, timeout time.Duration) (n int, err error)
	Close() error
}

// Opener turns a PortConfig into a Transport. It is called once by Open and
// again for every reconnect attempt.
type Opener interface {
	Open(pc PortConfig) (Transport, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(pc PortConfig) (Transport, error)

// Open calls f(pc).
func (f OpenerFunc) Open(pc PortConfig) (Transport, error) { return f(pc) }
