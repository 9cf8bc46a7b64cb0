//go:build linux

package arbiter

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// LinuxOpener opens a character device in raw, non-blocking mode and
// serves reads and writes with poll(2). A self-pipe lets Close unblock a
// goroutine that is waiting on the device.
type LinuxOpener struct{}

// Open implements Opener.
func (LinuxOpener) Open(pc PortConfig) (Transport, error) {
	d, err := openDevice(pc)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DefaultOpener returns the opener used when Config.Opener is nil.
func DefaultOpener() Opener { return LinuxOpener{} }

var errHangup = errors.New("device hung up")

type deviceTransport struct {
	device string
	fd     int
	pipeR  int // self-pipe read fd
	pipeW  int // self-pipe write fd

	// I/O calls hold mu for reading; Close takes it for writing before the
	// descriptors are released so a recycled fd is never polled.
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func openDevice(pc PortConfig) (*deviceTransport, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	pc = pc.withDefaults()

	fd, err := unix.Open(pc.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	if err := configureTermios(fd, pc); err != nil {
		unix.Close(fd)
		return nil, err
	}
	// Whatever the driver buffered before this session is not ours.
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flush input: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &deviceTransport{
		device: pc.Device,
		fd:     fd,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

func configureTermios(fd int, pc PortConfig) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL |
		unix.IXON | unix.IXOFF | unix.IXANY | unix.INPCK
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CMSPAR
	t.Cflag |= unix.CLOCAL | unix.CREAD

	switch pc.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	}

	switch pc.Parity {
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
	case ParityMark:
		t.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case ParitySpace:
		t.Cflag |= unix.PARENB | unix.CMSPAR
	}
	if pc.Parity != ParityNone {
		t.Iflag |= unix.INPCK
	}

	switch pc.StopBits {
	case StopBitsTwo:
		t.Cflag |= unix.CSTOPB
	case StopBitsOnePointFive:
		// termios only yields 1.5 stop bits with CSTOPB on 5-bit characters.
		if pc.DataBits != 5 {
			return fmt.Errorf("%w: 1.5 stop bits require 5 data bits", ErrInvalidConfig)
		}
		t.Cflag |= unix.CSTOPB
	}

	switch pc.FlowControl {
	case FlowControlSoftware:
		t.Iflag |= unix.IXON | unix.IXOFF
	case FlowControlHardware:
		t.Cflag |= unix.CRTSCTS
	}

	baud, ok := unixBaudRates[pc.BaudRate]
	if !ok {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidConfig, pc.BaudRate)
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baud
	t.Ispeed = baud
	t.Ospeed = baud

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

var unixBaudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

// Read implements Transport.
func (d *deviceTransport) Read(p []byte, timeout time.Duration) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return 0, errTransportClosed
	}
	ready, err := d.poll(unix.POLLIN, timeout)
	if err != nil || !ready {
		return 0, err
	}
	n, err := unix.Read(d.fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", d.device, err)
	case n == 0:
		// Readable with nothing to read is end of file.
		return 0, io.EOF
	}
	return n, nil
}

// Write implements Transport.
func (d *deviceTransport) Write(p []byte, timeout time.Duration) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return 0, errTransportClosed
	}
	ready, err := d.poll(unix.POLLOUT, timeout)
	if err != nil || !ready {
		return 0, err
	}
	n, err := unix.Write(d.fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("write %s: %w", d.device, err)
	}
	return n, nil
}

// poll waits until the device is ready for events, the timeout elapses, or
// Close is called.
func (d *deviceTransport) poll(events int16, timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	pfd := []unix.PollFd{
		{Fd: int32(d.fd), Events: events},
		{Fd: int32(d.pipeR), Events: unix.POLLIN},
	}
	_, err := unix.Poll(pfd, ms)
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if pfd[1].Revents != 0 {
		return false, errTransportClosed
	}
	revents := pfd[0].Revents
	if revents&events != 0 {
		return true, nil
	}
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("%s: %w (revents 0x%x)", d.device, errHangup, revents)
	}
	return false, nil
}

// Close releases the device. Safe to call multiple times and concurrently
// with Read and Write, which return promptly.
func (d *deviceTransport) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		// Wake up poll using self-pipe
		unix.Write(d.pipeW, []byte{1})

		d.mu.Lock()
		defer d.mu.Unlock()
		err = unix.Close(d.fd)
		unix.Close(d.pipeR)
		unix.Close(d.pipeW)
	})
	return err
}
