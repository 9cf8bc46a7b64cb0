//go:build linux

package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openPTYArbiter(t *testing.T, slave string) *Arbiter {
	t.Helper()
	arb := New(Config{
		Opener:         LinuxOpener{},
		ReconnectDelay: 5 * time.Millisecond,
		Logger:         zaptest.NewLogger(t),
	})
	require.NoError(t, arb.Open(PortConfig{Device: slave, BaudRate: 115200}))
	t.Cleanup(func() { arb.Close() })
	return arb
}

func TestArbiterPTY_ChatMasterSlave(t *testing.T) {
	master, slave := openPTY(t)
	arb := openPTYArbiter(t, slave)

	// 1. Master writes to slave, arbiter should receive
	_, err := master.Write([]byte("ping\n"))
	require.NoError(t, err)

	line, ok, err := arb.ReceiveString(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ping\n", line)

	// 2. Arbiter writes to master, master should receive
	require.NoError(t, arb.TransmitString("pong\n", time.Now().Add(time.Second)))

	buf := make([]byte, 128)
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong\n", string(buf[:n]))
}

func TestArbiterPTY_NoReply(t *testing.T) {
	_, slave := openPTY(t)
	arb := openPTYArbiter(t, slave)

	_, ok, err := arb.Receive(time.Now().Add(50 * time.Millisecond))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArbiterPTY_Killability(t *testing.T) {
	master, slave := openPTY(t)
	arb := openPTYArbiter(t, slave)

	_, err := master.Write([]byte("test data\n"))
	require.NoError(t, err)
	_, ok, err := arb.Receive(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	rxErr := make(chan error, 1)
	go func() {
		_, _, err := arb.Receive(time.Now().Add(10 * time.Second))
		rxErr <- err
	}()

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, arb.Close())

	select {
	case err := <-rxErr:
		require.ErrorIs(t, err, ErrCanceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Receive to return after Close")
	}

	// Should be a no-op
	require.NoError(t, arb.Close())
}

func TestArbiterPTY_Disconnect(t *testing.T) {
	master, slave := openPTY(t)
	arb := openPTYArbiter(t, slave)

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	require.Eventually(t, func() bool { return arb.Stats().Faults == 1 }, time.Second, time.Millisecond)
	require.NotEqual(t, StateOpen, arb.State())

	_, ok, err := arb.Receive(time.Now().Add(20 * time.Millisecond))
	require.ErrorIs(t, err, ErrConnection)
	require.False(t, ok)
}
