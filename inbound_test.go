package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func unit(s string) Unit { return Unit{Data: []byte(s), Arrived: time.Now()} }

func TestInbound_FIFO(t *testing.T) {
	q := newInbound(4, OverflowDropOldest)
	stop := make(chan struct{})

	_, ok, arrived := q.pop()
	require.False(t, ok)

	_, pushed := q.push(unit("1"), stop)
	require.True(t, pushed)
	select {
	case <-arrived:
	default:
		t.Fatal("push did not wake waiter")
	}

	q.push(unit("2"), stop)
	for _, want := range []string{"1", "2"} {
		u, ok, _ := q.pop()
		require.True(t, ok)
		require.Equal(t, want, string(u.Data))
	}
	require.Zero(t, q.size())
}

func TestInbound_DropOldest(t *testing.T) {
	q := newInbound(2, OverflowDropOldest)
	stop := make(chan struct{})

	q.push(unit("1"), stop)
	q.push(unit("2"), stop)
	dropped, ok := q.push(unit("3"), stop)
	require.True(t, ok)
	require.Equal(t, 1, dropped)

	u, _, _ := q.pop()
	require.Equal(t, "2", string(u.Data))
}

func TestInbound_Block(t *testing.T) {
	q := newInbound(1, OverflowBlock)
	stop := make(chan struct{})
	q.push(unit("1"), stop)

	pushed := make(chan bool, 1)
	go func() {
		_, ok := q.push(unit("2"), stop)
		pushed <- ok
	}()

	select {
	case <-pushed:
		t.Fatal("push did not block on a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	u, ok, _ := q.pop()
	require.True(t, ok)
	require.Equal(t, "1", string(u.Data))
	select {
	case ok := <-pushed:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push not released by pop")
	}

	// A blocked push gives up when stopped.
	go func() {
		_, ok := q.push(unit("3"), stop)
		pushed <- ok
	}()
	close(stop)
	require.False(t, <-pushed)
}

func TestInbound_TakeUntil(t *testing.T) {
	q := newInbound(8, OverflowDropOldest)
	stop := make(chan struct{})
	first := Unit{Data: []byte("ab"), Arrived: time.Unix(1, 0)}
	second := Unit{Data: []byte("c;de;f"), Arrived: time.Unix(2, 0)}
	q.push(first, stop)
	q.push(second, stop)

	u, ok, _ := q.takeUntil(';')
	require.True(t, ok)
	require.Equal(t, "abc;", string(u.Data))
	require.Equal(t, second.Arrived, u.Arrived)

	u, ok, _ = q.takeUntil(';')
	require.True(t, ok)
	require.Equal(t, "de;", string(u.Data))

	_, ok, _ = q.takeUntil(';')
	require.False(t, ok)
	require.Equal(t, 1, q.size())

	u, ok, _ = q.pop()
	require.True(t, ok)
	require.Equal(t, "f", string(u.Data))
	require.Equal(t, second.Arrived, u.Arrived)
}

func TestInbound_TakeUntilFullBlockingQueue(t *testing.T) {
	q := newInbound(2, OverflowBlock)
	stop := make(chan struct{})
	q.push(Unit{Data: []byte("ab"), Arrived: time.Unix(1, 0)}, stop)

	// Room left: wait for the delimiter.
	_, ok, arrived := q.takeUntil(';')
	require.False(t, ok)
	require.NotNil(t, arrived)

	// Full and blocking: nothing more can arrive, so everything is taken.
	q.push(Unit{Data: []byte("cd"), Arrived: time.Unix(2, 0)}, stop)
	u, ok, _ := q.takeUntil(';')
	require.True(t, ok)
	require.Equal(t, "abcd", string(u.Data))
	require.Equal(t, time.Unix(2, 0), u.Arrived)
	require.Zero(t, q.size())
}

func TestInbound_TakeUntilFullDropOldestWaits(t *testing.T) {
	q := newInbound(2, OverflowDropOldest)
	stop := make(chan struct{})
	q.push(unit("ab"), stop)
	q.push(unit("cd"), stop)

	_, ok, _ := q.takeUntil(';')
	require.False(t, ok)
	require.Equal(t, 2, q.size())
}

func TestInbound_Close(t *testing.T) {
	q := newInbound(2, OverflowBlock)
	stop := make(chan struct{})
	q.push(unit("1"), stop)

	q.close()
	q.close()
	require.Zero(t, q.size())
	_, ok := q.push(unit("2"), stop)
	require.False(t, ok)
}
