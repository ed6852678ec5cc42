package sigqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/poolmaster/internal/sigqueue"
)

func TestPushPop_FIFOOrder(t *testing.T) {
	q := sigqueue.New(5)
	q.Push(sigqueue.USR1)
	q.Push(sigqueue.HUP)
	q.Push(sigqueue.WINCH)

	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.USR1, s)

	s, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.HUP, s)

	s, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.WINCH, s)
}

func TestPop_EmptyQueueReturnsFalse(t *testing.T) {
	q := sigqueue.New(5)
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestPush_OverflowDropsNewestNotOldest(t *testing.T) {
	q := sigqueue.New(2)
	q.Push(sigqueue.USR1)
	q.Push(sigqueue.HUP)
	q.Push(sigqueue.WINCH) // dropped: queue already at capacity 2

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, q.Drops())

	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.USR1, s, "oldest entry must survive overflow")

	s, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.HUP, s)
}

func TestNew_NonPositiveCapacityFallsBackToDefault(t *testing.T) {
	q := sigqueue.New(0)
	for i := 0; i < sigqueue.DefaultCapacity; i++ {
		q.Push(sigqueue.INT)
	}
	assert.Equal(t, sigqueue.DefaultCapacity, q.Len())
	assert.Equal(t, 0, q.Drops())

	q.Push(sigqueue.INT)
	assert.Equal(t, 1, q.Drops(), "push beyond the default capacity must still overflow")
}

func TestSignal_String(t *testing.T) {
	cases := map[sigqueue.Signal]string{
		sigqueue.USR1:         "USR1",
		sigqueue.USR2:         "USR2",
		sigqueue.CONT:         "CONT",
		sigqueue.HUP:          "HUP",
		sigqueue.WINCH:        "WINCH",
		sigqueue.QUIT:         "QUIT",
		sigqueue.INT:          "INT",
		sigqueue.TERM:         "TERM",
		sigqueue.Signal(99):   "UNKNOWN",
	}
	for sig, want := range cases {
		assert.Equal(t, want, sig.String())
	}
}

func TestWaitingForReaper_DefaultsFalse(t *testing.T) {
	q := sigqueue.New(5)
	assert.False(t, q.WaitingForReaper())
}

func TestSetWaitingForReaper_TogglesState(t *testing.T) {
	q := sigqueue.New(5)
	q.SetWaitingForReaper(true)
	assert.True(t, q.WaitingForReaper())

	q.SetWaitingForReaper(false)
	assert.False(t, q.WaitingForReaper())
}

func TestTriggerEscape_ClosesEscapeChannel(t *testing.T) {
	q := sigqueue.New(5)
	q.SetWaitingForReaper(true)

	escaped := make(chan struct{})
	go func() {
		<-q.Escape()
		close(escaped)
	}()

	q.TriggerEscape()

	select {
	case <-escaped:
	case <-time.After(time.Second):
		t.Fatal("Escape channel never closed after TriggerEscape")
	}
}

func TestTriggerEscape_SafeToCallMultipleTimes(t *testing.T) {
	q := sigqueue.New(5)
	q.SetWaitingForReaper(true)

	assert.NotPanics(t, func() {
		q.TriggerEscape()
		q.TriggerEscape()
		q.TriggerEscape()
	})
}

func TestSetWaitingForReaper_ResetsEscapeForNextReapCycle(t *testing.T) {
	q := sigqueue.New(5)

	q.SetWaitingForReaper(true)
	q.TriggerEscape()
	select {
	case <-q.Escape():
	default:
		t.Fatal("expected first escape channel to already be closed")
	}

	// A new blocking reap cycle gets a fresh, unfired escape channel.
	q.SetWaitingForReaper(true)
	select {
	case <-q.Escape():
		t.Fatal("new reap cycle's escape channel must not start closed")
	default:
	}
}
