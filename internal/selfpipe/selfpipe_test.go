package selfpipe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scarson/poolmaster/internal/selfpipe"
)

func TestWait_TimesOutWithNoWake(t *testing.T) {
	w := selfpipe.New()
	start := time.Now()
	woken := w.Wait(20 * time.Millisecond)
	assert.False(t, woken)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWake_ThenWaitReturnsImmediately(t *testing.T) {
	w := selfpipe.New()
	w.Wake()

	start := time.Now()
	woken := w.Wait(time.Second)
	assert.True(t, woken)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWake_NeverBlocksWhenAlreadyPending(t *testing.T) {
	w := selfpipe.New()
	done := make(chan struct{})
	go func() {
		w.Wake()
		w.Wake()
		w.Wake()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake blocked despite a full one-slot buffer")
	}

	assert.True(t, w.Wait(time.Second), "a burst of Wakes must still deliver at least one wake")
}

func TestWait_BurstOfWakesCollapsesToSingleWakeCycle(t *testing.T) {
	w := selfpipe.New()
	w.Wake()
	w.Wake()
	w.Wake()

	assert.True(t, w.Wait(time.Second))
	// The burst must have been fully drained by the first Wait call.
	assert.False(t, w.Wait(20*time.Millisecond))
}

func TestWait_ConcurrentWakeUnblocksPendingWait(t *testing.T) {
	w := selfpipe.New()
	result := make(chan bool, 1)
	go func() {
		result <- w.Wait(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	w.Wake()

	select {
	case woken := <-result:
		assert.True(t, woken)
	case <-time.After(time.Second):
		t.Fatal("Wait never observed the concurrent Wake")
	}
}
