package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/poolmaster/internal/backoff"
	"github.com/scarson/poolmaster/internal/queuegroup"
)

func TestGovernor_ShouldSpawn_TrueBeforeAnyFailure(t *testing.T) {
	g := backoff.New(50*time.Millisecond, 200*time.Millisecond)
	assert.True(t, g.ShouldSpawn())
}

func TestGovernor_DelaySpawns_SuppressesUntilExpiry(t *testing.T) {
	g := backoff.New(20*time.Millisecond, 500*time.Millisecond)
	g.DelaySpawns()

	assert.False(t, g.ShouldSpawn(), "spawn should be suppressed immediately after DelaySpawns")
	require.False(t, g.DelayUntil().IsZero())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, g.ShouldSpawn(), "delay window should have expired")
}

func TestGovernor_DelaySpawns_GrowsExponentiallyAndClampsToMax(t *testing.T) {
	g := backoff.New(2*time.Second, 5*time.Second)

	g.DelaySpawns() // failed_count=1, delay=2^1=2s
	first := g.DelayUntil()
	assert.WithinDuration(t, time.Now().Add(2*time.Second), first, 250*time.Millisecond)

	g.DelaySpawns() // failed_count=2, delay=2^2=4s
	second := g.DelayUntil()
	assert.True(t, second.After(first))

	for i := 0; i < 10; i++ {
		g.DelaySpawns() // delay grows past max (5s) and stays clamped there
	}
	clamped := g.DelayUntil()
	assert.WithinDuration(t, time.Now().Add(5*time.Second), clamped, 250*time.Millisecond)
}

func TestGovernor_Reset_ClearsFailedCountAndDelay(t *testing.T) {
	g := backoff.New(time.Minute, time.Hour)
	g.DelaySpawns()
	require.False(t, g.ShouldSpawn())

	g.Reset()
	assert.True(t, g.ShouldSpawn())
	assert.True(t, g.DelayUntil().IsZero())
}

func TestSet_Get_CreatesLazilyAndReusesGovernor(t *testing.T) {
	s := backoff.NewSet(time.Second, time.Minute)
	a := s.Get("critical,high")
	b := s.Get("critical,high")
	assert.Same(t, a, b)
}

func TestSet_Peek_DoesNotCreateAnEntry(t *testing.T) {
	s := backoff.NewSet(time.Second, time.Minute)
	_, ok := s.Peek("critical,high")
	assert.False(t, ok)

	s.Get("critical,high")
	_, ok = s.Peek("critical,high")
	assert.True(t, ok)
}

func TestSet_Discard_RemovesEntry(t *testing.T) {
	s := backoff.NewSet(time.Second, time.Minute)
	s.Get("critical,high")
	s.Discard("critical,high")

	_, ok := s.Peek("critical,high")
	assert.False(t, ok)
}

func TestSet_Snapshot_ReflectsEveryTrackedGroup(t *testing.T) {
	s := backoff.NewSet(time.Millisecond, time.Second)
	s.Get("critical,high").DelaySpawns()
	s.Get("low")

	snap := s.Snapshot()
	require.Contains(t, snap, queuegroup.QueueGroup("critical,high"))
	require.Contains(t, snap, queuegroup.QueueGroup("low"))
	assert.False(t, snap["critical,high"].IsZero())
	assert.True(t, snap["low"].IsZero())
}
