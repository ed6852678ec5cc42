//go:build unix

package sigintake_test

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/poolmaster/internal/masterid"
	"github.com/scarson/poolmaster/internal/selfpipe"
	"github.com/scarson/poolmaster/internal/sigintake"
	"github.com/scarson/poolmaster/internal/sigqueue"
)

func TestStart_OrdinarySignalIsQueuedAndWakesMaster(t *testing.T) {
	q := sigqueue.New(5)
	w := selfpipe.New()
	in := sigintake.New(q, w, masterid.Capture())
	in.Start()
	defer in.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	require.True(t, w.Wait(time.Second), "SIGUSR1 must wake the master")
	sig, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.USR1, sig)
}

func TestStart_SIGCHLDWakesButIsNeverQueued(t *testing.T) {
	q := sigqueue.New(5)
	w := selfpipe.New()
	in := sigintake.New(q, w, masterid.Capture())
	in.Start()
	defer in.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGCHLD))

	require.True(t, w.Wait(time.Second), "SIGCHLD must wake the master")
	assert.Equal(t, 0, q.Len(), "SIGCHLD must never be queued as a deferred signal")
}

func TestStart_TermTakesQuitNowFastPathWhileWaitingForReaper(t *testing.T) {
	q := sigqueue.New(5)
	w := selfpipe.New()
	in := sigintake.New(q, w, masterid.Capture())
	in.Start()
	defer in.Stop()

	q.SetWaitingForReaper(true)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-q.Escape():
	case <-time.After(time.Second):
		t.Fatal("SIGTERM while waiting for reaper must trigger the quit-now escape")
	}
	assert.Equal(t, 0, q.Len(), "the fast path bypasses the deferred queue entirely")
}

func TestStart_TermIsQueuedNormallyWhenNotWaitingForReaper(t *testing.T) {
	q := sigqueue.New(5)
	w := selfpipe.New()
	in := sigintake.New(q, w, masterid.Capture())
	in.Start()
	defer in.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	require.True(t, w.Wait(time.Second))
	sig, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, sigqueue.TERM, sig)
}

func TestStop_ClosesDoneWithoutPanicking(t *testing.T) {
	q := sigqueue.New(5)
	w := selfpipe.New()
	in := sigintake.New(q, w, masterid.Capture())
	in.Start()

	assert.NotPanics(t, in.Stop)
}
