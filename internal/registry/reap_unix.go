//go:build unix

package registry

import (
	"errors"
	"syscall"
	"time"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// Mode selects between the two reap behaviors in spec.md §4.4.
type Mode int

const (
	// NonBlocking reaps every currently-exited child and returns
	// immediately once none remain.
	NonBlocking Mode = iota
	// Blocking waits until the Registry is empty, honoring the
	// quit-now escape from spec.md §4.3.
	Blocking
)

// reapPollInterval is how often a Blocking reap re-checks for exited
// children and for the quit-now escape, since syscall.Wait4 has no
// cancellable variant to select against directly.
const reapPollInterval = 50 * time.Millisecond

// Reap repeatedly waits for exited children, removing their
// WorkerRecord and returning the spawned_at of every reaped record,
// grouped by QueueGroup, per spec.md §4.4. In Blocking mode it unwinds
// cleanly — without waiting for the remaining children — as soon as
// escape fires.
func (r *Registry) Reap(mode Mode, escape <-chan struct{}) map[queuegroup.QueueGroup][]time.Time {
	reaped := map[queuegroup.QueueGroup][]time.Time{}

	for {
		for {
			pid, exited, err := wait4NonBlocking()
			if err != nil || !exited {
				break
			}
			r.mu.Lock()
			rec, ok := r.remove(pid)
			r.mu.Unlock()
			if ok {
				reaped[rec.QueueGroup] = append(reaped[rec.QueueGroup], rec.SpawnedAt)
			}
		}

		if mode == NonBlocking || r.Empty() {
			return reaped
		}

		select {
		case <-escape:
			return reaped
		case <-time.After(reapPollInterval):
		}
	}
}

// wait4NonBlocking performs one WNOHANG wait4(2) call. exited is true
// when a child was reaped; err is non-nil only for unexpected failures
// (ECHILD — no children at all — is reported as exited=false, err=nil).
func wait4NonBlocking() (pid int, exited bool, err error) {
	var status syscall.WaitStatus
	for {
		p, werr := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		switch {
		case werr == nil && p > 0:
			return p, true, nil
		case werr == nil:
			return 0, false, nil
		case errors.Is(werr, syscall.EINTR):
			continue
		case errors.Is(werr, syscall.ECHILD):
			return 0, false, nil
		default:
			return 0, false, werr
		}
	}
}

// SyscallKiller is the production Killer backed by syscall.Kill.
type SyscallKiller struct{}

// Kill sends sig to pid via syscall.Kill.
func (SyscallKiller) Kill(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
