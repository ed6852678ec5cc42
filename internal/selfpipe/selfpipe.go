// Package selfpipe implements the self-pipe waker from spec.md §4.2: a
// mechanism that breaks the master out of its blocking wait when a
// signal arrives or a child exits.
//
// spec.md §9 explicitly licenses replacing the literal pipe(2) pair with
// a channel in languages where signal delivery is already
// channel-based: "The self-pipe may be subsumed by the signal channel in
// such a design, but the bounded-queue and drop semantics must be
// preserved." Waker keeps that license but preserves the one-byte-pipe
// contract: at most one pending wake is remembered, Wake never blocks,
// and Wait drains every pending wake before returning so a burst of
// wakes collapses to a single wait cycle (see DESIGN.md for the Open
// Question this resolves).
package selfpipe

import "time"

// Waker is owned exclusively by the master; forked children never
// observe it.
type Waker struct {
	c chan struct{}
}

// New creates a Waker. Equivalent to spec.md §4.2's init(): replaces any
// prior pair. There is nothing to close-on-exec here — channels are not
// inherited across exec the way file descriptors are, so the
// close-on-exec requirement is satisfied for free.
func New() *Waker {
	return &Waker{c: make(chan struct{}, 1)}
}

// Wake writes a single pending wake, non-blocking. A already-pending
// wake (the "full pipe" case) is benign: the master is about to wake
// anyway.
func (w *Waker) Wake() {
	select {
	case w.c <- struct{}{}:
	default:
	}
}

// Wait blocks up to timeout for a pending wake, then drains any
// additional pending wakes without blocking before returning. Returns
// true if woken, false on timeout.
func (w *Waker) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var woken bool
	select {
	case <-w.c:
		woken = true
	case <-timer.C:
		return false
	}

	for {
		select {
		case <-w.c:
		default:
			return woken
		}
	}
}
