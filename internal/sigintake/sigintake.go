//go:build unix

// Package sigintake translates asynchronous OS signals into synchronous
// work for the master loop (spec.md §4.3). It runs the signal-handling
// goroutine that Design Notes §9 describes as the Go translation of a
// re-entrant-signal-handler design: a dedicated goroutine reading
// os/signal's channel, pushing onto the bounded [sigqueue.Queue] and
// poking the [selfpipe.Waker], with the one synchronous exception spelled
// out in spec.md §4.3 — the quit-now fast path out of a blocking reap.
package sigintake

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/scarson/poolmaster/internal/masterid"
	"github.com/scarson/poolmaster/internal/selfpipe"
	"github.com/scarson/poolmaster/internal/sigqueue"
)

// handledSignals is every OS signal the master consumes (spec.md §6's
// "Signals consumed" row). SIGCHLD is included because it must wake the
// master even though it is never queued.
var handledSignals = []os.Signal{
	syscall.SIGQUIT,
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGCONT,
	syscall.SIGHUP,
	syscall.SIGWINCH,
	syscall.SIGCHLD,
}

// Intake owns the OS-level signal.Notify registration and the goroutine
// that drains it.
type Intake struct {
	queue *sigqueue.Queue
	waker *selfpipe.Waker
	id    *masterid.Identity

	ch   chan os.Signal
	done chan struct{}
}

// New creates an Intake. Call Start to begin receiving signals.
func New(queue *sigqueue.Queue, waker *selfpipe.Waker, id *masterid.Identity) *Intake {
	return &Intake{
		queue: queue,
		waker: waker,
		id:    id,
		ch:    make(chan os.Signal, 16),
		done:  make(chan struct{}),
	}
}

// Start installs the signal handlers and launches the intake goroutine.
func (in *Intake) Start() {
	signal.Notify(in.ch, handledSignals...)
	go in.loop()
}

// Stop uninstalls the signal handlers and terminates the goroutine.
func (in *Intake) Stop() {
	signal.Stop(in.ch)
	close(in.done)
}

func (in *Intake) loop() {
	for {
		select {
		case <-in.done:
			return
		case sig := <-in.ch:
			in.handle(sig)
		}
	}
}

// handle implements spec.md §3's MasterIdentity invariant and §4.3's
// deferred-vs-immediate dispatch table.
func (in *Intake) handle(sig os.Signal) {
	if !in.id.IsMaster() {
		return
	}

	unixSig, _ := sig.(syscall.Signal)

	if unixSig == syscall.SIGCHLD {
		in.waker.Wake()
		return
	}

	token, ok := toToken(unixSig)
	if !ok {
		return
	}

	if (token == sigqueue.INT || token == sigqueue.TERM) && in.queue.WaitingForReaper() {
		in.queue.TriggerEscape()
		in.waker.Wake()
		return
	}

	in.queue.Push(token)
	in.waker.Wake()
}

func toToken(sig syscall.Signal) (sigqueue.Signal, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return sigqueue.USR1, true
	case syscall.SIGUSR2:
		return sigqueue.USR2, true
	case syscall.SIGCONT:
		return sigqueue.CONT, true
	case syscall.SIGHUP:
		return sigqueue.HUP, true
	case syscall.SIGWINCH:
		return sigqueue.WINCH, true
	case syscall.SIGQUIT:
		return sigqueue.QUIT, true
	case syscall.SIGINT:
		return sigqueue.INT, true
	case syscall.SIGTERM:
		return sigqueue.TERM, true
	default:
		return 0, false
	}
}
