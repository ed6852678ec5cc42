//go:build unix

// Package supervisor implements the Master Control Loop from spec.md
// §4.5: the driver that binds the Backoff Governor, Signal Intake,
// Self-Pipe Waker, and Worker Registry into one deterministic
// supervisor.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/scarson/poolmaster/internal/backoff"
	"github.com/scarson/poolmaster/internal/masterid"
	"github.com/scarson/poolmaster/internal/queuegroup"
	"github.com/scarson/poolmaster/internal/registry"
	"github.com/scarson/poolmaster/internal/selfpipe"
	"github.com/scarson/poolmaster/internal/sigintake"
	"github.com/scarson/poolmaster/internal/sigqueue"
)

// TermBehavior selects which of the four shutdown variants in spec.md
// §4.5 a SIGTERM triggers.
type TermBehavior int

const (
	// GracefulWorkerShutdownAndWait: USR2, then the graceful-quit
	// signal, then a blocking reap.
	GracefulWorkerShutdownAndWait TermBehavior = iota
	// GracefulWorkerShutdown: same signals, no blocking reap.
	GracefulWorkerShutdown
	// TermAndWait: USR2, then TERM unconditionally, then a blocking reap.
	TermAndWait
	// ImmediateShutdown: USR2, then the immediate-quit signal, no wait.
	// This is the default, matching spec.md §4.3's TERM row.
	ImmediateShutdown
)

// ConfigLoader is the collaborator interface from spec.md §4.6.
// [poolconfig.Loader] satisfies this directly; tests supply fakes.
type ConfigLoader interface {
	Load() (queuegroup.Configuration, error)
}

// Options configures a Master. Besides the collaborators (Spawner,
// Killer, Loader, Hooks) and the optional ReopenLogs/SetProcessTitle
// callbacks, its fields are the tuning knobs and behavior options named
// in spec.md §4.3 and §6.
type Options struct {
	Spawner registry.Spawner
	Killer  registry.Killer
	Loader  ConfigLoader
	Hooks   *Hooks

	DelayStep time.Duration
	DelayMax  time.Duration

	TermChild    bool
	HandleWinch  bool
	TermBehavior TermBehavior

	SpawnThrottle time.Duration

	// ReopenLogs is called on HUP before workers are recycled, if set
	// (spec.md §4.3's "reopen log files").
	ReopenLogs func() error

	// SetProcessTitle is a best-effort process-title setter (spec.md
	// §6's phases). nil disables title updates.
	SetProcessTitle func(string)
}

// Master is the supervisor value spec.md §9 describes: "model them as
// fields of a single Master value constructed at program entry". The
// control loop runs on the single goroutine running join. Other
// goroutines reach Master only through its mutex-guarded parts: the
// signal intake goroutine through the Queue and Waker, and callers of
// RequestReload and Snapshot (the admin HTTP server) through the Queue,
// Waker, Registry and backoff Set.
type Master struct {
	opts Options

	registry *registry.Registry
	backoffs *backoff.Set

	id     *masterid.Identity
	waker  *selfpipe.Waker
	sigq   *sigqueue.Queue
	intake *sigintake.Intake

	cfg queuegroup.Configuration
}

// New constructs a Master. Call Start to run it.
func New(opts Options) *Master {
	return &Master{
		opts:     opts,
		registry: registry.New(),
		backoffs: backoff.NewSet(opts.DelayStep, opts.DelayMax),
	}
}

// Registry exposes the live Worker Registry for read-only inspection
// (the admin /status endpoint, poll hooks).
func (m *Master) Registry() *registry.Registry { return m.registry }

// Backoffs exposes the Backoff Governor set for read-only inspection.
func (m *Master) Backoffs() *backoff.Set { return m.backoffs }

// QueueDepth and QueueDrops expose SignalQueue health for /metrics.
func (m *Master) QueueDepth() int { return m.sigq.Len() }
func (m *Master) QueueDrops() int { return m.sigq.Drops() }

// RequestReload enqueues a synthetic HUP, equivalent to `kill -HUP
// <master_pid>` — the admin API's /reload escape hatch.
func (m *Master) RequestReload() {
	m.sigq.Push(sigqueue.HUP)
	m.waker.Wake()
}

// Start performs spec.md §4.5's startup sequence and then runs join
// until a shutdown signal is dispatched or ctx is cancelled.
func (m *Master) Start(ctx context.Context) error {
	m.id = masterid.Capture()
	m.waker = selfpipe.New()
	m.sigq = sigqueue.New(sigqueue.DefaultCapacity)
	m.intake = sigintake.New(m.sigq, m.waker, m.id)
	m.intake.Start()
	defer m.intake.Stop()

	m.setTitle("(initialized)")
	m.setTitle("(starting)")

	if err := m.reloadConfig(); err != nil {
		return fmt.Errorf("supervisor: initial configuration load: %w", err)
	}
	m.reconcile(ctx)
	m.setTitle("(started)")

	return m.join(ctx)
}

// join is one steady-state iteration of spec.md §4.5's numbered list,
// repeated until a shutdown dispatch or ctx cancellation.
func (m *Master) join(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m.reapAndGovern(registry.NonBlocking)
		m.opts.Hooks.runPoll(m)

		if brk := m.dispatchHead(ctx); brk {
			return nil
		}

		if m.sigq.Len() == 0 {
			m.waker.Wait(time.Second)
			if err := m.reloadConfig(); err != nil {
				slog.Error("configuration reload failed, keeping previous configuration", "error", err)
			}
			m.reconcile(ctx)
		}

		m.setTitle(m.managingTitle())
	}
}

func (m *Master) reloadConfig() error {
	cfg, err := m.opts.Loader.Load()
	if err != nil {
		return err
	}
	m.cfg = cfg
	return nil
}

func (m *Master) reconcile(ctx context.Context) {
	res := m.registry.Reconcile(ctx, m.opts.Spawner, m.opts.Killer, m.cfg, m.backoffs, m.gracefulSignal(), m.opts.SpawnThrottle)
	for g, n := range res.Spawned {
		slog.Info("reconcile: spawned workers", "queue_group", string(g), "count", n)
	}
	for g, n := range res.Quit {
		slog.Info("reconcile: quit workers", "queue_group", string(g), "count", n)
	}
}

// reapAndGovern performs one reap pass and applies spec.md §4.1's
// integration rule to every QueueGroup that lost a worker.
func (m *Master) reapAndGovern(mode registry.Mode) {
	reaped := m.registry.Reap(mode, m.sigq.Escape())
	for g, spawnedAts := range reaped {
		m.governReaped(g, spawnedAts)
	}
}

// governReaped applies spec.md §4.1's integration rule to one
// QueueGroup's batch of reaped spawned_at timestamps.
func (m *Master) governReaped(g queuegroup.QueueGroup, spawnedAts []time.Time) {
	oldest := spawnedAts[0]
	for _, t := range spawnedAts[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	if time.Since(oldest) < m.opts.DelayStep {
		m.backoffs.Get(g).DelaySpawns()
		slog.Warn("worker died young, backing off", "queue_group", string(g))
	} else {
		m.backoffs.Discard(g)
	}
}

// dispatchHead drains and dispatches the head of the SignalQueue per
// spec.md §4.3's table. It returns true when the loop should exit.
func (m *Master) dispatchHead(ctx context.Context) bool {
	sig, ok := m.sigq.Pop()
	if !ok {
		return false
	}

	switch sig {
	case sigqueue.USR1:
		m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGUSR1)
	case sigqueue.USR2:
		m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGUSR2)
	case sigqueue.CONT:
		m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGCONT)
	case sigqueue.HUP:
		m.handleHUP(ctx)
	case sigqueue.WINCH:
		m.handleWINCH(ctx)
	case sigqueue.QUIT:
		if m.opts.TermChild {
			m.shutdownImmediate()
		} else {
			m.shutdownGracefulAndWait()
		}
		return true
	case sigqueue.INT:
		m.shutdownGracefulNoWait()
		return true
	case sigqueue.TERM:
		m.shutdownByTermBehavior()
		return true
	}
	return false
}

// handleHUP implements spec.md §4.3's HUP row: reload configuration,
// reopen log files, gracefully recycle every worker (the replacements
// spawned by the following reconcile inherit the new configuration and
// log files), then reconcile.
func (m *Master) handleHUP(ctx context.Context) {
	if err := m.reloadConfig(); err != nil {
		slog.Error("hup: configuration reload failed, keeping previous configuration", "error", err)
	}
	if m.opts.ReopenLogs != nil {
		if err := m.opts.ReopenLogs(); err != nil {
			slog.Error("hup: reopen logs failed", "error", err)
		}
	}
	m.registry.SignalEverywhere(m.opts.Killer, m.gracefulSignal())
	m.reconcile(ctx)
}

// handleWINCH implements spec.md §4.3's opt-in WINCH row.
func (m *Master) handleWINCH(ctx context.Context) {
	if !m.opts.HandleWinch {
		return
	}
	m.cfg = queuegroup.Configuration{}
	m.reconcile(ctx)
}

func (m *Master) shutdownGracefulAndWait() {
	m.setTitle("(shutting down)")
	m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGUSR2)
	m.registry.SignalEverywhere(m.opts.Killer, m.gracefulSignal())
	m.blockingReap()
}

func (m *Master) shutdownGracefulNoWait() {
	m.setTitle("(shutting down)")
	m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGUSR2)
	m.registry.SignalEverywhere(m.opts.Killer, m.gracefulSignal())
}

func (m *Master) shutdownImmediate() {
	m.setTitle("(shutting down)")
	m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGUSR2)
	m.registry.SignalEverywhere(m.opts.Killer, m.immediateSignal())
}

func (m *Master) shutdownTermAndWait() {
	m.setTitle("(shutting down)")
	m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGUSR2)
	m.registry.SignalEverywhere(m.opts.Killer, syscall.SIGTERM)
	m.blockingReap()
}

func (m *Master) shutdownByTermBehavior() {
	switch m.opts.TermBehavior {
	case GracefulWorkerShutdownAndWait:
		m.shutdownGracefulAndWait()
	case GracefulWorkerShutdown:
		m.shutdownGracefulNoWait()
	case TermAndWait:
		m.shutdownTermAndWait()
	default:
		m.shutdownImmediate()
	}
}

// blockingReap sets waiting_for_reaper so Signal Intake routes a
// concurrent INT/TERM onto the quit-now escape (spec.md §4.3) rather
// than the normal deferred queue, then reaps until the Registry is
// empty or that escape fires.
func (m *Master) blockingReap() {
	m.sigq.SetWaitingForReaper(true)
	defer m.sigq.SetWaitingForReaper(false)
	m.reapAndGovern(registry.Blocking)
}

// gracefulSignal is the signal sent to workers that should finish their
// current job and exit (spec.md §6's TERM_CHILD row).
func (m *Master) gracefulSignal() syscall.Signal {
	if m.opts.TermChild {
		return syscall.SIGTERM
	}
	return syscall.SIGQUIT
}

// immediateSignal is gracefulSignal's complement, used by the
// *immediate* shutdown variant (spec.md §4.5).
func (m *Master) immediateSignal() syscall.Signal {
	if m.opts.TermChild {
		return syscall.SIGQUIT
	}
	return syscall.SIGTERM
}

func (m *Master) managingTitle() string {
	return fmt.Sprintf("managing %v", m.registry.AllPids())
}

func (m *Master) setTitle(title string) {
	if m.opts.SetProcessTitle != nil {
		m.opts.SetProcessTitle(title)
	}
}
