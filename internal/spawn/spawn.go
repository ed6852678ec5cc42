//go:build unix

// Package spawn implements the production [registry.Spawner]: spec.md
// §9's fork→exec translation. Spawning a worker re-executes the current
// binary with `work <queue-group>`, passing tuning parameters as
// environment variables, so that "the child" is a distinct OS process
// the master can later signal and reap — never a goroutine (the
// Non-goal "in-process (non-forked) concurrency of jobs" in spec.md §1).
package spawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/scarson/poolmaster/internal/queuegroup"
	"github.com/scarson/poolmaster/internal/registry"
)

// Options configures the ExecSpawner, sourced from config.Config
// (spec.md §6's environment variables) at master startup.
type Options struct {
	// BinaryPath defaults to os.Executable() when empty.
	BinaryPath string

	SinglePgrp     bool
	TermTimeout    time.Duration
	Interval       time.Duration
	RunAtExitHooks bool
	Logging        bool
	Verbose        bool
	VVerbose       bool

	// KnownKinds is the set of registered non-default worker kinds
	// (spec.md §6 register(kind, worker_class)). A QueueGroup whose
	// kind prefix is not "" and not in this set is a configuration
	// error (spec.md §4.4).
	KnownKinds map[string]struct{}
}

// ExecSpawner is the production registry.Spawner.
type ExecSpawner struct {
	binaryPath string
	opts       Options
}

// New resolves the current executable's path (unless overridden) and
// returns a ready-to-use ExecSpawner.
func New(opts Options) (*ExecSpawner, error) {
	path := opts.BinaryPath
	if path == "" {
		resolved, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("spawn: resolve executable: %w", err)
		}
		path = resolved
	}
	return &ExecSpawner{binaryPath: path, opts: opts}, nil
}

// Spawn implements registry.Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, g queuegroup.QueueGroup) (int, error) {
	if !g.KindValid() {
		return 0, fmt.Errorf("%w: %q", registry.ErrUnknownKind, g.Kind())
	}
	if kind := g.Kind(); kind != "" {
		if _, ok := s.opts.KnownKinds[kind]; !ok {
			return 0, fmt.Errorf("%w: %q", registry.ErrUnknownKind, kind)
		}
	}

	cmd := exec.CommandContext(ctx, s.binaryPath, "work", string(g))
	cmd.Env = append(os.Environ(), s.childEnv(g)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: !s.opts.SinglePgrp}
	// exec.CommandContext would kill the child the instant ctx is
	// cancelled; the master's own ctx should outlive individual
	// reconcile passes, so Cancel is relaxed to a no-op here — the
	// master controls child lifetime exclusively through signals sent
	// through the Registry (SignalEverywhere and Reconcile), never
	// through ctx cancellation.
	cmd.Cancel = func() error { return nil }

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn worker: %w", err)
	}
	return cmd.Process.Pid, nil
}

func (s *ExecSpawner) childEnv(g queuegroup.QueueGroup) []string {
	env := []string{
		"POOLMASTER_QUEUE_GROUP=" + string(g),
		"POOLMASTER_MASTER_PID=" + strconv.Itoa(os.Getpid()),
		"POOLMASTER_TERM_TIMEOUT=" + s.opts.TermTimeout.String(),
		"POOLMASTER_INTERVAL=" + s.opts.Interval.String(),
	}
	if s.opts.RunAtExitHooks {
		env = append(env, "RUN_AT_EXIT_HOOKS=1")
	}
	if s.opts.Logging {
		env = append(env, "LOGGING=1")
	}
	if s.opts.Verbose {
		env = append(env, "VERBOSE=1")
	}
	if s.opts.VVerbose {
		env = append(env, "VVERBOSE=1")
	}
	return env
}
