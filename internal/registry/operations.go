package registry

import (
	"context"
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/scarson/poolmaster/internal/backoff"
	"github.com/scarson/poolmaster/internal/queuegroup"
)

// Killer sends an OS signal to a pid. "No such process" is swallowed by
// implementations per spec.md §4.4/§7 ("transient child-process errors
// ... swallowed silently").
type Killer interface {
	Kill(pid int, sig syscall.Signal) error
}

// Spawn forks (execs, per spec.md §9) one worker for g via the
// configured Spawner and, on success, records it. An unknown worker
// kind is logged and skipped — it never reaches the master's error
// path (spec.md §7).
func (r *Registry) Spawn(ctx context.Context, spawner Spawner, g queuegroup.QueueGroup) error {
	pid, err := spawner.Spawn(ctx, g)
	if err != nil {
		if errors.Is(err, ErrUnknownKind) {
			slog.Error("spawn skipped: unknown worker kind", "queue_group", string(g), "kind", g.Kind())
			return nil
		}
		return err
	}

	r.mu.Lock()
	r.add(WorkerRecord{Pid: pid, QueueGroup: g, Kind: g.Kind(), SpawnedAt: time.Now()})
	r.mu.Unlock()

	slog.Info("spawned worker", "pid", pid, "queue_group", string(g))
	return nil
}

// SignalAll sends sig to every live pid in g. Errors meaning the process
// is already gone are swallowed (spec.md §4.4).
func (r *Registry) SignalAll(killer Killer, g queuegroup.QueueGroup, sig syscall.Signal) {
	for _, pid := range r.Pids(g) {
		signalOne(killer, pid, sig)
	}
}

// SignalEverywhere sends sig to every live pid across every QueueGroup —
// used by USR1/USR2/CONT forwarding and by the shutdown sequences in
// spec.md §4.5, which operate on the whole fleet at once.
func (r *Registry) SignalEverywhere(killer Killer, sig syscall.Signal) {
	for _, pid := range r.AllPids() {
		signalOne(killer, pid, sig)
	}
}

func signalOne(killer Killer, pid int, sig syscall.Signal) {
	if err := killer.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Warn("signal delivery failed", "pid", pid, "signal", sig, "error", err)
	}
}

// Delta computes target(g) − |Registry[g]|, clamped to ≤ 0 whenever the
// backoff Governor for g currently forbids spawning — a positive delta
// is suppressed to zero, but a negative delta (shrink) is always honored
// even mid-backoff, matching spec.md §4.4's stated design intent.
func (r *Registry) Delta(g queuegroup.QueueGroup, target int, backoffs *backoff.Set) int {
	delta := target - r.Count(g)
	if delta <= 0 {
		return delta
	}
	if gov, ok := backoffs.Peek(g); ok && !gov.ShouldSpawn() {
		return 0
	}
	return delta
}

// ReconcileResult tallies one reconcile() pass for logging/metrics.
type ReconcileResult struct {
	Spawned map[queuegroup.QueueGroup]int
	Quit    map[queuegroup.QueueGroup]int
}

// Reconcile brings each known QueueGroup toward its configured target,
// per spec.md §4.4: positive deltas spawn workers (each followed by the
// optional throttle sleep); negative deltas send quitSignal to the
// oldest-inserted |delta| pids in that group.
func (r *Registry) Reconcile(
	ctx context.Context,
	spawner Spawner,
	killer Killer,
	cfg queuegroup.Configuration,
	backoffs *backoff.Set,
	quitSignal syscall.Signal,
	spawnThrottle time.Duration,
) ReconcileResult {
	res := ReconcileResult{Spawned: map[queuegroup.QueueGroup]int{}, Quit: map[queuegroup.QueueGroup]int{}}

	for _, g := range queuegroup.Groups(cfg, r.Groups()) {
		target := cfg[g]
		delta := r.Delta(g, target, backoffs)

		switch {
		case delta > 0:
			for i := 0; i < delta; i++ {
				if err := r.Spawn(ctx, spawner, g); err != nil {
					slog.Error("reconcile: spawn failed", "queue_group", string(g), "error", err)
					continue
				}
				res.Spawned[g]++
				if spawnThrottle > 0 {
					time.Sleep(spawnThrottle)
				}
			}
		case delta < 0:
			pids := r.Pids(g)
			n := -delta
			if n > len(pids) {
				n = len(pids)
			}
			for _, pid := range pids[:n] {
				signalOne(killer, pid, quitSignal)
			}
			res.Quit[g] = n
		}
	}

	return res
}
