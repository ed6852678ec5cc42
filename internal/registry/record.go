// Package registry implements the Worker Registry from spec.md §4.4: the
// in-memory mapping from QueueGroup to the set of live child processes
// that serve it, plus the fork/signal/reap/reconcile primitives built on
// top of it.
package registry

import (
	"time"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// WorkerRecord is per-live-child metadata (spec.md §3).
type WorkerRecord struct {
	Pid        int
	QueueGroup queuegroup.QueueGroup
	Kind       string
	SpawnedAt  time.Time
}
