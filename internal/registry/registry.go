package registry

import (
	"sync"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// Registry tracks live children, enforcing the invariants from spec.md
// §3: every live WorkerRecord appears under exactly one QueueGroup, no
// two records share a pid, and entries are removed only after the child
// is reaped.
//
// Records are kept in insertion order per QueueGroup so that
// reconcile's downward adjustments can quit the oldest-inserted pids
// first, as spec.md §4.4 requires.
type Registry struct {
	mu        sync.Mutex
	byGroup   map[queuegroup.QueueGroup][]WorkerRecord
	pidGroups map[int]queuegroup.QueueGroup
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byGroup:   make(map[queuegroup.QueueGroup][]WorkerRecord),
		pidGroups: make(map[int]queuegroup.QueueGroup),
	}
}

// add inserts rec. Callers must already hold mu.
func (r *Registry) add(rec WorkerRecord) {
	r.byGroup[rec.QueueGroup] = append(r.byGroup[rec.QueueGroup], rec)
	r.pidGroups[rec.Pid] = rec.QueueGroup
}

// remove deletes the record for pid, if any, and returns it.
func (r *Registry) remove(pid int) (WorkerRecord, bool) {
	group, ok := r.pidGroups[pid]
	if !ok {
		return WorkerRecord{}, false
	}
	delete(r.pidGroups, pid)

	recs := r.byGroup[group]
	for i, rec := range recs {
		if rec.Pid == pid {
			recs = append(recs[:i], recs[i+1:]...)
			if len(recs) == 0 {
				delete(r.byGroup, group)
			} else {
				r.byGroup[group] = recs
			}
			return rec, true
		}
	}
	return WorkerRecord{}, false
}

// Count returns the number of live workers in g.
func (r *Registry) Count(g queuegroup.QueueGroup) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byGroup[g])
}

// Pids returns the live pids of g in insertion order.
func (r *Registry) Pids(g queuegroup.QueueGroup) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.byGroup[g]
	out := make([]int, len(recs))
	for i, rec := range recs {
		out[i] = rec.Pid
	}
	return out
}

// AllPids returns every live pid across every QueueGroup.
func (r *Registry) AllPids() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.pidGroups))
	for pid := range r.pidGroups {
		out = append(out, pid)
	}
	return out
}

// Groups returns the QueueGroups with at least one live worker.
func (r *Registry) Groups() []queuegroup.QueueGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queuegroup.QueueGroup, 0, len(r.byGroup))
	for g := range r.byGroup {
		out = append(out, g)
	}
	return out
}

// Empty reports whether the Registry holds no live workers.
func (r *Registry) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pidGroups) == 0
}

// Snapshot returns a deep-enough copy of the Registry for read-only use
// (the admin /status endpoint, tests).
func (r *Registry) Snapshot() map[queuegroup.QueueGroup][]WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[queuegroup.QueueGroup][]WorkerRecord, len(r.byGroup))
	for g, recs := range r.byGroup {
		cp := make([]WorkerRecord, len(recs))
		copy(cp, recs)
		out[g] = cp
	}
	return out
}
