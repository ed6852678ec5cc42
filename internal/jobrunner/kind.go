package jobrunner

import (
	"context"
	"time"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// WorkerKind is spec.md §9's capability set re-expressed as a Go
// interface: "work(interval), queue_definition=, spawned_at=,
// pool_master_pid=, term_timeout=, term_child=, worker_parent_pid=".
// Every registered worker variant, including the default, must satisfy
// it.
type WorkerKind interface {
	SetQueueDefinition(queuegroup.QueueGroup)
	SetSpawnedAt(time.Time)
	SetPoolMasterPID(int)
	SetTermTimeout(time.Duration)
	SetTermChild(bool)
	SetWorkerParentPID(int)

	// Work blocks, polling every interval, until ctx is cancelled or a
	// graceful-shutdown signal is observed.
	Work(ctx context.Context, interval time.Duration) error
}

// Constructor builds a fresh WorkerKind value for one child invocation.
type Constructor func() WorkerKind

// KindRegistry maps the `<kind>:` prefix from a QueueGroup string to
// its Constructor (spec.md §6 "register(kind, worker_class)"). The
// empty string key is the default kind.
type KindRegistry struct {
	m map[string]Constructor
}

// NewKindRegistry returns an empty KindRegistry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{m: make(map[string]Constructor)}
}

// Register installs constructor under kind. kind == "" registers the
// default variant.
func (r *KindRegistry) Register(kind string, constructor Constructor) {
	r.m[kind] = constructor
}

// Known reports whether kind has been registered, for the spawner's
// configuration-error check (spec.md §4.4).
func (r *KindRegistry) Known(kind string) bool {
	_, ok := r.m[kind]
	return ok
}

// KnownKinds returns the set of non-default registered kinds, for
// wiring into internal/spawn.Options.KnownKinds.
func (r *KindRegistry) KnownKinds() map[string]struct{} {
	out := make(map[string]struct{}, len(r.m))
	for k := range r.m {
		if k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}

// Build constructs the WorkerKind registered under kind, or ok=false
// if kind was never registered.
func (r *KindRegistry) Build(kind string) (WorkerKind, bool) {
	constructor, ok := r.m[kind]
	if !ok {
		return nil, false
	}
	return constructor(), true
}
