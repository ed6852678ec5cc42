package registry

import (
	"context"
	"errors"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// ErrUnknownKind is returned by a Spawner when a QueueGroup's kind
// prefix does not match any registered worker kind. Per spec.md §4.4
// this is a configuration error that is fatal to the individual spawn
// but not to the master.
var ErrUnknownKind = errors.New("registry: unknown worker kind")

// Spawner creates one new child process serving g and returns its pid.
// Implementations own the fork/exec (or exec-only, per spec.md §9's
// process-model translation) mechanics; Registry only needs the
// resulting pid to track liveness.
type Spawner interface {
	Spawn(ctx context.Context, g queuegroup.QueueGroup) (pid int, err error)
}
