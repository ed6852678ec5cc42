// Package jobrunner implements the default worker kind's blocking
// Work(ctx, interval) loop (spec.md §11): the function a forked child
// runs, after restoring default signal handlers, against the
// `internal/jobstore` job queue.
package jobrunner

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// JobContext is the claimed-job metadata passed to every Handler
// alongside its payload. Handlers that need delivery-level correlation
// or replay protection (the webhook/email handlers sign or tag outbound
// requests with JobID and Attempt) read it instead of reaching back
// into jobstore.
type JobContext struct {
	JobID   uuid.UUID
	Queue   string
	Attempt int32
	Payload json.RawMessage
}

// Handler is the function executed for each claimed job. A non-nil
// return triggers jitter-backoff retry logic up to max_attempts, then
// "dead" status. A nil return marks the job completed.
type Handler func(ctx context.Context, job JobContext) error
