package jobrunner_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/poolmaster/internal/jobrunner"
	"github.com/scarson/poolmaster/internal/queuegroup"
	"github.com/scarson/poolmaster/internal/testutil"
)

func TestWork_ProcessesEnqueuedJobUntilContextCancelled(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := db.EnqueueJob(ctx, "notify", 0, json.RawMessage(`{"ok":true}`), nil, 5, nil)
	require.NoError(t, err)

	w := jobrunner.New(db.Store)
	w.SetQueueDefinition(queuegroup.QueueGroup("notify"))

	done := make(chan struct{})
	w.Register("notify", func(_ context.Context, _ jobrunner.JobContext) error {
		close(done)
		return nil
	})

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Work(runCtx, 20*time.Millisecond) }()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler was never invoked")
	}

	cancel()
	require.NoError(t, <-errCh)
}

func TestWork_HandlerErrorSchedulesRetryNotCompletion(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := db.EnqueueJob(ctx, "notify", 0, json.RawMessage(`{}`), nil, 5, nil)
	require.NoError(t, err)

	w := jobrunner.New(db.Store)
	w.SetQueueDefinition(queuegroup.QueueGroup("notify"))

	attempts := make(chan struct{}, 1)
	w.Register("notify", func(_ context.Context, _ jobrunner.JobContext) error {
		select {
		case attempts <- struct{}{}:
		default:
		}
		return errors.New("boom")
	})

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = w.Work(runCtx, 20*time.Millisecond)

	select {
	case <-attempts:
	default:
		t.Fatal("handler was never invoked")
	}

	// The job should have been pushed out to a future run_after rather
	// than completed, so an immediate claim finds nothing due yet.
	again, err := db.ClaimJob(context.Background(), "notify", "checker")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestWork_NoHandlerRegisteredLeavesJobClaimedButUnactioned(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := db.EnqueueJob(ctx, "orphan", 0, json.RawMessage(`{}`), nil, 5, nil)
	require.NoError(t, err)

	w := jobrunner.New(db.Store)
	w.SetQueueDefinition(queuegroup.QueueGroup("orphan"))

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Work(runCtx, 20*time.Millisecond))

	// Claimed (attempts incremented) but never completed or retried since
	// no handler exists for the queue.
	job, err := db.ClaimJob(context.Background(), "orphan", "checker")
	require.NoError(t, err)
	assert.Nil(t, job, "job was claimed by the worker's own pass and left running, not re-claimable")
}

func TestWork_HandlerReceivesJobContext(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	id, err := db.EnqueueJob(ctx, "notify", 0, json.RawMessage(`{"ok":true}`), nil, 5, nil)
	require.NoError(t, err)

	w := jobrunner.New(db.Store)
	w.SetQueueDefinition(queuegroup.QueueGroup("notify"))

	got := make(chan jobrunner.JobContext, 1)
	w.Register("notify", func(_ context.Context, jc jobrunner.JobContext) error {
		got <- jc
		return nil
	})

	runCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	go func() { _ = w.Work(runCtx, 20*time.Millisecond) }()

	select {
	case jc := <-got:
		assert.Equal(t, id, jc.JobID)
		assert.Equal(t, "notify", jc.Queue)
		assert.Equal(t, int32(1), jc.Attempt)
		assert.JSONEq(t, `{"ok":true}`, string(jc.Payload))
	case <-time.After(1 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestWork_SetMaxAttemptsAffectsDeadTransition(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := db.EnqueueJob(ctx, "notify", 0, json.RawMessage(`{}`), nil, 1, nil)
	require.NoError(t, err)

	w := jobrunner.New(db.Store)
	w.SetQueueDefinition(queuegroup.QueueGroup("notify"))
	w.SetMaxAttempts(1)
	w.Register("notify", func(_ context.Context, _ jobrunner.JobContext) error {
		return errors.New("always fails")
	})

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Work(runCtx, 20*time.Millisecond))

	n, err := db.RecoverStaleJobs(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a dead job must not be recoverable as stale")
}
