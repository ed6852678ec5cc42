package jobrunner

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/scarson/poolmaster/internal/jobstore"
	"github.com/scarson/poolmaster/internal/queuegroup"
)

const (
	staleCheckInterval       = time.Minute
	staleThreshold           = 5 * time.Minute
	defaultMaxAttempts int32 = 5
	retryBase                = 2 * time.Second
	retryMax                 = 5 * time.Minute
	defaultTermTimeout       = 4 * time.Second
)

// Worker is the default WorkerKind: it claims and executes jobs from
// internal/jobstore across every queue named in its QueueGroup,
// dispatching to a per-queue Handler. It also plays the role spec.md
// §4.5's design note calls "the term-timeout wrapper": on SIGUSR2 it
// stops claiming new jobs, and on SIGTERM/SIGQUIT it also stops
// claiming and lets any in-flight job finish before Work returns. Jobs
// run on Work's own goroutine, so term_timeout does not cut a running
// job short: Work returns only after the job's handler has returned.
type Worker struct {
	store       *jobstore.Store
	workerID    string
	maxAttempts int32

	mu       sync.RWMutex
	handlers map[string]Handler

	queueGroup      queuegroup.QueueGroup
	spawnedAt       time.Time
	poolMasterPID   int
	termTimeout     time.Duration
	termChild       bool
	workerParentPID int

	draining atomic.Bool
	inFlight sync.WaitGroup
}

// New creates a Worker backed by store. A random workerID distinguishes
// this process in job_queue.locked_by.
func New(store *jobstore.Store) *Worker {
	return &Worker{
		store:       store,
		workerID:    uuid.New().String(),
		handlers:    make(map[string]Handler),
		maxAttempts: defaultMaxAttempts,
		termTimeout: defaultTermTimeout,
	}
}

// Register associates h with queue. Must be called before Work.
func (w *Worker) Register(queue string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[queue] = h
}

// SetMaxAttempts overrides the default retry ceiling before a job is
// marked dead.
func (w *Worker) SetMaxAttempts(n int32) { w.maxAttempts = n }

func (w *Worker) SetQueueDefinition(g queuegroup.QueueGroup) { w.queueGroup = g }
func (w *Worker) SetSpawnedAt(t time.Time)                   { w.spawnedAt = t }
func (w *Worker) SetPoolMasterPID(pid int)                   { w.poolMasterPID = pid }
func (w *Worker) SetTermTimeout(d time.Duration) {
	if d > 0 {
		w.termTimeout = d
	}
}
func (w *Worker) SetTermChild(b bool)         { w.termChild = b }
func (w *Worker) SetWorkerParentPID(pid int)  { w.workerParentPID = pid }

// Work blocks, polling every interval, until ctx is cancelled or a
// graceful-shutdown signal observed from the master completes its
// drain sequence.
func (w *Worker) Work(ctx context.Context, interval time.Duration) error {
	queues := splitQueues(w.queueGroup)

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	go w.watchSignals(sigCh, stop)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	staleTicker := time.NewTicker(staleCheckInterval)
	defer staleTicker.Stop()

	slog.Info("worker started", "worker_id", w.workerID, "queue_group", string(w.queueGroup), "pid", os.Getpid())

	for {
		select {
		case <-ctx.Done():
			w.inFlight.Wait()
			return nil
		case <-stopCh:
			return nil
		case <-ticker.C:
			if w.draining.Load() {
				continue
			}
			for _, q := range queues {
				w.processOne(ctx, q)
			}
		case <-staleTicker.C:
			if n, err := w.store.RecoverStaleJobs(ctx, staleThreshold); err != nil {
				slog.Error("stale job recovery failed", "error", err)
			} else if n > 0 {
				slog.Info("reclaimed stale jobs", "count", n)
			}
		}
	}
}

// watchSignals implements the child's side of spec.md §4.5's shutdown
// sequences: USR2 stops new claims; TERM/QUIT additionally waits for
// the in-flight job (if any) up to termTimeout, then triggers stop.
func (w *Worker) watchSignals(sigCh <-chan os.Signal, stop func()) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR2:
			w.draining.Store(true)
			slog.Info("worker draining: no longer claiming new jobs", "worker_id", w.workerID)
		case syscall.SIGTERM, syscall.SIGQUIT:
			w.draining.Store(true)
			slog.Info("worker terminating", "worker_id", w.workerID, "signal", sig.String())
			timer := time.AfterFunc(w.termTimeout, stop)
			go func() {
				w.inFlight.Wait()
				timer.Stop()
				stop()
			}()
			return
		}
	}
}

// processOne claims one job from queue and executes it. Errors are
// logged but never stop the polling loop.
func (w *Worker) processOne(ctx context.Context, queue string) {
	job, err := w.store.ClaimJob(ctx, queue, w.workerID)
	if err != nil {
		slog.Error("claim job failed", "queue", queue, "error", err)
		return
	}
	if job == nil {
		return
	}

	w.mu.RLock()
	h := w.handlers[queue]
	w.mu.RUnlock()
	if h == nil {
		slog.Error("no handler registered for queue", "queue", queue, "job_id", job.ID)
		return
	}

	w.inFlight.Add(1)
	defer w.inFlight.Done()

	slog.Info("executing job", "queue", queue, "job_id", job.ID, "attempts", job.Attempts)

	jc := JobContext{JobID: job.ID, Queue: job.Queue, Attempt: job.Attempts, Payload: job.Payload}
	if err := h(ctx, jc); err != nil {
		slog.Error("job handler failed", "queue", queue, "job_id", job.ID, "error", err)
		delay := retryDelay(job.Attempts)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error(), w.maxAttempts, delay); failErr != nil {
			slog.Error("fail job error", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		slog.Error("complete job error", "job_id", job.ID, "error", err)
		return
	}
	slog.Info("job completed", "queue", queue, "job_id", job.ID)
}

// retryDelay computes a jittered exponential backoff for the next
// retry of a job that has failed attempts times: base * 2^(attempts-1)
// clamped to retryMax, plus up to one second of jitter to avoid
// thundering-herd retries across many workers.
func retryDelay(attempts int32) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryBase
	for i := int32(1); i < attempts && delay < retryMax; i++ {
		delay *= 2
	}
	if delay > retryMax {
		delay = retryMax
	}
	return delay + time.Duration(rand.Int63n(int64(time.Second)))
}

func splitQueues(g queuegroup.QueueGroup) []string {
	_, queues := g.Split()
	if queues == "" {
		return nil
	}
	parts := strings.Split(queues, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
