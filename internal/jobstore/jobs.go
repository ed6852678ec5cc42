package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job is a claimed job ready for execution by a worker kind.
type Job struct {
	ID       uuid.UUID
	Queue    string
	Payload  json.RawMessage
	Attempts int32
}

// ClaimJob atomically claims one pending, due job from queue for
// workerID using SELECT ... FOR UPDATE SKIP LOCKED nested inside a
// single UPDATE, so the claim is atomic without a client-managed
// transaction. Returns (nil, nil) when no job is currently available.
func (s *Store) ClaimJob(ctx context.Context, queue, workerID string) (*Job, error) {
	sub, subArgs, err := psql.Select("id").
		From("job_queue").
		Where(sq.Eq{"queue": queue, "status": "pending"}).
		Where(sq.LtOrEq{"run_after": time.Now()}).
		OrderBy("priority DESC", "run_after ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("jobstore: build claim subquery: %w", err)
	}

	query, args, err := psql.Update("job_queue").
		Set("status", "running").
		Set("locked_by", workerID).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("updated_at", sq.Expr("now()")).
		Where(fmt.Sprintf("id = (%s)", sub), subArgs...).
		Suffix("RETURNING id, queue, payload, attempts").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("jobstore: build claim job: %w", err)
	}

	var job Job
	err = s.pool.QueryRow(ctx, query, args...).Scan(&job.ID, &job.Queue, &job.Payload, &job.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobstore: claim job: %w", err)
	}
	return &job, nil
}

// CompleteJob marks a job as succeeded.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	query, args, err := psql.Update("job_queue").
		Set("status", "completed").
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("jobstore: build complete job: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("jobstore: complete job %s: %w", id, err)
	}
	return nil
}

// FailJob records errMsg against a job and either schedules a retry
// (status back to "pending" with run_after pushed out) or moves it to
// "dead" once maxAttempts is reached.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int32, retryDelay time.Duration) error {
	query, args, err := psql.Update("job_queue").
		Set("last_error", errMsg).
		Set("updated_at", sq.Expr("now()")).
		Set("status", sq.Expr("CASE WHEN attempts >= ? THEN 'dead' ELSE 'pending' END", maxAttempts)).
		Set("run_after", sq.Expr("now() + ?::interval", fmt.Sprintf("%d seconds", int(retryDelay.Seconds())))).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("jobstore: build fail job: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("jobstore: fail job %s: %w", id, err)
	}
	return nil
}

// RecoverStaleJobs resets jobs stuck in "running" state longer than
// staleAfter back to "pending", for a worker that died mid-job without
// failing it explicitly. Returns the number of jobs recovered.
func (s *Store) RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	query, args, err := psql.Update("job_queue").
		Set("status", "pending").
		Set("locked_by", nil).
		Set("updated_at", sq.Expr("now()")).
		Where("status = ? AND updated_at < now() - ?::interval", "running", fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("jobstore: build recover stale jobs: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("jobstore: recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// EnqueueJob inserts a new job into queue and returns its ID. lockKey
// deduplicates concurrent jobs sharing the same key (nil disables
// dedup); runAfter defaults to now() when nil.
func (s *Store) EnqueueJob(
	ctx context.Context,
	queue string,
	priority int32,
	payload json.RawMessage,
	lockKey *string,
	maxAttempts int32,
	runAfter *time.Time,
) (uuid.UUID, error) {
	id := uuid.New()
	when := time.Now()
	if runAfter != nil {
		when = *runAfter
	}

	builder := psql.Insert("job_queue").
		Columns("id", "queue", "priority", "payload", "lock_key", "max_attempts", "run_after", "status").
		Values(id, queue, priority, payload, lockKey, maxAttempts, when, "pending")

	if lockKey != nil {
		builder = builder.Suffix("ON CONFLICT (lock_key) WHERE lock_key IS NOT NULL AND status = 'pending' DO NOTHING")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobstore: build enqueue job: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return uuid.Nil, fmt.Errorf("jobstore: enqueue job: %w", err)
	}
	return id, nil
}
