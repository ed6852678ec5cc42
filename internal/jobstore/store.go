// Package jobstore is the Postgres-backed job queue backing the default
// worker kind's inner loop (spec.md §11's job-execution collaborator).
// The Master Control Loop (internal/supervisor) never uses it: the
// `master` command opens a Store only to build the worker-kind
// registry, and the jobs themselves run in the spawned children.
package jobstore

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// psql is the squirrel statement builder configured for Postgres's
// dollar-sign placeholder style, shared by every query in this package.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the data access object for the job_queue table.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers (migrations, tests)
// that need direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
