// Command poolmaster is the worker pool supervisor binary (spec.md §0).
//
// Subcommands:
//
//	master     — starts the Master Control Loop (default for production)
//	work       — internal entrypoint used when the master re-execs itself
//	migrate    — run pending job_queue migrations and exit
//	admin-key  — generate a new ADMIN_API_KEY for the admin HTTP surface
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// the Go GC triggers before the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/scarson/poolmaster/internal/adminapi"
	"github.com/scarson/poolmaster/internal/auth"
	"github.com/scarson/poolmaster/internal/config"
	"github.com/scarson/poolmaster/internal/jobhandlers"
	"github.com/scarson/poolmaster/internal/jobrunner"
	"github.com/scarson/poolmaster/internal/jobstore"
	"github.com/scarson/poolmaster/internal/poolconfig"
	"github.com/scarson/poolmaster/internal/queuegroup"
	"github.com/scarson/poolmaster/internal/registry"
	"github.com/scarson/poolmaster/internal/spawn"
	"github.com/scarson/poolmaster/internal/supervisor"
	"github.com/scarson/poolmaster/migrations"
)

func main() {
	root := &cobra.Command{ //nolint:exhaustruct
		Use:           "poolmaster",
		Short:         "poolmaster — a fork/exec worker pool supervisor",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(masterCmd(), workCmd(), migrateCmd(), adminKeyCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// hooks is shared identically between the master and work code paths
// (supervisor.Hooks' doc comment explains why: both are the same binary
// registering the same hooks at startup, which is how an "after_prefork"
// hook ends up running inside the freshly exec'd child).
func registerHooks() *supervisor.Hooks {
	return supervisor.NewHooks()
}

// kindRegistry builds the worker-kind registry. Only the default
// (unprefixed) kind is registered: a jobrunner.Worker with the "webhook"
// and "email" handlers attached to the queues of those names. No
// "<kind>:" prefix is registered, so a QueueGroup carrying one is
// rejected as an unknown kind.
func kindRegistry(store *jobstore.Store, cfg *config.Config) (*jobrunner.KindRegistry, error) {
	reg := jobrunner.NewKindRegistry()

	safeClient, err := jobhandlers.BuildSafeClient()
	if err != nil {
		return nil, fmt.Errorf("build webhook client: %w", err)
	}
	smtpCfg := jobhandlers.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
	}

	newDefault := func() jobrunner.WorkerKind {
		w := jobrunner.New(store)
		w.Register("webhook", jobhandlers.NewWebhookHandler(safeClient))
		w.Register("email", jobhandlers.NewEmailHandler(smtpCfg))
		return w
	}
	reg.Register("", newDefault)
	return reg, nil
}

// ── master ────────────────────────────────────────────────────────────

func masterCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:    "master",
		Short:  "Start the Master Control Loop",
		RunE:   runMaster,
	}
}

func runMaster(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	store := jobstore.New(db)

	kinds, err := kindRegistry(store, cfg)
	if err != nil {
		return err
	}

	hooks := registerHooks()

	spawner, err := spawn.New(spawn.Options{ //nolint:exhaustruct
		SinglePgrp:     bool(cfg.SinglePgrp),
		TermTimeout:    cfg.WorkerTermTimeout,
		Interval:       cfg.WorkerInterval,
		RunAtExitHooks: cfg.RunAtExitHooks,
		Logging:        cfg.Logging,
		Verbose:        cfg.Verbose,
		VVerbose:       cfg.VVerbose,
		KnownKinds:     kinds.KnownKinds(),
	})
	if err != nil {
		return fmt.Errorf("build spawner: %w", err)
	}

	env := poolconfig.ResolveEnv(os.Getenv)
	loader := poolconfig.New(cfg.PoolConfigFile, env)

	master := supervisor.New(supervisor.Options{ //nolint:exhaustruct
		Spawner:       spawner,
		Killer:        registry.SyscallKiller{},
		Loader:        loader,
		Hooks:         hooks,
		DelayStep:     cfg.DelaySpawnLimit,
		DelayMax:      cfg.DelaySpawnMax,
		TermChild:     cfg.TermChild,
		HandleWinch:   cfg.HandleWinch,
		TermBehavior:  termBehaviorFromString(cfg.TermBehavior),
		SpawnThrottle: cfg.SpawnThrottle,
	})

	// Shutdown-by-signal is owned entirely by sigintake/sigq inside
	// supervisor.Master (spec.md §4.3's TERM/INT/QUIT rows) — ctx here is
	// for caller-initiated cancellation only. Wiring the same SIGTERM/
	// SIGINT onto ctx via signal.NotifyContext would race sigintake's own
	// os/signal registration: a canceled ctx short-circuits join() before
	// the queued TERM/INT token ever reaches dispatchHead, so the master
	// would exit without ever signaling its children. cancel() still
	// fires once Start returns, which is what tells adminServerPollHook's
	// goroutine to shut the admin server down.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.AdminEnabled {
		hooks.RegisterPoll(adminServerPollHook(ctx, cfg, master))
	}

	slog.Info("master starting", "pid", os.Getpid(), "env", env, "pool_config_file", cfg.PoolConfigFile)
	return master.Start(ctx)
}

func termBehaviorFromString(s string) supervisor.TermBehavior {
	switch s {
	case "graceful_worker_shutdown_and_wait":
		return supervisor.GracefulWorkerShutdownAndWait
	case "graceful_worker_shutdown":
		return supervisor.GracefulWorkerShutdown
	case "term_and_wait":
		return supervisor.TermAndWait
	default:
		return supervisor.ImmediateShutdown
	}
}

// adminServerPollHook returns a supervisor.PollHook that starts the
// admin HTTP surface on its first invocation and does nothing on every
// call after that — the control loop's own poll-hook plumbing is what
// owns the server's lifecycle (spec.md §12), rather than a second
// independent supervisor goroutine started ahead of master.Start.
func adminServerPollHook(ctx context.Context, cfg *config.Config, master *supervisor.Master) supervisor.PollHook {
	var started bool

	return func(m *supervisor.Master) error {
		if started {
			return nil
		}
		started = true

		var apiKeyHash string
		if cfg.AdminAPIKey != "" {
			apiKeyHash = auth.HashAPIKey(cfg.AdminAPIKey)
		} else {
			slog.Warn("ADMIN_API_KEY not set — admin /status and /reload are unauthenticated")
		}

		srv := adminapi.NewServer(adminapi.Options{
			Master:     master,
			APIKeyHash: apiKeyHash,
			Snapshot:   master.Snapshot,
		})

		httpSrv := &http.Server{ //nolint:exhaustruct
			Addr:              cfg.AdminListenAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			slog.Info("admin server started", "addr", cfg.AdminListenAddr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server error", "error", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		return nil
	}
}

// ── work ──────────────────────────────────────────────────────────────

func workCmd() *cobra.Command {
	cmd := &cobra.Command{ //nolint:exhaustruct
		Use:    "work <queue-group>",
		Short:  "Run one worker kind's blocking loop against a queue group",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE:   runWork,
	}
	return cmd
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	g := queuegroup.QueueGroup(args[0])
	if !g.KindValid() {
		return fmt.Errorf("work: invalid queue group %q", g)
	}

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	store := jobstore.New(db)

	kinds, err := kindRegistry(store, cfg)
	if err != nil {
		return err
	}
	worker, ok := kinds.Build(g.Kind())
	if !ok {
		return fmt.Errorf("work: unknown worker kind %q", g.Kind())
	}

	masterPID, _ := strconv.Atoi(os.Getenv("POOLMASTER_MASTER_PID")) //nolint:errcheck
	termTimeout := cfg.WorkerTermTimeout
	if v := os.Getenv("POOLMASTER_TERM_TIMEOUT"); v != "" {
		if d, parseErr := time.ParseDuration(v); parseErr == nil {
			termTimeout = d
		}
	}
	interval := cfg.WorkerInterval
	if v := os.Getenv("POOLMASTER_INTERVAL"); v != "" {
		if d, parseErr := time.ParseDuration(v); parseErr == nil {
			interval = d
		}
	}

	worker.SetQueueDefinition(g)
	worker.SetSpawnedAt(time.Now())
	worker.SetPoolMasterPID(masterPID)
	worker.SetTermTimeout(termTimeout)
	worker.SetTermChild(cfg.TermChild)
	worker.SetWorkerParentPID(os.Getpid())

	hooks := registerHooks()
	hooks.RunAfterPrefork(supervisor.AfterPreforkContext{Pid: os.Getpid(), QueueGroup: g})

	// Work installs its own SIGUSR2/SIGTERM/SIGQUIT handling to implement
	// the term-timeout wrapper (spec.md §4.5); cmd.Context() is not
	// wired to any of those signals so the two handling paths never race.
	slog.Info("worker started", "pid", os.Getpid(), "queue_group", string(g))
	return worker.Work(cmd.Context(), interval)
}

// ── migrate ───────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "migrate",
		Short: "Run pending job_queue migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{}) //nolint:exhaustruct
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── admin-key ─────────────────────────────────────────────────────────

func adminKeyCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "admin-key",
		Short: "Generate a new admin API key for ADMIN_API_KEY",
		RunE:  runAdminKey,
	}
}

// runAdminKey provisions a fresh admin API key for an operator to set
// as ADMIN_API_KEY. The raw key is shown exactly once — poolmaster
// never stores it, only the sha256 hash computed at request time by
// requireAPIKey — so the hash is also printed here, letting the
// operator confirm the value they export is the one the admin server
// will recognize before it ever sees a request.
func runAdminKey(_ *cobra.Command, _ []string) error {
	rawKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generate admin key: %w", err)
	}
	fmt.Printf("ADMIN_API_KEY=%s\n", rawKey) //nolint:forbidigo
	fmt.Printf("sha256: %s\n", keyHash)      //nolint:forbidigo
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				break
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", connErr)
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}
	return db, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level} //nolint:exhaustruct
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
