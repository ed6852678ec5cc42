// Package config parses and validates the supervisor's process-level
// configuration from environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] down to the
// supervisor and to the admin HTTP server. This is distinct from
// [poolconfig], which answers "how many workers per queue-group" and is
// reloadable on HUP — Config is read once per process lifetime.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Truthy is a bool parsed with the truthy-string grammar spec.md §6
// defines for RESQUE_SINGLE_PGRP: "yes", "y", "true", "t", "1", "okay",
// "sure", or "please" (case-insensitive) mean true; anything else,
// including an unset variable, means false. caarlos0/env resolves this
// via encoding.TextUnmarshaler instead of its default strconv.ParseBool
// handling, which would reject every one of those spellings but "true"
// and "1" outright.
type Truthy bool

func (t *Truthy) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "yes", "y", "true", "t", "1", "okay", "sure", "please":
		*t = true
	default:
		*t = false
	}
	return nil
}

// Config holds the supervisor's environment-sourced settings.
type Config struct {
	// ── Pool configuration ───────────────────────────────────────────────
	PoolConfigFile string `env:"POOL_CONFIG_FILE" envDefault:"pool.yml"`
	// AppEnv is read from RESQUE_ENV alone and is used only by
	// IsDevelopment (which picks the log format). The section of
	// PoolConfigFile to load is chosen separately by
	// [poolconfig.ResolveEnv], which checks RACK_ENV, RAILS_ENV and
	// RESQUE_ENV in that order.
	AppEnv string `env:"RESQUE_ENV" envDefault:"development"`

	// ── Backoff governor (spec.md §4.1, §6) ──────────────────────────────
	DelaySpawnLimit time.Duration `env:"DELAY_SPAWN_LIMIT" envDefault:"10s"`
	DelaySpawnMax   time.Duration `env:"DELAY_SPAWN_MAX"   envDefault:"600s"`

	// ── Worker spawn/child tuning (spec.md §6) ───────────────────────────
	TermChild        bool          `env:"TERM_CHILD"`
	// SinglePgrp accepts the truthy-string grammar spec.md §6 defines for
	// RESQUE_SINGLE_PGRP ("yes"/"y"/"true"/"t"/"1"/"okay"/"sure"/"please",
	// case-insensitive) — see [Truthy].
	SinglePgrp       Truthy        `env:"RESQUE_SINGLE_PGRP"`
	WorkerTermTimeout time.Duration `env:"RESQUE_TERM_TIMEOUT" envDefault:"4s"`
	WorkerInterval    time.Duration `env:"INTERVAL"            envDefault:"5s"`
	RunAtExitHooks    bool          `env:"RUN_AT_EXIT_HOOKS"`
	SpawnThrottle     time.Duration `env:"SPAWN_THROTTLE"`

	// ── Worker verbosity passthrough (spec.md §6) ────────────────────────
	Logging  bool `env:"LOGGING"`
	Verbose  bool `env:"VERBOSE"`
	VVerbose bool `env:"VVERBOSE"`

	// ── Master behavior options (spec.md §4.3, §4.5) ─────────────────────
	// TermBehavior selects which of the four TERM shutdown variants in
	// spec.md §4.5 fires on SIGTERM: "graceful_worker_shutdown_and_wait",
	// "graceful_worker_shutdown", "term_and_wait", or "" (immediate).
	TermBehavior string `env:"TERM_BEHAVIOR"`
	HandleWinch  bool   `env:"HANDLE_WINCH"`

	// ── Job store (domain stack; internal/jobstore) ──────────────────────
	DatabaseURL string `env:"DATABASE_URL,required"`

	// ── Admin HTTP surface (internal/adminapi) ───────────────────────────
	AdminListenAddr string `env:"ADMIN_LISTEN_ADDR" envDefault:":9191"`
	AdminAPIKey     string `env:"ADMIN_API_KEY"`
	AdminEnabled    bool   `env:"ADMIN_ENABLED" envDefault:"true"`

	// ── Logging ───────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// ── Email worker kind (internal/jobhandlers) ─────────────────────────
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"poolmaster@localhost"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}
