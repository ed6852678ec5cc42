// ABOUTME: HTTP server struct, constructor, and handler wiring for the
// ABOUTME: admin observability surface (spec.md §12): healthz, metrics, status, reload.
package adminapi

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/scarson/poolmaster/internal/supervisor"
)

// Master is the slice of internal/supervisor.Master's API the admin
// surface depends on. Defined as an interface so tests can substitute a
// fake without running a real Master Control Loop.
type Master interface {
	RequestReload()
}

// Server holds the dependencies for the admin HTTP layer. It never
// reaches into the Master's internals directly for /status or
// /metrics — those read a [supervisor.Snapshot] taken once per request
// via the Options.Snapshot function, keeping this package decoupled from supervisor's
// concrete Master type for everything except RequestReload.
type Server struct {
	master      Master
	apiKeyHash  string
	rateLimiter *ipRateLimiter
	metrics     *metricsCollector
}

// Options configures a Server.
type Options struct {
	Master Master
	// APIKeyHash is the sha256 hex hash of the admin bearer token
	// (internal/auth.HashAPIKey), or "" to disable auth (development
	// only). NewServer logs nothing itself; cmd/poolmaster warns when
	// ADMIN_API_KEY is unset.
	APIKeyHash string
	// Snapshot is called by /status and /metrics to obtain the current
	// supervisor.Snapshot.
	Snapshot func() supervisor.Snapshot
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	return &Server{
		master:      opts.Master,
		apiKeyHash:  opts.APIKeyHash,
		rateLimiter: newIPRateLimiter(rate.Limit(30.0/60), 30, 15*time.Minute),
		metrics:     newMetricsCollector(opts.Snapshot),
	}
}

// Handler builds and returns the http.Handler for the admin surface.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 16))
	r.Use(middleware.Recoverer)
	r.Use(srv.rateLimit())

	r.Get("/healthz", healthzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(srv.metrics.registry, promhttp.HandlerOpts{})) //nolint:exhaustruct

	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.requireAPIKey())
	humaConfig := huma.DefaultConfig("poolmaster admin API", "0.1.0")
	humaConfig.Info.Description = "Read-only pool status and operator escape hatches"
	api := humachi.New(apiRouter, humaConfig)
	srv.registerStatusRoutes(api)
	srv.registerReloadRoutes(api)

	r.Mount("/", apiRouter)

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
