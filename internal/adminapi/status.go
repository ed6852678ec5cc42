// ABOUTME: GET /status — OpenAPI-documented JSON snapshot of the Registry and BackoffState.
// ABOUTME: POST /reload — operator escape hatch equivalent to `kill -HUP <master_pid>`.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/scarson/poolmaster/internal/registry"
)

// registerStatusRoutes wires up the read-only /status endpoint.
func (srv *Server) registerStatusRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Pool status",
		Description: "Live worker registry, backoff state, and signal queue health.",
		Tags:        []string{"Status"},
	}, srv.getStatusHandler())
}

// registerReloadRoutes wires up the mutating /reload escape hatch.
func (srv *Server) registerReloadRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "post-reload",
		Method:      http.MethodPost,
		Path:        "/reload",
		Summary:     "Request a configuration reload",
		Description: "Enqueues a synthetic HUP onto the master's signal queue — equivalent to `kill -HUP <master_pid>`.",
		Tags:        []string{"Status"},
	}, srv.postReloadHandler())
}

// StatusOutput is the /status response body.
type StatusOutput struct {
	Body struct {
		Workers          map[string][]registry.WorkerRecord `json:"workers"`
		DelayUntil       map[string]time.Time               `json:"delay_until"`
		SignalQueueDepth int                                 `json:"signal_queue_depth"`
		SignalQueueDrops int                                 `json:"signal_queue_drops"`
	}
}

func (srv *Server) getStatusHandler() func(context.Context, *struct{}) (*StatusOutput, error) {
	return func(_ context.Context, _ *struct{}) (*StatusOutput, error) {
		snap := srv.metrics.snapshot()

		out := &StatusOutput{} //nolint:exhaustruct
		out.Body.Workers = make(map[string][]registry.WorkerRecord, len(snap.Workers))
		for g, recs := range snap.Workers {
			out.Body.Workers[string(g)] = recs
		}
		out.Body.DelayUntil = make(map[string]time.Time, len(snap.DelayUntil))
		for g, t := range snap.DelayUntil {
			out.Body.DelayUntil[string(g)] = t
		}
		out.Body.SignalQueueDepth = snap.QueueDepth
		out.Body.SignalQueueDrops = snap.QueueDrops
		return out, nil
	}
}

// ReloadOutput is the /reload response body.
type ReloadOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func (srv *Server) postReloadHandler() func(context.Context, *struct{}) (*ReloadOutput, error) {
	return func(_ context.Context, _ *struct{}) (*ReloadOutput, error) {
		srv.master.RequestReload()
		out := &ReloadOutput{} //nolint:exhaustruct
		out.Body.Status = "reload requested"
		return out, nil
	}
}
