package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// readyCheckTimeout bounds the engine check of one readiness request.
const readyCheckTimeout = 2 * time.Second

// HealthChecker serves /healthz, /readyz and /healthz/detailed.
type HealthChecker struct {
	ready     atomic.Bool
	sc        *ServerContext
	started   time.Time
	version   string
	providers []string
}

// NewHealthChecker creates a HealthChecker that starts out ready. providers
// are the configured tool providers reported by the detailed endpoint. sc
// may be nil, in which case only the ready flag is checked.
func NewHealthChecker(sc *ServerContext, version string, providers []string) *HealthChecker {
	h := &HealthChecker{
		sc:        sc,
		started:   time.Now(),
		version:   version,
		providers: providers,
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness flag, e.g. while draining.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns the readiness flag.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed.
type DetailedHealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime"`
	Providers []string          `json:"providers,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// readiness runs every check. Each entry of checks is "ok" or the reason the
// check failed. status is healthStatusOK only when all checks pass.
func (h *HealthChecker) readiness(ctx context.Context) (status string, checks map[string]string) {
	status = healthStatusOK
	checks = map[string]string{"ready": healthStatusOK}
	fail := func(name, reason, s string) {
		checks[name] = reason
		if status == healthStatusOK {
			status = s
		}
	}

	if h.sc != nil && h.sc.IsShutdown() {
		// Shutting down wins over every other reason.
		status = healthStatusShuttingDown
		checks["shutdown"] = healthStatusShuttingDown
	} else if h.sc != nil {
		checks["shutdown"] = healthStatusOK
	}
	if !h.ready.Load() {
		fail("ready", healthStatusNotReady, healthStatusNotReady)
	}

	if h.sc == nil || h.sc.Engine() == nil {
		return status, checks
	}
	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()
	if err := h.sc.Engine().Ready(ctx); err != nil {
		fail("engine", err.Error(), healthStatusNotReady)
	} else {
		checks["engine"] = healthStatusOK
	}
	return status, checks
}

func writeHealth(w http.ResponseWriter, healthy bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// LivenessHandler answers as long as the process serves HTTP.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, true, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers 503 while draining, after shutdown, or when the
// engine is stopped or cannot reach the credential store.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, checks := h.readiness(r.Context())
		writeHealth(w, status == healthStatusOK, HealthResponse{Status: status, Checks: checks})
	})
}

// DetailedHealthHandler adds version, uptime and providers to the readiness
// result.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, checks := h.readiness(r.Context())
		writeHealth(w, status == healthStatusOK, DetailedHealthResponse{
			Status:    status,
			Version:   h.version,
			Uptime:    time.Since(h.started).Truncate(time.Second).String(),
			Providers: h.providers,
			Checks:    checks,
		})
	})
}

// RegisterHealthEndpoints mounts the health endpoints on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}
