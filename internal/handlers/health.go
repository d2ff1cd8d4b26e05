package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/retail-admin/fulfillment/internal/platform/httpx"
)

const readinessTimeout = 3 * time.Second

// ReadinessCheck probes one dependency.
type ReadinessCheck func(ctx context.Context) error

// BuildInfo identifies the running binary in probe responses.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves /healthz (process liveness) and /readyz (dependency readiness).
type HealthHandlers struct {
	build  BuildInfo
	checks map[string]ReadinessCheck
	clock  func() time.Time
}

type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithReadinessCheck registers a named probe run by /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{checks: make(map[string]ReadinessCheck), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Uptime      string            `json:"uptime"`
	Timestamp   string            `json:"timestamp"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.response("ok", nil))
}

// Readyz runs every readiness check and answers 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	status, code := "ok", http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = "error: " + err.Error()
			status, code = "unavailable", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	httpx.WriteJSON(w, code, h.response(status, results))
}

func (h *HealthHandlers) response(status string, checks map[string]string) healthResponse {
	now := h.clock()
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
		Checks:      checks,
	}
}
