package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/retail-admin/fulfillment/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// RoleGuard returns middleware admitting only identities holding one of roles.
type RoleGuard func(roles ...string) func(http.Handler) http.Handler

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	apiMW       []func(http.Handler) http.Handler
	health      *HealthHandlers
	registrars  []RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 30 * time.Second
)

// NewRouter builds the chi router: probes at the root and every registrar under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{basePath: defaultAPIPrefix, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.timeout))
		for _, mw := range cfg.apiMW {
			if mw != nil {
				api.Use(mw)
			}
		}
		for _, register := range cfg.registrars {
			if register != nil {
				register(api)
			}
		}
	})
	return r
}

// WithMiddlewares appends middleware applied to every route, probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAPIMiddlewares appends middleware applied under the API prefix only.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.apiMW = append(cfg.apiMW, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithRoutes mounts registrars under the API prefix.
func WithRoutes(registrars ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.registrars = append(cfg.registrars, registrars...)
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}
