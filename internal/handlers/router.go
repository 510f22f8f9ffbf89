package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tiendaplus/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 30 * time.Second
)

// Route groups under /api/v1, mounted in this order.
const (
	groupCheckout = "checkout"
	groupOrders   = "orders"
	groupAdmin    = "admin"
	groupWebhooks = "webhooks"
)

var groupOrder = []string{groupCheckout, groupOrders, groupAdmin, groupWebhooks}

type routeGroup struct {
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	metrics     http.Handler
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: request id, real ip and timeout first, then the caller's
// middleware, probes and /metrics at the root, and the API groups below /api/v1. A group without
// a registrar answers 503 so clients can tell an unconfigured feature from a wrong URL.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		timeout: defaultRequestTimeout,
		groups:  make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
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
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			group := cfg.groups[name]
			if group == nil {
				group = &routeGroup{}
			}
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.register == nil {
					mountUnavailable(sub, name)
					return
				}
				group.register(sub)
			})
		}
	})
	return r
}

func (cfg *routerConfig) group(name string) *routeGroup {
	g, ok := cfg.groups[name]
	if !ok {
		g = &routeGroup{}
		cfg.groups[name] = g
	}
	return g
}

// WithRequestTimeout bounds every request. It should not exceed the server write timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithMiddlewares appends global middleware after the built-in request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMetricsHandler exposes the scrape endpoint at /metrics, outside the API prefix.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

// WithCheckoutRoutes mounts /api/v1/checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupCheckout).register = reg }
}

// WithOrderRoutes mounts /api/v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupOrders).register = reg }
}

// WithAdminRoutes mounts /api/v1/admin.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupAdmin).register = reg }
}

// WithWebhookRoutes mounts /api/v1/webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupWebhooks).register = reg }
}

// WithWebhookMiddlewares wraps the /webhooks group only, e.g. to skip auth-dependent middleware.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupWebhooks)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func mountUnavailable(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("service_unavailable", fmt.Sprintf("%s is not configured", name), http.StatusServiceUnavailable))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
