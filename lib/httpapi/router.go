// Package httpapi exposes the control plane's HTTP surface: POST/DELETE
// /vms, GET /vms/:id, GET /stats, and GET /metrics. Authentication of
// this API is explicitly out of scope.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	appmiddleware "github.com/coldstart-systems/coldstart/lib/middleware"
)

// Config wires the router's dependencies.
type Config struct {
	Store   Store
	Pool    Pool
	Log     *slog.Logger
	Metrics http.Handler // OTel Prometheus-compatible scrape endpoint

	OtelEnabled     bool
	OtelServiceName string
}

// NewRouter builds the chi router: request ID, real IP, recoverer, otelchi
// tracing, logger injection, and access logging — grounded on the
// teacher's router construction, minus JWT auth and OpenAPI request
// validation (both excluded by this system's Non-goals).
func NewRouter(cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	h := &handlers{store: cfg.Store, pool: cfg.Pool, log: cfg.Log}

	accessLogger := appmiddleware.NewAccessLogger(nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.OtelEnabled {
		r.Use(otelchi.Middleware(cfg.OtelServiceName, otelchi.WithChiRoutes(r)))
	}
	r.Use(appmiddleware.InjectLogger(cfg.Log))
	r.Use(appmiddleware.AccessLogger(accessLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/vms", h.createVM)
	r.Delete("/vms/{id}", h.deleteVM)
	r.Get("/vms/{id}", h.getVM)
	r.Get("/stats", h.stats)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return r
}
