// Package providers holds the google/wire provider functions for
// coldstartd's dependency graph: config, paths, hypervisor driver,
// desired state store, pool manager, reconciler, HTTP router, and OTel.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coldstart-systems/coldstart/cmd/coldstartd/config"
	"github.com/coldstart-systems/coldstart/lib/desiredstate"
	"github.com/coldstart-systems/coldstart/lib/httpapi"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/hypervisor/cloudhypervisor"
	"github.com/coldstart-systems/coldstart/lib/hypervisor/firecracker"
	"github.com/coldstart-systems/coldstart/lib/otelboot"
	"github.com/coldstart-systems/coldstart/lib/paths"
	"github.com/coldstart-systems/coldstart/lib/pool"
	"github.com/coldstart-systems/coldstart/lib/proxy"
	"github.com/coldstart-systems/coldstart/lib/reconciler"
)

// ProvideConfig loads configuration from the environment.
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideContext supplies the application's root context.
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideLogger builds the process-wide slog.Logger, upgraded to route
// through the OTel log handler once otelboot.Init has run.
func ProvideLogger(otelProvider *otelboot.Provider) *slog.Logger {
	if otelProvider != nil && otelProvider.LogHandler != nil {
		return slog.New(otelProvider.LogHandler)
	}
	return slog.Default()
}

// ProvidePaths builds the data-directory path helper.
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideOtel initializes OpenTelemetry. The returned cleanup func shuts
// every provider down with a bounded timeout; wire aggregates it into
// initializeApp's combined cleanup.
func ProvideOtel(ctx context.Context, cfg *config.Config) (*otelboot.Provider, func(), error) {
	p, shutdown, err := otelboot.Init(ctx, otelboot.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: hostnameOrDefault(),
		Insecure:          true,
		Version:           otelboot.GoVersion(),
		Env:               "production",
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}
	return p, cleanup, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "coldstartd"
	}
	return h
}

// ProvideDriver selects the hypervisor.Driver named by cfg.Backend.
func ProvideDriver(cfg *config.Config, p *paths.Paths) (hypervisor.Driver, error) {
	switch hypervisor.Type(cfg.Backend) {
	case hypervisor.TypeFirecracker:
		return firecracker.New(firecrackerBinary(), p.VMsDir()), nil
	case hypervisor.TypeCloudHypervisor:
		return cloudhypervisor.New(cloudHypervisorBinary(), p.VMsDir()), nil
	default:
		return nil, fmt.Errorf("providers: unknown FC_BACKEND %q", cfg.Backend)
	}
}

func firecrackerBinary() string {
	if p := os.Getenv("FC_BINARY"); p != "" {
		return p
	}
	return "/usr/bin/firecracker"
}

func cloudHypervisorBinary() string {
	if p := os.Getenv("CH_BINARY"); p != "" {
		return p
	}
	return "/usr/bin/cloud-hypervisor"
}

// ProvideRegistrar supplies the proxy hook. Always Logging: the load
// balancer itself is out of scope (spec.md §1), but visible register
// calls are useful in every deployment.
func ProvideRegistrar(log *slog.Logger) proxy.Registrar {
	return proxy.Logging{Log: log}
}

// ProvideNetAllocator builds the per-VM network allocator over cfg's
// bridge and subnet.
func ProvideNetAllocator(cfg *config.Config) (pool.NetAllocator, error) {
	return pool.NewSequentialAllocator(cfg.Bridge, cfg.BridgeCIDR)
}

// ProvideStore opens the SQLite-backed desired state store and runs the
// bootstrap file import.
func ProvideStore(ctx context.Context, p *paths.Paths, cfg *config.Config, log *slog.Logger) (*desiredstate.Store, error) {
	store, err := desiredstate.Open(p.StateDB(), func() int64 { return time.Now().Unix() })
	if err != nil {
		return nil, err
	}
	if err := desiredstate.Bootstrap(ctx, store, cfg.DesiredStateFile, log); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvidePoolManager wires the Pool Manager over the selected driver,
// proxy registrar, network allocator, and desired-state-backed tenant
// lookup.
func ProvidePoolManager(
	driver hypervisor.Driver,
	registrar proxy.Registrar,
	netAlloc pool.NetAllocator,
	store *desiredstate.Store,
	cfg *config.Config,
	log *slog.Logger,
) *pool.Manager {
	return pool.New(pool.Config{
		Driver:         driver,
		Registrar:      registrar,
		NetAlloc:       netAlloc,
		Tenants:        store,
		Log:            log,
		BootTimeout:    cfg.BootTimeout,
		HealthTimeout:  cfg.HealthTimeout,
		HealthInterval: 200 * time.Millisecond,
		GuestPort:      cfg.GuestPort,
	})
}

// ProvideReconciler wires the Reconciler over the desired state store and
// the pool manager.
func ProvideReconciler(store *desiredstate.Store, mgr *pool.Manager, cfg *config.Config, log *slog.Logger) *reconciler.Reconciler {
	return reconciler.New(reconciler.Config{
		Store:    store,
		Pool:     mgr,
		Log:      log,
		Interval: cfg.ReconcileInterval,
	})
}

// ProvideRouter builds the HTTP API router.
func ProvideRouter(store *desiredstate.Store, mgr *pool.Manager, cfg *config.Config, log *slog.Logger, otelProvider *otelboot.Provider) http.Handler {
	var metrics http.Handler
	if otelProvider != nil {
		metrics = otelProvider.MetricsHandler
	}
	return httpapi.NewRouter(httpapi.Config{
		Store:           store,
		Pool:            mgr,
		Log:             log,
		Metrics:         metrics,
		OtelEnabled:     cfg.OtelEnabled,
		OtelServiceName: cfg.OtelServiceName,
	})
}
