package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldstart-systems/coldstart/cmd/coldstartd/config"
	"github.com/coldstart-systems/coldstart/lib/desiredstate"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/otelboot"
	"github.com/coldstart-systems/coldstart/lib/paths"
	"github.com/coldstart-systems/coldstart/lib/pool"
	"github.com/coldstart-systems/coldstart/lib/proxy"
	"github.com/coldstart-systems/coldstart/lib/reconciler"
)

// application holds every initialized top-level component main needs.
type application struct {
	Ctx          context.Context
	Logger       *slog.Logger
	Config       *config.Config
	Paths        *paths.Paths
	OtelProvider *otelboot.Provider
	Driver       hypervisor.Driver
	Registrar    proxy.Registrar
	NetAlloc     pool.NetAllocator
	Store        *desiredstate.Store
	Pool         *pool.Manager
	Reconciler   *reconciler.Reconciler
	Router       http.Handler
}
