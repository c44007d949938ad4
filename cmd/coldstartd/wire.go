//go:build wireinject

//go:generate go run -mod=mod github.com/google/wire/cmd/wire

package main

import (
	"github.com/google/wire"

	"github.com/coldstart-systems/coldstart/cmd/coldstartd/providers"
)

// initializeApp is the wire injector. Run `go generate ./...` (wire) to
// regenerate wire_gen.go after changing this graph.
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvidePaths,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvideDriver,
		providers.ProvideRegistrar,
		providers.ProvideNetAllocator,
		providers.ProvideStore,
		providers.ProvidePoolManager,
		providers.ProvideReconciler,
		providers.ProvideRouter,
		wire.Struct(new(application), "*"),
	))
}
