// Package proxy defines the narrow interface the VM Actor calls to
// expose or hide a VM from the load balancer. The load balancer itself
// is external per spec.md §1; this package only carries the hook.
package proxy

import (
	"context"
	"log/slog"

	"github.com/coldstart-systems/coldstart/lib/spec"
)

// Registrar registers and deregisters a job's ip:port with the load
// balancer under its tenant. A VM is exposed iff its status is Running
// and its tenant is a real job tenant, never the warm sentinel — see
// lib/vmactor's proxy registration invariant.
type Registrar interface {
	Register(ctx context.Context, tenant spec.Tenant, ip string, port int) error
	Deregister(ctx context.Context, tenant spec.Tenant) error
}

// Noop discards every call. Used when no load balancer is configured.
type Noop struct{}

func (Noop) Register(context.Context, spec.Tenant, string, int) error { return nil }
func (Noop) Deregister(context.Context, spec.Tenant) error            { return nil }

var _ Registrar = Noop{}

// Logging records register/deregister calls via slog without touching
// any real load balancer, for environments that want a visible record
// of what would have been registered.
type Logging struct {
	Log *slog.Logger
}

func (l Logging) Register(_ context.Context, tenant spec.Tenant, ip string, port int) error {
	l.Log.Info("proxy register", "tenant", tenant, "ip", ip, "port", port)
	return nil
}

func (l Logging) Deregister(_ context.Context, tenant spec.Tenant) error {
	l.Log.Info("proxy deregister", "tenant", tenant)
	return nil
}

var _ Registrar = Logging{}
