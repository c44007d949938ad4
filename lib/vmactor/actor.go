// Package vmactor implements one actor per microVM: a single goroutine
// owning a serialized mailbox, the hypervisor handle, the TAP name, and
// the current status. All interaction is message-passing; state is
// private to the owning goroutine.
package vmactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/proxy"
	"github.com/coldstart-systems/coldstart/lib/spec"
)

// WarmSentinelTenant is the placeholder tenant assigned to a VM while it
// sits in the warm pool. Per the proxy registration invariant (§9.3), a
// VM with this tenant is never registered with the load balancer.
const WarmSentinelTenant spec.Tenant = "warm-sentinel"

const (
	defaultBootTimeout    = 60 * time.Second
	defaultHealthTimeout  = 15 * time.Second
	defaultHealthInterval = 200 * time.Millisecond
)

// Info is the immutable identity, current status, and network references
// an Actor reports to observers.
type Info struct {
	ID          string
	Fingerprint spec.Fingerprint
	Tenant      spec.Tenant
	Status      hypervisor.VMState
	IP          string
	Port        int
}

// NetParams describes the per-VM TAP device this actor creates on boot
// and removes on cleanup.
type NetParams struct {
	TAPDevice string
	Bridge    string
	IP        string
	MAC       string
	Netmask   string
	GuestPort int
}

// Config configures a new Actor. Driver, Registrar, and Spec are
// required; the remaining fields default sensibly.
type Config struct {
	ID          string
	Fingerprint spec.Fingerprint
	Spec        spec.Spec
	Net         NetParams

	Driver    hypervisor.Driver
	Registrar proxy.Registrar
	Clock     clock.Clock
	Log       *slog.Logger

	BootTimeout    time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration

	tap     tapManager    // overridable in tests
	checker healthChecker // overridable in tests
}

type tapManager interface {
	Create(tapName, bridge string) error
	Delete(tapName string) error
}

type realTapManager struct{}

func (realTapManager) Create(tapName, bridge string) error { return createTAP(tapName, bridge) }
func (realTapManager) Delete(tapName string) error         { return deleteTAP(tapName) }

type cmdKind int

const (
	cmdBoot cmdKind = iota
	cmdWarmUp
	cmdUpdateTenant
	cmdInfo
	cmdStop
)

type command struct {
	kind      cmdKind
	newTenant spec.Tenant
	reply     chan result
}

type result struct {
	info Info
	err  error
}

// Actor owns one microVM's lifecycle. Create with New and start its
// goroutine with Run; send commands with the Boot/WarmUp/UpdateTenant/
// Info/Stop methods, which are safe to call from any goroutine.
type Actor struct {
	cfg Config

	mailbox chan command
	done    chan struct{}

	// state is touched only by the goroutine started in Run.
	state Info
}

// New creates an Actor in the Init state with tenant set to the warm
// sentinel. A real tenant is assigned only via UpdateTenant.
func New(cfg Config) *Actor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.BootTimeout == 0 {
		cfg.BootTimeout = defaultBootTimeout
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.tap == nil {
		cfg.tap = realTapManager{}
	}
	if cfg.checker == nil {
		cfg.checker = newHTTPHealthChecker()
	}

	return &Actor{
		cfg:     cfg,
		mailbox: make(chan command, 8),
		done:    make(chan struct{}),
		state: Info{
			ID:          cfg.ID,
			Fingerprint: cfg.Fingerprint,
			Tenant:      WarmSentinelTenant,
			Status:      hypervisor.StateInit,
		},
	}
}

// Run processes the mailbox until Stop completes or ctx is cancelled. It
// is meant to run in its own goroutine, typically under a Supervisor.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.mailbox:
			stop := a.handle(ctx, cmd)
			if stop {
				return
			}
		}
	}
}

func (a *Actor) handle(ctx context.Context, cmd command) (stop bool) {
	switch cmd.kind {
	case cmdBoot:
		cmd.reply <- a.doBoot(ctx)
	case cmdWarmUp:
		cmd.reply <- a.doWarmUp(ctx)
	case cmdUpdateTenant:
		cmd.reply <- a.doUpdateTenant(ctx, cmd.newTenant)
	case cmdInfo:
		cmd.reply <- result{info: a.state}
	case cmdStop:
		cmd.reply <- a.doStop(ctx)
		return true
	}
	return false
}

func (a *Actor) send(ctx context.Context, cmd command) (Info, error) {
	select {
	case a.mailbox <- cmd:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case <-a.done:
		return Info{}, fmt.Errorf("vmactor: %s stopped", a.cfg.ID)
	}
	select {
	case r := <-cmd.reply:
		return r.info, r.err
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Boot drives Init -> Booting -> Running: creates the TAP, spawns and
// configures the hypervisor, polls guest health, then returns.
func (a *Actor) Boot(ctx context.Context) (Info, error) {
	return a.send(ctx, command{kind: cmdBoot, reply: make(chan result, 1)})
}

// WarmUp performs lifecycle-dependent priming after Boot. Status moves
// Running -> Warm on success. Never registers with the proxy.
func (a *Actor) WarmUp(ctx context.Context) (Info, error) {
	return a.send(ctx, command{kind: cmdWarmUp, reply: make(chan result, 1)})
}

// UpdateTenant atomically swaps the bound tenant: deregisters the old
// tenant (if real), registers the new one, and sets status to Running.
func (a *Actor) UpdateTenant(ctx context.Context, tenant spec.Tenant) (Info, error) {
	return a.send(ctx, command{kind: cmdUpdateTenant, newTenant: tenant, reply: make(chan result, 1)})
}

// Info returns a snapshot of identity, status, and network references.
func (a *Actor) Info(ctx context.Context) (Info, error) {
	return a.send(ctx, command{kind: cmdInfo, reply: make(chan result, 1)})
}

// Stop triggers cleanup and normal termination. Idempotent: calling Stop
// after the actor has already stopped returns the last known state
// without error.
func (a *Actor) Stop(ctx context.Context) (Info, error) {
	select {
	case <-a.done:
		return a.state, nil
	default:
	}
	cmd := command{kind: cmdStop, reply: make(chan result, 1)}
	select {
	case a.mailbox <- cmd:
	case <-a.done:
		return a.state, nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.info, r.err
	case <-a.done:
		return a.state, nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Done reports whether this actor's goroutine has exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

func (a *Actor) vmConfig() hypervisor.VMConfig {
	sp := a.cfg.Spec
	return hypervisor.VMConfig{
		KernelPath:  sp.KernelPath,
		RootfsPath:  sp.RootfsPath,
		Cmd:         sp.Cmd,
		Env:         sp.Env,
		VCPUs:       sp.Resources.VCPU,
		MemoryBytes: int64(sp.Resources.MemMB) * 1024 * 1024,
		Lifecycle:   hypervisor.Lifecycle(sp.Lifecycle),
		Network: hypervisor.NetworkConfig{
			TAPDevice: a.cfg.Net.TAPDevice,
			IP:        a.cfg.Net.IP,
			MAC:       a.cfg.Net.MAC,
			Netmask:   a.cfg.Net.Netmask,
			GuestPort: a.cfg.Net.GuestPort,
		},
	}
}

func (a *Actor) doBoot(ctx context.Context) result {
	bootCtx, cancel := context.WithTimeout(ctx, a.cfg.BootTimeout)
	defer cancel()

	a.state.Status = hypervisor.StateBooting
	a.log().Info("vm boot starting", "vm_id", a.cfg.ID)

	if err := a.cfg.tap.Create(a.cfg.Net.TAPDevice, a.cfg.Net.Bridge); err != nil {
		a.cleanup(ctx)
		a.state.Status = hypervisor.StateFailed
		return result{err: &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindTAP, Err: err}}
	}

	if err := a.cfg.Driver.Boot(bootCtx, a.cfg.ID, a.vmConfig()); err != nil {
		a.cleanup(ctx)
		a.state.Status = hypervisor.StateFailed
		return result{err: err}
	}

	if err := pollHealth(bootCtx, a.cfg.Clock, a.cfg.checker, a.cfg.Net.IP, a.cfg.Net.GuestPort,
		a.cfg.HealthTimeout, a.cfg.HealthInterval); err != nil {
		a.cleanup(ctx)
		a.state.Status = hypervisor.StateFailed
		return result{err: &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindHealth, Err: err}}
	}

	a.state.Status = hypervisor.StateRunning
	a.state.IP = a.cfg.Net.IP
	a.state.Port = a.cfg.Net.GuestPort

	// Boot never registers with the proxy: the actor's tenant is still
	// the warm sentinel until UpdateTenant assigns a real one.
	a.log().Info("vm boot complete", "vm_id", a.cfg.ID)
	return result{info: a.state}
}

func (a *Actor) doWarmUp(ctx context.Context) result {
	if a.state.Status != hypervisor.StateRunning {
		return result{err: fmt.Errorf("vmactor: warm_up requires Running, got %s", a.state.Status)}
	}
	if err := a.cfg.Driver.WarmUp(ctx, a.cfg.ID, a.vmConfig()); err != nil {
		return result{err: err}
	}
	a.state.Status = hypervisor.StateWarm
	return result{info: a.state}
}

func (a *Actor) doUpdateTenant(ctx context.Context, tenant spec.Tenant) result {
	oldTenant := a.state.Tenant
	if oldTenant != WarmSentinelTenant {
		if err := a.cfg.Registrar.Deregister(ctx, oldTenant); err != nil {
			a.log().Error("proxy deregister failed", "vm_id", a.cfg.ID, "tenant", oldTenant, "error", err)
		}
	}
	if tenant != WarmSentinelTenant {
		if err := a.cfg.Registrar.Register(ctx, tenant, a.state.IP, a.state.Port); err != nil {
			return result{err: fmt.Errorf("proxy register: %w", err)}
		}
	}
	a.state.Tenant = tenant
	a.state.Status = hypervisor.StateRunning
	return result{info: a.state}
}

func (a *Actor) doStop(ctx context.Context) result {
	a.cleanup(ctx)
	a.state.Status = hypervisor.StateStopped
	return result{info: a.state}
}

// cleanup runs the full termination sequence and must never raise: (1)
// deregister from the proxy under the current tenant, (2-3) close the
// hypervisor handle and force-kill if still alive (both inside
// Driver.Stop), (4) delete the TAP, (5) remove stale socket/metrics
// files (also inside Driver.Stop, which removes its run directory).
func (a *Actor) cleanup(ctx context.Context) {
	if a.state.Tenant != WarmSentinelTenant {
		if err := a.cfg.Registrar.Deregister(ctx, a.state.Tenant); err != nil {
			a.log().Error("proxy deregister failed during cleanup", "vm_id", a.cfg.ID, "error", err)
		}
	}
	if err := a.cfg.Driver.Stop(ctx, a.cfg.ID); err != nil {
		a.log().Error("driver stop failed during cleanup", "vm_id", a.cfg.ID, "error", err)
	}
	if err := a.cfg.tap.Delete(a.cfg.Net.TAPDevice); err != nil {
		a.log().Error("tap delete failed during cleanup", "vm_id", a.cfg.ID, "error", err)
	}
}

func (a *Actor) log() *slog.Logger {
	return a.cfg.Log
}
