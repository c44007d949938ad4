package pool

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/hypervisor/mockdriver"
	"github.com/coldstart-systems/coldstart/lib/proxy"
	"github.com/coldstart-systems/coldstart/lib/spec"
)

type fakeTenants struct {
	tenants map[spec.JobId]spec.Tenant
}

func (f *fakeTenants) TenantFor(_ context.Context, jobID spec.JobId) (spec.Tenant, bool, error) {
	t, ok := f.tenants[jobID]
	return t, ok, nil
}

func testSpec() spec.Spec {
	return spec.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Resources:  spec.Resources{VCPU: 1, MemMB: 128},
		Lifecycle:  spec.LifecycleService,
	}
}

func testManager(t *testing.T, driver hypervisor.Driver, tenants *fakeTenants) *Manager {
	t.Helper()
	alloc, err := NewSequentialAllocator("br0", "10.100.0.0/24")
	require.NoError(t, err)
	return New(Config{
		Driver:         driver,
		Registrar:      proxy.Noop{},
		NetAlloc:       alloc,
		Tenants:        tenants,
		Clock:          clock.Fake(time.Unix(0, 0)),
		Log:            slog.New(slog.DiscardHandler),
		BootTimeout:    5 * time.Second,
		HealthTimeout:  time.Second,
		HealthInterval: time.Millisecond,
	})
}

func TestAttachWithoutWarmReturnsNoWarmVMAvailable(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, mockdriver.New(), &fakeTenants{tenants: map[spec.JobId]spec.Tenant{"job-1": "web-1"}})

	_, err := m.Attach(ctx, "job-1", testSpec())
	assert.ErrorIs(t, err, ErrNoWarmVMAvailable)
}

func TestEnsureWarmOneThenAttachPromotesWarmVM(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, mockdriver.New(), &fakeTenants{tenants: map[spec.JobId]spec.Tenant{"job-1": "web-1"}})

	sp := testSpec()
	require.NoError(t, m.EnsureWarmOne(ctx, sp))
	assert.True(t, m.HasWarm(spec.ComputeFingerprint(sp)))

	info, err := m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateRunning, info.Status)
	assert.Equal(t, spec.Tenant("web-1"), info.Tenant)

	got, ok, err := m.Lookup(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info.ID, got.ID)
}

func TestEnsureWarmOneIsIdempotentForSameFingerprint(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, mockdriver.New(), &fakeTenants{})

	sp := testSpec()
	require.NoError(t, m.EnsureWarmOne(ctx, sp))
	require.NoError(t, m.EnsureWarmOne(ctx, sp))

	assert.Equal(t, 1, m.Stats().WarmCount)
}

func TestEquivalentSpecsShareOneWarmVM(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, mockdriver.New(), &fakeTenants{})

	sp1 := testSpec()
	sp1.Env = map[string]string{"A": "1", "B": "2"}
	sp2 := testSpec()
	sp2.Env = map[string]string{"B": "2", "A": "1"}

	require.NoError(t, m.EnsureWarmOne(ctx, sp1))
	require.NoError(t, m.EnsureWarmOne(ctx, sp2))

	assert.Equal(t, 1, m.Stats().WarmCount)
}

func TestAttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	driver := mockdriver.New()
	m := testManager(t, driver, &fakeTenants{tenants: map[spec.JobId]spec.Tenant{"job-1": "web-1"}})

	sp := testSpec()
	require.NoError(t, m.EnsureWarmOne(ctx, sp))

	first, err := m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)

	second, err := m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A second warm VM was scheduled by the first attach to refill the
	// pool; the idempotent replay must not create a third.
	assert.LessOrEqual(t, driver.BootCount(), 2)
}

func TestDetachStopsVMAndConverges(t *testing.T) {
	ctx := context.Background()
	driver := mockdriver.New()
	m := testManager(t, driver, &fakeTenants{tenants: map[spec.JobId]spec.Tenant{"job-1": "web-1"}})

	sp := testSpec()
	require.NoError(t, m.EnsureWarmOne(ctx, sp))
	info, err := m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)

	require.NoError(t, m.Detach(ctx, "job-1"))
	assert.True(t, driver.IsStopped(info.ID))

	_, ok, err := m.Lookup(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent: detaching again is a no-op, not an error.
	require.NoError(t, m.Detach(ctx, "job-1"))
}

func TestAttachUnknownJobFails(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, mockdriver.New(), &fakeTenants{})

	_, err := m.Attach(ctx, "ghost", testSpec())
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestActorRestartEvictsStaleJobAndWarmEntries(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, mockdriver.New(), &fakeTenants{tenants: map[spec.JobId]spec.Tenant{"job-1": "web-1"}})

	sp := testSpec()
	require.NoError(t, m.EnsureWarmOne(ctx, sp))
	info, err := m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)

	// Simulate the supervisor reporting a crash + restart for the
	// attached VM, as it does after vmactor.Supervisor recovers a panic
	// and swaps in a fresh Init-state actor under the same vm_id
	// (spec.md §8 scenario 6, "crash recovery").
	m.handleActorRestart(info.ID)

	_, ok, err := m.Lookup(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok, "crashed job must no longer be reported as attached")

	ids := m.ActualIDs()
	_, stillThere := ids["job-1"]
	assert.False(t, stillThere, "ActualIDs must reflect the crash, or the reconciler never notices the mismatch")

	// The reconciler re-attaches via a freshly ensured warm VM on its
	// next tick.
	require.NoError(t, m.EnsureWarmOne(ctx, sp))
	assert.True(t, m.HasWarm(spec.ComputeFingerprint(sp)))
	_, err = m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)
}

func TestShutdownStopsEverything(t *testing.T) {
	ctx := context.Background()
	driver := mockdriver.New()
	m := testManager(t, driver, &fakeTenants{tenants: map[spec.JobId]spec.Tenant{"job-1": "web-1"}})

	sp := testSpec()
	require.NoError(t, m.EnsureWarmOne(ctx, sp))
	_, err := m.Attach(ctx, "job-1", sp)
	require.NoError(t, err)

	m.Shutdown(ctx)
	assert.Equal(t, 0, m.Stats().JobCount)
	assert.Equal(t, 0, m.Stats().WarmCount)
}
