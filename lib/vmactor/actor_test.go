package vmactor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/hypervisor/mockdriver"
	"github.com/coldstart-systems/coldstart/lib/spec"
)

type fakeTap struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func (f *fakeTap) Create(tapName, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, tapName)
	return nil
}

func (f *fakeTap) Delete(tapName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, tapName)
	return nil
}

type fakeHealth struct {
	healthyAfter int
	calls        int
	mu           sync.Mutex
}

func (f *fakeHealth) Check(context.Context, string, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls >= f.healthyAfter {
		return nil
	}
	return errors.New("not ready")
}

type recordingRegistrar struct {
	mu            sync.Mutex
	registered    []spec.Tenant
	deregistered  []spec.Tenant
	registerFails bool
}

func (r *recordingRegistrar) Register(_ context.Context, tenant spec.Tenant, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerFails {
		return errors.New("register failed")
	}
	r.registered = append(r.registered, tenant)
	return nil
}

func (r *recordingRegistrar) Deregister(_ context.Context, tenant spec.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, tenant)
	return nil
}

func testConfig(t *testing.T, driver hypervisor.Driver, registrar *recordingRegistrar) Config {
	t.Helper()
	return Config{
		ID:          "vm-1",
		Fingerprint: "FP1",
		Spec: spec.Spec{
			KernelPath: "/k",
			RootfsPath: "/r",
			Resources:  spec.Resources{VCPU: 1, MemMB: 128},
			Lifecycle:  spec.LifecycleService,
		},
		Net:       NetParams{TAPDevice: "tap-vm-1", IP: "10.0.0.2", GuestPort: 8080},
		Driver:    driver,
		Registrar: registrar,
		Clock:     clock.Fake(time.Unix(0, 0)),
		Log:       slog.New(slog.DiscardHandler),
		tap:       &fakeTap{},
		checker:   &fakeHealth{healthyAfter: 1},
	}
}

func runActor(ctx context.Context, a *Actor) {
	go a.Run(ctx)
}

func TestBootTransitionsToRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New(testConfig(t, driver, reg))
	runActor(ctx, a)

	info, err := a.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateRunning, info.Status)
	assert.Equal(t, WarmSentinelTenant, info.Tenant)
	assert.True(t, driver.IsBooted("vm-1"))
	assert.Empty(t, reg.registered, "boot must never register with the proxy")
}

func TestBootFailurePropagatesAndTransitionsToFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := mockdriver.New()
	driver.FailBoot("vm-1", errors.New("boom"))
	reg := &recordingRegistrar{}
	a := New(testConfig(t, driver, reg))
	runActor(ctx, a)

	_, err := a.Boot(ctx)
	require.Error(t, err)

	info, err := a.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateFailed, info.Status)
}

func TestWarmUpRequiresRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New(testConfig(t, driver, reg))
	runActor(ctx, a)

	_, err := a.WarmUp(ctx)
	assert.Error(t, err)

	_, err = a.Boot(ctx)
	require.NoError(t, err)

	info, err := a.WarmUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateWarm, info.Status)
	assert.Empty(t, reg.registered, "warm_up must never register with the proxy")
}

func TestUpdateTenantRegistersAndDeregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New(testConfig(t, driver, reg))
	runActor(ctx, a)

	_, err := a.Boot(ctx)
	require.NoError(t, err)

	info, err := a.UpdateTenant(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateRunning, info.Status)
	assert.Equal(t, spec.Tenant("web-1"), info.Tenant)
	assert.Equal(t, []spec.Tenant{"web-1"}, reg.registered)
	assert.Empty(t, reg.deregistered, "no prior real tenant to deregister")

	_, err = a.UpdateTenant(ctx, "web-2")
	require.NoError(t, err)
	assert.Equal(t, []spec.Tenant{"web-1"}, reg.deregistered)
	assert.Equal(t, []spec.Tenant{"web-1", "web-2"}, reg.registered)
}

func TestStopDeregistersAndCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	cfg := testConfig(t, driver, reg)
	tap := cfg.tap.(*fakeTap)
	a := New(cfg)
	runActor(ctx, a)

	_, err := a.Boot(ctx)
	require.NoError(t, err)
	_, err = a.UpdateTenant(ctx, "web-1")
	require.NoError(t, err)

	info, err := a.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateStopped, info.Status)
	assert.Equal(t, []spec.Tenant{"web-1"}, reg.deregistered)
	assert.True(t, driver.IsStopped("vm-1"))
	assert.Contains(t, tap.deleted, "tap-vm-1")

	// Stop is idempotent.
	info2, err := a.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateStopped, info2.Status)
}
