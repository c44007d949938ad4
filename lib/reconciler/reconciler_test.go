package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/desiredstate"
	"github.com/coldstart-systems/coldstart/lib/spec"
	"github.com/coldstart-systems/coldstart/lib/vmactor"
)

type fakeStore struct {
	entries map[spec.JobId]desiredstate.Entry
}

func (f *fakeStore) List(context.Context) (map[spec.JobId]desiredstate.Entry, error) {
	return f.entries, nil
}

type fakePool struct {
	mu       sync.Mutex
	attached map[spec.JobId]spec.Spec
	warm     map[spec.Fingerprint]spec.Spec
	attachFn func(spec.JobId) error
}

func newFakePool() *fakePool {
	return &fakePool{
		attached: make(map[spec.JobId]spec.Spec),
		warm:     make(map[spec.Fingerprint]spec.Spec),
	}
}

func (p *fakePool) Attach(_ context.Context, jobID spec.JobId, sp spec.Spec) (vmactor.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attachFn != nil {
		if err := p.attachFn(jobID); err != nil {
			return vmactor.Info{}, err
		}
	}
	p.attached[jobID] = sp
	return vmactor.Info{ID: string(jobID)}, nil
}

func (p *fakePool) Detach(_ context.Context, jobID spec.JobId) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attached, jobID)
	return nil
}

func (p *fakePool) EnsureWarmOne(_ context.Context, sp spec.Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warm[spec.ComputeFingerprint(sp)] = sp
	return nil
}

func (p *fakePool) ActualIDs() map[spec.JobId]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make(map[spec.JobId]struct{}, len(p.attached))
	for id := range p.attached {
		ids[id] = struct{}{}
	}
	return ids
}

func (p *fakePool) WarmSpecHashes() map[spec.Fingerprint]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	fps := make(map[spec.Fingerprint]struct{}, len(p.warm))
	for fp := range p.warm {
		fps[fp] = struct{}{}
	}
	return fps
}

func testSpec() spec.Spec {
	return spec.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Resources:  spec.Resources{VCPU: 1, MemMB: 128},
		Lifecycle:  spec.LifecycleService,
	}
}

func TestTickAttachesMissingDesiredJobs(t *testing.T) {
	store := &fakeStore{entries: map[spec.JobId]desiredstate.Entry{
		"job-1": {JobID: "job-1", Tenant: "web-1", Spec: testSpec()},
	}}
	p := newFakePool()
	r := New(Config{Store: store, Pool: p, Clock: clock.Fake(time.Unix(0, 0))})

	require.NoError(t, r.Tick(context.Background()))

	assert.Contains(t, p.attached, spec.JobId("job-1"))
}

func TestTickDetachesStaleActualJobs(t *testing.T) {
	store := &fakeStore{entries: map[spec.JobId]desiredstate.Entry{}}
	p := newFakePool()
	p.attached["ghost"] = testSpec()
	r := New(Config{Store: store, Pool: p, Clock: clock.Fake(time.Unix(0, 0))})

	require.NoError(t, r.Tick(context.Background()))

	assert.NotContains(t, p.attached, spec.JobId("ghost"))
}

func TestTickEnsuresWarmForSpecsThatWantIt(t *testing.T) {
	sp := testSpec()
	sp.WarmPool = &spec.WarmPool{Min: 1, Max: 2}
	store := &fakeStore{entries: map[spec.JobId]desiredstate.Entry{
		"job-1": {JobID: "job-1", Tenant: "web-1", Spec: sp},
	}}
	p := newFakePool()
	r := New(Config{Store: store, Pool: p, Clock: clock.Fake(time.Unix(0, 0))})

	require.NoError(t, r.Tick(context.Background()))

	assert.Contains(t, p.warm, spec.ComputeFingerprint(sp))
}

func TestTickDoesNotEnsureWarmForSpecsWithoutWarmPool(t *testing.T) {
	store := &fakeStore{entries: map[spec.JobId]desiredstate.Entry{
		"job-1": {JobID: "job-1", Tenant: "web-1", Spec: testSpec()},
	}}
	p := newFakePool()
	r := New(Config{Store: store, Pool: p, Clock: clock.Fake(time.Unix(0, 0))})

	require.NoError(t, r.Tick(context.Background()))

	assert.Empty(t, p.warm)
}

func TestTickSharesOneWarmVMForEquivalentSpecs(t *testing.T) {
	sp1 := testSpec()
	sp1.WarmPool = &spec.WarmPool{Min: 1, Max: 1}
	sp1.Env = map[string]string{"A": "1"}
	sp2 := sp1
	sp2.Env = map[string]string{"A": "1"}

	store := &fakeStore{entries: map[spec.JobId]desiredstate.Entry{
		"job-1": {JobID: "job-1", Tenant: "web-1", Spec: sp1},
		"job-2": {JobID: "job-2", Tenant: "web-2", Spec: sp2},
	}}
	p := newFakePool()
	r := New(Config{Store: store, Pool: p, Clock: clock.Fake(time.Unix(0, 0))})

	require.NoError(t, r.Tick(context.Background()))

	assert.Len(t, p.warm, 1)
}

func TestTickToleratesAttachFailureAndRetriesNextTick(t *testing.T) {
	store := &fakeStore{entries: map[spec.JobId]desiredstate.Entry{
		"job-1": {JobID: "job-1", Tenant: "web-1", Spec: testSpec()},
	}}
	p := newFakePool()
	fail := true
	p.attachFn = func(spec.JobId) error {
		if fail {
			fail = false
			return assert.AnError
		}
		return nil
	}
	r := New(Config{Store: store, Pool: p, Clock: clock.Fake(time.Unix(0, 0))})

	require.NoError(t, r.Tick(context.Background()))
	assert.NotContains(t, p.attached, spec.JobId("job-1"))

	require.NoError(t, r.Tick(context.Background()))
	assert.Contains(t, p.attached, spec.JobId("job-1"))
}
