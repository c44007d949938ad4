package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/pool"
	"github.com/coldstart-systems/coldstart/lib/spec"
	"github.com/coldstart-systems/coldstart/lib/vmactor"
)

type fakeStore struct {
	entries map[spec.JobId]struct {
		tenant spec.Tenant
		spec   spec.Spec
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[spec.JobId]struct {
		tenant spec.Tenant
		spec   spec.Spec
	})}
}

func (f *fakeStore) Put(_ context.Context, jobID spec.JobId, tenant spec.Tenant, sp spec.Spec) error {
	f.entries[jobID] = struct {
		tenant spec.Tenant
		spec   spec.Spec
	}{tenant, sp}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, jobID spec.JobId) error {
	delete(f.entries, jobID)
	return nil
}

type fakePool struct {
	attached  map[spec.JobId]vmactor.Info
	attachErr error
}

func newFakePool() *fakePool {
	return &fakePool{attached: make(map[spec.JobId]vmactor.Info)}
}

func (p *fakePool) Attach(_ context.Context, jobID spec.JobId, _ spec.Spec) (vmactor.Info, error) {
	if p.attachErr != nil {
		return vmactor.Info{}, p.attachErr
	}
	info := vmactor.Info{ID: "vm-" + string(jobID), Status: hypervisor.StateRunning, Tenant: "web-1"}
	p.attached[jobID] = info
	return info, nil
}

func (p *fakePool) Detach(_ context.Context, jobID spec.JobId) error {
	delete(p.attached, jobID)
	return nil
}

func (p *fakePool) Lookup(_ context.Context, jobID spec.JobId) (vmactor.Info, bool, error) {
	info, ok := p.attached[jobID]
	return info, ok, nil
}

func (p *fakePool) Stats() pool.Stats {
	st := pool.Stats{JobCount: len(p.attached)}
	for jobID, info := range p.attached {
		st.Jobs = append(st.Jobs, pool.JobStat{JobID: jobID, VMID: info.ID})
	}
	return st
}

func testRouter(store *fakeStore, p *fakePool) http.Handler {
	return NewRouter(Config{Store: store, Pool: p, Log: slog.New(slog.DiscardHandler)})
}

func TestCreateVMReturns201OnSuccessfulAttach(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	r := testRouter(store, p)

	body := `{"job_id":"job-1","spec":{"kernel_path":"/k","rootfs_path":"/r","resources":{"vcpu":1,"mem_mb":128},"lifecycle":"service"}}`
	req := httptest.NewRequest(http.MethodPost, "/vms", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, store.entries, spec.JobId("job-1"))

	var resp vmInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "vm-job-1", resp.ID)
}

func TestCreateVMReturns202WhenNoWarmAvailable(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	p.attachErr = pool.ErrNoWarmVMAvailable
	r := testRouter(store, p)

	body := `{"job_id":"job-1","spec":{"kernel_path":"/k","rootfs_path":"/r","resources":{"vcpu":1,"mem_mb":128},"lifecycle":"job"}}`
	req := httptest.NewRequest(http.MethodPost, "/vms", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "accepted", resp.Status)
}

func TestCreateVMGeneratesJobIDWhenAllFallbacksEmpty(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	r := testRouter(store, p)

	body := `{"spec":{"kernel_path":"/k","rootfs_path":"/r","resources":{"vcpu":1,"mem_mb":128},"lifecycle":"job"}}`
	req := httptest.NewRequest(http.MethodPost, "/vms", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, store.entries, 1)
}

func TestCreateVMInvalidBodyReturns400(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	r := testRouter(store, p)

	req := httptest.NewRequest(http.MethodPost, "/vms", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVMReturns404WhenMissing(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	r := testRouter(store, p)

	req := httptest.NewRequest(http.MethodGet, "/vms/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteVMReturns204(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	p.attached["job-1"] = vmactor.Info{ID: "vm-job-1"}
	r := testRouter(store, p)

	req := httptest.NewRequest(http.MethodDelete, "/vms/job-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, p.attached, spec.JobId("job-1"))
}

func TestStatsReturnsSummary(t *testing.T) {
	store := newFakeStore()
	p := newFakePool()
	p.attached["job-1"] = vmactor.Info{ID: "vm-job-1"}
	r := testRouter(store, p)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Summary.JobCount)
}
