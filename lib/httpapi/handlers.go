package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nrednav/cuid2"

	"github.com/coldstart-systems/coldstart/lib/pool"
	"github.com/coldstart-systems/coldstart/lib/spec"
	"github.com/coldstart-systems/coldstart/lib/vmactor"
)

// Store is the subset of *desiredstate.Store the HTTP API writes to.
type Store interface {
	Put(ctx context.Context, jobID spec.JobId, tenant spec.Tenant, sp spec.Spec) error
	Delete(ctx context.Context, jobID spec.JobId) error
}

// Pool is the subset of *pool.Manager the HTTP API drives.
type Pool interface {
	Attach(ctx context.Context, jobID spec.JobId, sp spec.Spec) (vmactor.Info, error)
	Detach(ctx context.Context, jobID spec.JobId) error
	Lookup(ctx context.Context, jobID spec.JobId) (vmactor.Info, bool, error)
	Stats() pool.Stats
}

type handlers struct {
	store Store
	pool  Pool
	log   *slog.Logger
}

type createVMRequest struct {
	JobID  string    `json:"job_id"`
	VMID   string    `json:"vm_id"`
	Tenant string    `json:"tenant"`
	Spec   spec.Spec `json:"spec"`
}

type vmInfoResponse struct {
	ID          string `json:"vm_id"`
	Fingerprint string `json:"fingerprint"`
	Tenant      string `json:"tenant"`
	Status      string `json:"status"`
	IP          string `json:"ip,omitempty"`
	Port        int    `json:"port,omitempty"`
}

func toVMInfoResponse(info vmactor.Info) vmInfoResponse {
	return vmInfoResponse{
		ID:          info.ID,
		Fingerprint: string(info.Fingerprint),
		Tenant:      string(info.Tenant),
		Status:      string(info.Status),
		IP:          info.IP,
		Port:        info.Port,
	}
}

type acceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// createVM implements POST /vms: UPSERT the desired entry, then attempt
// an immediate attach. job_id falls back to vm_id, then tenant, then a
// generated id; tenant defaults to job_id when omitted.
func (h *handlers) createVM(w http.ResponseWriter, r *http.Request) {
	var req createVMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = req.VMID
	}
	if jobID == "" {
		jobID = req.Tenant
	}
	if jobID == "" {
		jobID = cuid2.Generate()
	}

	tenant := req.Tenant
	if tenant == "" {
		tenant = jobID
	}

	ctx := r.Context()
	if err := h.store.Put(ctx, spec.JobId(jobID), spec.Tenant(tenant), req.Spec); err != nil {
		h.log.ErrorContext(ctx, "desired state put failed", "job_id", jobID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	info, err := h.pool.Attach(ctx, spec.JobId(jobID), req.Spec)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, toVMInfoResponse(info))
	case errors.Is(err, pool.ErrNoWarmVMAvailable):
		writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: jobID, Status: "accepted"})
	default:
		h.log.ErrorContext(ctx, "attach failed", "job_id", jobID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
}

// deleteVM implements DELETE /vms/:id: remove the desired entry and
// request detach. Idempotent at both layers.
func (h *handlers) deleteVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if err := h.store.Delete(ctx, spec.JobId(id)); err != nil {
		h.log.ErrorContext(ctx, "desired state delete failed", "job_id", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if err := h.pool.Detach(ctx, spec.JobId(id)); err != nil {
		h.log.ErrorContext(ctx, "detach failed", "job_id", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getVM implements GET /vms/:id.
func (h *handlers) getVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok, err := h.pool.Lookup(r.Context(), spec.JobId(id))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, toVMInfoResponse(info))
}

type statsJobResponse struct {
	JobID       string `json:"job_id"`
	VMID        string `json:"vm_id"`
	Fingerprint string `json:"fingerprint"`
	Tenant      string `json:"tenant"`
}

type statsWarmResponse struct {
	VMID        string `json:"vm_id"`
	Fingerprint string `json:"fingerprint"`
}

type statsResponse struct {
	Summary  statsSummary        `json:"summary"`
	Jobs     []statsJobResponse  `json:"jobs"`
	WarmPool []statsWarmResponse `json:"warm_pool"`
}

type statsSummary struct {
	JobCount  int `json:"job_count"`
	WarmCount int `json:"warm_count"`
}

// stats implements GET /stats.
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st := h.pool.Stats()

	resp := statsResponse{
		Summary:  statsSummary{JobCount: st.JobCount, WarmCount: st.WarmCount},
		Jobs:     make([]statsJobResponse, 0, len(st.Jobs)),
		WarmPool: make([]statsWarmResponse, 0, len(st.Warm)),
	}
	for _, j := range st.Jobs {
		resp.Jobs = append(resp.Jobs, statsJobResponse{
			JobID:       string(j.JobID),
			VMID:        j.VMID,
			Fingerprint: string(j.Fingerprint),
			Tenant:      string(j.Tenant),
		})
	}
	for _, wm := range st.Warm {
		resp.WarmPool = append(resp.WarmPool, statsWarmResponse{
			VMID:        wm.VMID,
			Fingerprint: string(wm.Fingerprint),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
