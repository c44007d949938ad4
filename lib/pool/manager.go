// Package pool implements the Pool Manager: the in-memory authority over
// job -> VM and fingerprint -> warm VM, backed by a supervised collection
// of VM Actors.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/proxy"
	"github.com/coldstart-systems/coldstart/lib/spec"
	"github.com/coldstart-systems/coldstart/lib/vmactor"
)

// TenantLookup resolves the tenant bound to a job_id. Satisfied by
// *desiredstate.Store; narrowed here so pool does not need to import it.
type TenantLookup interface {
	TenantFor(ctx context.Context, jobID spec.JobId) (spec.Tenant, bool, error)
}

type jobEntry struct {
	vmID        string
	fingerprint spec.Fingerprint
	tenant      spec.Tenant
}

type warmEntry struct {
	vmID string
	spec spec.Spec
}

// Config configures a new Manager.
type Config struct {
	Driver    hypervisor.Driver
	Registrar proxy.Registrar
	NetAlloc  NetAllocator
	Tenants   TenantLookup
	Clock     clock.Clock
	Log       *slog.Logger

	BootTimeout    time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	GuestPort      int
}

// Manager is the authority over job->VM and fingerprint->warm VM
// mappings. Its operations are serialized by mu; boot/warm_up calls into
// the target VM Actor happen with mu released (the actor's own mailbox
// serializes them further), per §5's lock-release requirement.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	jobs        map[spec.JobId]jobEntry
	warm        map[spec.Fingerprint]warmEntry
	warmCounter map[spec.Fingerprint]int

	supervisor *vmactor.Supervisor
	runCtx     context.Context
	cancelRun  context.CancelFunc
}

// New creates an empty Manager and starts the background context its
// supervised actors run under.
func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.GuestPort == 0 {
		cfg.GuestPort = 8080
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		jobs:        make(map[spec.JobId]jobEntry),
		warm:        make(map[spec.Fingerprint]warmEntry),
		warmCounter: make(map[spec.Fingerprint]int),
		supervisor:  vmactor.NewSupervisor(cfg.Log),
		runCtx:      ctx,
		cancelRun:   cancel,
	}
	m.supervisor.OnRestart(m.handleActorRestart)
	return m
}

// handleActorRestart evicts any job/warm mapping that pointed at vmID
// after the supervisor has swapped in a fresh Init-state actor for it
// (spec.md §8 scenario 6, "crash recovery"). Without this, ActualIDs
// keeps reporting a crashed job as attached forever, since the
// supervisor's restart is otherwise invisible to the Manager: the
// reconciler's desired/actual diff would never notice the mismatch and
// the job would never be re-attached via the warm pool.
func (m *Manager) handleActorRestart(vmID string) {
	m.mu.Lock()
	var staleJob spec.JobId
	jobFound := false
	for jobID, e := range m.jobs {
		if e.vmID == vmID {
			staleJob = jobID
			jobFound = true
			break
		}
	}
	if jobFound {
		delete(m.jobs, staleJob)
	}

	var staleFP spec.Fingerprint
	warmFound := false
	for fp, e := range m.warm {
		if e.vmID == vmID {
			staleFP = fp
			warmFound = true
			break
		}
	}
	if warmFound {
		delete(m.warm, staleFP)
	}
	m.mu.Unlock()

	if jobFound {
		m.cfg.Log.Warn("vm actor crashed, evicting stale job entry", "vm_id", vmID, "job_id", staleJob)
	}
	if warmFound {
		m.cfg.Log.Warn("vm actor crashed, evicting stale warm entry", "vm_id", vmID, "fingerprint", staleFP)
	}
}

// Attach binds job_id to a running VM matching spec's fingerprint.
// Idempotent: a job_id already attached returns its current info
// unchanged. Requires a warm VM to exist for the fingerprint; otherwise
// returns ErrNoWarmVMAvailable and the caller (typically the reconciler)
// retries on the next tick.
func (m *Manager) Attach(ctx context.Context, jobID spec.JobId, sp spec.Spec) (vmactor.Info, error) {
	m.mu.Lock()
	if existing, ok := m.jobs[jobID]; ok {
		actor, ok := m.supervisor.Get(existing.vmID)
		m.mu.Unlock()
		if !ok {
			return vmactor.Info{}, fmt.Errorf("pool: job %s has no live actor for vm %s", jobID, existing.vmID)
		}
		return actor.Info(ctx)
	}

	tenant, ok, err := m.cfg.Tenants.TenantFor(ctx, jobID)
	if err != nil {
		m.mu.Unlock()
		return vmactor.Info{}, fmt.Errorf("pool: tenant lookup for %s: %w", jobID, err)
	}
	if !ok {
		m.mu.Unlock()
		return vmactor.Info{}, fmt.Errorf("%w: job %s", ErrUnknownJob, jobID)
	}

	fp := spec.ComputeFingerprint(sp)

	we, ok := m.warm[fp]
	if !ok {
		m.mu.Unlock()
		return vmactor.Info{}, ErrNoWarmVMAvailable
	}
	delete(m.warm, fp)
	m.jobs[jobID] = jobEntry{vmID: we.vmID, fingerprint: fp, tenant: tenant}
	actor, ok := m.supervisor.Get(we.vmID)
	m.mu.Unlock()

	if !ok {
		return vmactor.Info{}, fmt.Errorf("pool: warm vm %s has no live actor", we.vmID)
	}

	info, err := actor.UpdateTenant(ctx, tenant)
	if err != nil {
		return vmactor.Info{}, fmt.Errorf("pool: update_tenant for %s: %w", jobID, err)
	}

	go func() {
		bg, cancel := context.WithTimeout(m.runCtx, m.cfg.BootTimeout+m.cfg.HealthTimeout+30*time.Second)
		defer cancel()
		if err := m.EnsureWarmOne(bg, sp); err != nil {
			m.cfg.Log.Error("ensure_warm_one after attach failed", "fingerprint", fp, "error", err)
		}
	}()

	return info, nil
}

// Detach removes job_id's VM from jobs and stops it. Idempotent; no-op if
// unknown. The VM is not returned to the warm pool.
func (m *Manager) Detach(ctx context.Context, jobID spec.JobId) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.jobs, jobID)
	actor, ok := m.supervisor.Get(entry.vmID)
	m.supervisor.Remove(entry.vmID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	_, err := actor.Stop(ctx)
	return err
}

// EnsureWarmOne creates, boots, and warms a new VM for spec's fingerprint
// if one does not already exist. No-op otherwise. Failures are logged by
// the caller and retried on the next reconciler tick.
func (m *Manager) EnsureWarmOne(ctx context.Context, sp spec.Spec) error {
	fp := spec.ComputeFingerprint(sp)

	m.mu.Lock()
	if _, ok := m.warm[fp]; ok {
		m.mu.Unlock()
		return nil
	}
	m.warmCounter[fp]++
	vmID := fmt.Sprintf("%s-%d", fp, m.warmCounter[fp])
	m.mu.Unlock()

	alloc, err := m.cfg.NetAlloc.Allocate(vmID)
	if err != nil {
		return fmt.Errorf("pool: allocate network for %s: %w", vmID, err)
	}

	actor := m.supervisor.Start(m.runCtx, vmID, func() *vmactor.Actor {
		return vmactor.New(vmactor.Config{
			ID:          vmID,
			Fingerprint: fp,
			Spec:        sp,
			Net: vmactor.NetParams{
				TAPDevice: alloc.TAPDevice,
				Bridge:    alloc.Bridge,
				IP:        alloc.IP,
				MAC:       alloc.MAC,
				Netmask:   alloc.Netmask,
				GuestPort: m.cfg.GuestPort,
			},
			Driver:         m.cfg.Driver,
			Registrar:      m.cfg.Registrar,
			Clock:          m.cfg.Clock,
			Log:            m.cfg.Log,
			BootTimeout:    m.cfg.BootTimeout,
			HealthTimeout:  m.cfg.HealthTimeout,
			HealthInterval: m.cfg.HealthInterval,
		})
	})

	if _, err := actor.Boot(ctx); err != nil {
		m.cfg.NetAlloc.Release(vmID)
		m.supervisor.Remove(vmID)
		return fmt.Errorf("pool: boot warm vm %s: %w", vmID, err)
	}
	if _, err := actor.WarmUp(ctx); err != nil {
		m.cfg.NetAlloc.Release(vmID)
		m.supervisor.Remove(vmID)
		return fmt.Errorf("pool: warm_up warm vm %s: %w", vmID, err)
	}

	m.mu.Lock()
	if _, ok := m.warm[fp]; ok {
		// Lost the race to a concurrent ensure_warm_one for the same
		// fingerprint: keep the existing one, stop this one.
		m.mu.Unlock()
		m.cfg.NetAlloc.Release(vmID)
		m.supervisor.Remove(vmID)
		_, _ = actor.Stop(ctx)
		return nil
	}
	m.warm[fp] = warmEntry{vmID: vmID, spec: sp}
	m.mu.Unlock()
	return nil
}

// Lookup returns the VM info bound to job_id, or false if unknown.
func (m *Manager) Lookup(ctx context.Context, jobID spec.JobId) (vmactor.Info, bool, error) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return vmactor.Info{}, false, nil
	}
	actor, ok := m.supervisor.Get(entry.vmID)
	m.mu.Unlock()
	if !ok {
		return vmactor.Info{}, false, nil
	}
	info, err := actor.Info(ctx)
	if err != nil {
		return vmactor.Info{}, false, err
	}
	return info, true, nil
}

// ActualIDs returns the set of job_ids currently attached. Consumed by
// the reconciler's desired/actual diff.
func (m *Manager) ActualIDs() map[spec.JobId]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[spec.JobId]struct{}, len(m.jobs))
	for id := range m.jobs {
		ids[id] = struct{}{}
	}
	return ids
}

// WarmSpecHashes returns the set of fingerprints currently backed by a
// warm VM.
func (m *Manager) WarmSpecHashes() map[spec.Fingerprint]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	fps := make(map[spec.Fingerprint]struct{}, len(m.warm))
	for fp := range m.warm {
		fps[fp] = struct{}{}
	}
	return fps
}

// HasWarm reports whether a warm VM exists for fingerprint.
func (m *Manager) HasWarm(fp spec.Fingerprint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.warm[fp]
	return ok
}

// Stats is a point-in-time summary for the /stats endpoint.
type Stats struct {
	JobCount  int
	WarmCount int
	Jobs      []JobStat
	Warm      []WarmStat
}

// JobStat describes one attached job.
type JobStat struct {
	JobID       spec.JobId
	VMID        string
	Fingerprint spec.Fingerprint
	Tenant      spec.Tenant
}

// WarmStat describes one warm VM.
type WarmStat struct {
	VMID        string
	Fingerprint spec.Fingerprint
}

// Stats produces a consistent snapshot of jobs and the warm pool.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		JobCount:  len(m.jobs),
		WarmCount: len(m.warm),
		Jobs:      make([]JobStat, 0, len(m.jobs)),
		Warm:      make([]WarmStat, 0, len(m.warm)),
	}
	for jobID, e := range m.jobs {
		st.Jobs = append(st.Jobs, JobStat{JobID: jobID, VMID: e.vmID, Fingerprint: e.fingerprint, Tenant: e.tenant})
	}
	for fp, e := range m.warm {
		st.Warm = append(st.Warm, WarmStat{VMID: e.vmID, Fingerprint: fp})
	}
	return st
}

// Shutdown stops every VM in jobs and warm.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	vmIDs := make([]string, 0, len(m.jobs)+len(m.warm))
	for _, e := range m.jobs {
		vmIDs = append(vmIDs, e.vmID)
	}
	for _, e := range m.warm {
		vmIDs = append(vmIDs, e.vmID)
	}
	m.jobs = make(map[spec.JobId]jobEntry)
	m.warm = make(map[spec.Fingerprint]warmEntry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range vmIDs {
		actor, ok := m.supervisor.Get(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(a *vmactor.Actor) {
			defer wg.Done()
			_, _ = a.Stop(ctx)
		}(actor)
	}
	wg.Wait()
	m.cancelRun()
}
