// Package reconciler drives the pool toward the desired state store's
// contents on a periodic tick: attach missing jobs, detach stale ones,
// and keep one warm VM per fingerprint that wants one.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/desiredstate"
	"github.com/coldstart-systems/coldstart/lib/spec"
	"github.com/coldstart-systems/coldstart/lib/vmactor"
)

const defaultInterval = time.Second

// PoolManager is the subset of *pool.Manager the reconciler drives.
// Narrowed to an interface so this package can be tested without a real
// hypervisor driver.
type PoolManager interface {
	Attach(ctx context.Context, jobID spec.JobId, sp spec.Spec) (vmactor.Info, error)
	Detach(ctx context.Context, jobID spec.JobId) error
	EnsureWarmOne(ctx context.Context, sp spec.Spec) error
	ActualIDs() map[spec.JobId]struct{}
	WarmSpecHashes() map[spec.Fingerprint]struct{}
}

// Store is the subset of *desiredstate.Store the reconciler reads.
type Store interface {
	List(ctx context.Context) (map[spec.JobId]desiredstate.Entry, error)
}

// Reconciler runs the periodic convergence loop described by the
// desired/actual diff algorithm. Grounded on the teacher pack's
// snapshot -> resolve -> act GC orchestrator shape, generalized from
// garbage collection to pool convergence.
type Reconciler struct {
	store Store
	pool  PoolManager
	clock clock.Clock
	log   *slog.Logger

	interval time.Duration
}

// Config configures a new Reconciler.
type Config struct {
	Store    Store
	Pool     PoolManager
	Clock    clock.Clock
	Log      *slog.Logger
	Interval time.Duration
}

// New creates a Reconciler from cfg.
func New(cfg Config) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	return &Reconciler{
		store:    cfg.Store,
		pool:     cfg.Pool,
		clock:    cfg.Clock,
		log:      cfg.Log,
		interval: cfg.Interval,
	}
}

// Run ticks until ctx is cancelled, calling Tick on each interval. The
// first tick runs immediately rather than waiting a full interval.
func (r *Reconciler) Run(ctx context.Context) {
	r.tickAndLog(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tickAndLog(ctx)
		}
	}
}

func (r *Reconciler) tickAndLog(ctx context.Context) {
	if err := r.Tick(ctx); err != nil {
		r.log.Error("reconcile tick failed", "error", err)
	}
}

// Tick runs one convergence pass: snapshot desired and actual state,
// compute the diff, then act. A store that is still populating (e.g.
// during bootstrap) is tolerated — the next tick picks up any rows
// missed this time.
func (r *Reconciler) Tick(ctx context.Context) error {
	desired, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	actual := r.pool.ActualIDs()

	desiredIDs := lo.Keys(desired)
	actualIDs := lo.Keys(actual)

	toAttach := lo.Without(desiredIDs, actualIDs...)
	toDetach := lo.Without(actualIDs, desiredIDs...)

	for _, jobID := range toAttach {
		entry := desired[jobID]
		if _, err := r.pool.Attach(ctx, jobID, entry.Spec); err != nil {
			r.log.Warn("attach failed, retrying next tick", "job_id", jobID, "error", err)
		}
	}

	for _, jobID := range toDetach {
		if err := r.pool.Detach(ctx, jobID); err != nil {
			r.log.Warn("detach failed, retrying next tick", "job_id", jobID, "error", err)
		}
	}

	r.ensureWarmForAllSpecs(ctx, desired)
	return nil
}

// ensureWarmForAllSpecs selects desired entries whose spec wants a warm
// pool, computes their fingerprints, diffs against the pool's existing
// warm set, and ensures one warm VM per missing fingerprint. When
// multiple desired entries share a fingerprint, any one suffices to seed
// it — duplicates are deduplicated via the fingerprint map key itself.
func (r *Reconciler) ensureWarmForAllSpecs(ctx context.Context, desired map[spec.JobId]desiredstate.Entry) {
	wanted := make(map[spec.Fingerprint]spec.Spec)
	for _, entry := range desired {
		if !entry.Spec.WantsWarmPool() {
			continue
		}
		wanted[spec.ComputeFingerprint(entry.Spec)] = entry.Spec
	}

	existing := r.pool.WarmSpecHashes()
	wantedFPs := lo.Keys(wanted)
	existingFPs := lo.Keys(existing)
	missing := lo.Without(wantedFPs, existingFPs...)

	for _, fp := range missing {
		if err := r.pool.EnsureWarmOne(ctx, wanted[fp]); err != nil {
			r.log.Warn("ensure_warm_one failed, retrying next tick", "fingerprint", fp, "error", err)
		}
	}
}
