// Package mockdriver provides an in-memory hypervisor.Driver for tests:
// the idempotent-attach scenario (spec.md §8 scenario 2) and the
// crash-recovery scenario both need an observable VM-creation counter
// instead of a real Firecracker/Cloud Hypervisor process, and the
// three-tier warm policy (service/daemon/job) needs its WarmUp depth to
// be observable too.
package mockdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/coldstart-systems/coldstart/lib/hypervisor"
)

// Driver is an in-memory hypervisor.Driver. Safe for concurrent use.
type Driver struct {
	mu sync.Mutex

	booted   map[string]hypervisor.VMConfig
	warm     map[string]bool
	stopped  map[string]bool
	bootErrs map[string]error

	// Warm-tier observations, per spec.md §4.2's three-tier policy:
	// service seeds replicas and subscribes to CDC, daemon only pings
	// for reachability, job does neither.
	replicaSeeded map[string]bool
	cdcSubscribed map[string]bool
	pinged        map[string]bool

	bootCount int
}

// New creates an empty mock driver.
func New() *Driver {
	return &Driver{
		booted:        make(map[string]hypervisor.VMConfig),
		warm:          make(map[string]bool),
		stopped:       make(map[string]bool),
		bootErrs:      make(map[string]error),
		replicaSeeded: make(map[string]bool),
		cdcSubscribed: make(map[string]bool),
		pinged:        make(map[string]bool),
	}
}

// FailBoot makes the next Boot call for vmID return err instead of
// succeeding. Cleared after it fires once.
func (d *Driver) FailBoot(vmID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bootErrs[vmID] = err
}

func (d *Driver) Boot(_ context.Context, vmID string, config hypervisor.VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err, ok := d.bootErrs[vmID]; ok {
		delete(d.bootErrs, vmID)
		return err
	}

	// Idempotent: re-booting an already-booted vm_id is a no-op and does
	// not bump the creation counter — this is what the idempotent-attach
	// test observes.
	if _, exists := d.booted[vmID]; exists {
		return nil
	}

	d.booted[vmID] = config
	d.bootCount++
	delete(d.stopped, vmID)
	return nil
}

func (d *Driver) WarmUp(_ context.Context, vmID string, config hypervisor.VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.booted[vmID]; !ok {
		return fmt.Errorf("mockdriver: warm_up on unbooted vm %s", vmID)
	}

	switch config.Lifecycle {
	case hypervisor.LifecycleService:
		d.replicaSeeded[vmID] = true
		d.cdcSubscribed[vmID] = true
	case hypervisor.LifecycleDaemon:
		d.pinged[vmID] = true
	case hypervisor.LifecycleJob:
		// Minimal/none: no priming work at all.
	default:
		d.pinged[vmID] = true
	}

	d.warm[vmID] = true
	return nil
}

func (d *Driver) Stop(_ context.Context, vmID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.booted, vmID)
	delete(d.warm, vmID)
	d.stopped[vmID] = true
	return nil
}

func (d *Driver) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{}
}

// BootCount returns the number of distinct VMs actually booted (Boot
// calls on an already-booted vm_id are not counted).
func (d *Driver) BootCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bootCount
}

// IsBooted reports whether vmID is currently booted (not stopped).
func (d *Driver) IsBooted(vmID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.booted[vmID]
	return ok
}

// IsStopped reports whether Stop was ever called for vmID.
func (d *Driver) IsStopped(vmID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped[vmID]
}

// ReplicaSeeded reports whether vmID received the service-tier
// replica-seeding step during WarmUp.
func (d *Driver) ReplicaSeeded(vmID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replicaSeeded[vmID]
}

// CDCSubscribed reports whether vmID received the service-tier
// CDC-subscription step during WarmUp.
func (d *Driver) CDCSubscribed(vmID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cdcSubscribed[vmID]
}

// Pinged reports whether vmID received the daemon-tier reachability ping
// during WarmUp.
func (d *Driver) Pinged(vmID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pinged[vmID]
}

var _ hypervisor.Driver = (*Driver)(nil)
