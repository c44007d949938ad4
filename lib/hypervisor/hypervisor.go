// Package hypervisor abstracts boot/warm-up/stop over a microVM backend
// (Firecracker, Cloud Hypervisor, or a mock for tests). The VM Actor is
// the only caller; it never references a concrete driver.
package hypervisor

import "context"

// Type identifies a hypervisor backend.
type Type string

const (
	TypeFirecracker     Type = "firecracker"
	TypeCloudHypervisor Type = "cloud_hypervisor"
)

// Driver is the capability interface a VM Actor drives to realize one
// microVM. Implementations: firecracker (HTTP-over-UDS), cloudhypervisor
// (CLI args + auto-start), mockdriver (in-memory, for tests).
type Driver interface {
	// Boot starts the VM process, configures it, and begins execution.
	// Must be idempotent with respect to the caller's retry behavior: a
	// second Boot call for a vm_id whose process is already running
	// should not spawn a second process.
	Boot(ctx context.Context, vmID string, config VMConfig) error

	// WarmUp performs lifecycle-class-specific pre-warming inside an
	// already-booted VM. The VM keeps running but stays unbound to any
	// tenant workload.
	WarmUp(ctx context.Context, vmID string, config VMConfig) error

	// Stop terminates the VM process and releases its host resources.
	// Must be idempotent and must never fail observably: unreachable
	// processes are reaped, not surfaced as an error. The firecracker and
	// cloudhypervisor drivers do not log these failures.
	Stop(ctx context.Context, vmID string) error

	// Capabilities reports which optional features this backend supports.
	Capabilities() Capabilities
}

// Capabilities indicates which optional features a driver's backend
// supports.
type Capabilities struct {
	// SupportsVsock indicates the backend offers vsock communication. No
	// driver here configures a vsock device; the guest health check is an
	// HTTP GET over the VM's TAP address.
	SupportsVsock bool

	// SupportsGPUPassthrough indicates the backend offers PCI device
	// passthrough. No driver here passes VMConfig.PCIDevices on.
	SupportsGPUPassthrough bool
}
