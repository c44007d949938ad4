package firecracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coldstart-systems/coldstart/lib/hypervisor"
)

// vmRuntime tracks the host-side process handle for one booted VM.
type vmRuntime struct {
	pid        int
	socketPath string
}

// Driver implements hypervisor.Driver over the Firecracker HTTP-over-UDS
// API. One Driver instance is shared across all VM Actors; per-VM state
// lives in runtime, keyed by vm_id.
type Driver struct {
	binaryPath string
	runDir     string

	mu      sync.Mutex
	runtime map[string]*vmRuntime
}

// New creates a Firecracker driver. runDir holds per-VM sockets and logs;
// binaryPath is the firecracker executable.
func New(binaryPath, runDir string) *Driver {
	return &Driver{
		binaryPath: binaryPath,
		runDir:     runDir,
		runtime:    make(map[string]*vmRuntime),
	}
}

func (d *Driver) socketPath(vmID string) string {
	return filepath.Join(d.runDir, vmID, "firecracker.sock")
}

func (d *Driver) logPath(vmID string) string {
	return filepath.Join(d.runDir, vmID, "firecracker.log")
}

func (d *Driver) Boot(ctx context.Context, vmID string, config hypervisor.VMConfig) error {
	d.mu.Lock()
	if rt, ok := d.runtime[vmID]; ok && isProcessAlive(rt.pid) {
		d.mu.Unlock()
		return nil // already booted: Boot is idempotent.
	}
	d.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(d.runDir, vmID), 0o755); err != nil {
		return &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindSpawn, Err: fmt.Errorf("ensure run dir: %w", err)}
	}

	socketPath := d.socketPath(vmID)
	pid, err := launchProcess(ctx, d.binaryPath, socketPath, d.logPath(vmID))
	if err != nil {
		return &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindSpawn, Err: err}
	}

	if err := d.configure(ctx, socketPath, config); err != nil {
		killProcess(pid)
		return &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindConfigure, Err: err}
	}

	if err := doPUT(ctx, socketPath, "/actions", actionRequest{ActionType: "InstanceStart"}); err != nil {
		killProcess(pid)
		return &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindStart, Err: err}
	}

	d.mu.Lock()
	d.runtime[vmID] = &vmRuntime{pid: pid, socketPath: socketPath}
	d.mu.Unlock()
	return nil
}

func (d *Driver) configure(ctx context.Context, socketPath string, config hypervisor.VMConfig) error {
	if err := doPUT(ctx, socketPath, "/machine-config", machineConfig{
		VCPUCount:  config.VCPUs,
		MemSizeMib: config.MemoryBytes / (1024 * 1024),
	}); err != nil {
		return fmt.Errorf("machine-config: %w", err)
	}

	if err := doPUT(ctx, socketPath, "/boot-source", bootSource{
		KernelImagePath: config.KernelPath,
		InitrdPath:      config.InitrdPath,
		BootArgs:        config.KernelArgs,
	}); err != nil {
		return fmt.Errorf("boot-source: %w", err)
	}

	if err := doPUT(ctx, socketPath, "/drives/rootfs", drive{
		DriveID:      "rootfs",
		PathOnHost:   config.RootfsPath,
		IsRootDevice: true,
		IsReadOnly:   false,
	}); err != nil {
		return fmt.Errorf("drives/rootfs: %w", err)
	}

	if config.Network.TAPDevice != "" {
		if err := doPUT(ctx, socketPath, "/network-interfaces/eth0", networkInterface{
			IfaceID:     "eth0",
			HostDevName: config.Network.TAPDevice,
			GuestMAC:    config.Network.MAC,
		}); err != nil {
			return fmt.Errorf("network-interfaces/eth0: %w", err)
		}
	}

	return nil
}

// WarmUp depth follows spec.md §4.2's three-tier policy: job skips the
// check entirely (minimal/none), daemon confirms the socket accepts
// connections, service additionally confirms the API is answering
// requests (standing in for replica seeding + CDC subscription, which
// happen over the guest's own control plane once this check passes).
func (d *Driver) WarmUp(ctx context.Context, vmID string, config hypervisor.VMConfig) error {
	if config.Lifecycle == hypervisor.LifecycleJob {
		return nil
	}

	d.mu.Lock()
	rt, ok := d.runtime[vmID]
	d.mu.Unlock()
	if !ok {
		return &hypervisor.ErrWarmUpFailed{Subkind: "not_booted", Err: fmt.Errorf("vm %s not booted", vmID)}
	}
	if err := checkSocket(rt.socketPath); err != nil {
		return &hypervisor.ErrWarmUpFailed{Subkind: "unreachable", Err: err}
	}

	if config.Lifecycle == hypervisor.LifecycleService {
		if err := doGET(ctx, rt.socketPath, "/"); err != nil {
			return &hypervisor.ErrWarmUpFailed{Subkind: "unreachable", Err: err}
		}
	}
	return nil
}

func (d *Driver) Stop(ctx context.Context, vmID string) error {
	d.mu.Lock()
	rt, ok := d.runtime[vmID]
	delete(d.runtime, vmID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	// Best effort: ask Firecracker to shut down via SendCtrlAltDel, then
	// make sure the process is actually gone. Stop must never fail
	// observably, per the hypervisor.Driver contract.
	_ = doPUT(ctx, rt.socketPath, "/actions", actionRequest{ActionType: "SendCtrlAltDel"})
	killProcess(rt.pid)
	_ = os.Remove(rt.socketPath)
	_ = os.RemoveAll(filepath.Dir(rt.socketPath))
	return nil
}

func (d *Driver) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{SupportsVsock: true}
}

var _ hypervisor.Driver = (*Driver)(nil)
