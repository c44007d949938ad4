package cloudhypervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coldstart-systems/coldstart/lib/hypervisor"
)

type vmRuntime struct {
	pid        int
	socketPath string
}

// Driver implements hypervisor.Driver over Cloud Hypervisor. The VM is
// auto-started from CLI arguments built by buildCLIArgs; the API socket is
// used afterward only for vm.shutdown and liveness checks.
type Driver struct {
	binaryPath string
	runDir     string

	mu      sync.Mutex
	runtime map[string]*vmRuntime
}

// New creates a Cloud Hypervisor driver. runDir holds per-VM sockets, serial
// logs, and process logs; binaryPath is the cloud-hypervisor executable.
func New(binaryPath, runDir string) *Driver {
	return &Driver{
		binaryPath: binaryPath,
		runDir:     runDir,
		runtime:    make(map[string]*vmRuntime),
	}
}

func (d *Driver) vmDir(vmID string) string { return filepath.Join(d.runDir, vmID) }

func (d *Driver) socketPath(vmID string) string { return filepath.Join(d.vmDir(vmID), "ch.sock") }

func (d *Driver) serialLogPath(vmID string) string {
	return filepath.Join(d.vmDir(vmID), "serial.log")
}

func (d *Driver) processLogPath(vmID string) string {
	return filepath.Join(d.vmDir(vmID), "ch.log")
}

func (d *Driver) Boot(ctx context.Context, vmID string, config hypervisor.VMConfig) error {
	d.mu.Lock()
	if rt, ok := d.runtime[vmID]; ok && isProcessAlive(rt.pid) {
		d.mu.Unlock()
		return nil // already booted: Boot is idempotent.
	}
	d.mu.Unlock()

	if err := os.MkdirAll(d.vmDir(vmID), 0o755); err != nil {
		return &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindSpawn, Err: fmt.Errorf("ensure run dir: %w", err)}
	}

	socketPath := d.socketPath(vmID)
	chCfg := buildVMConfig(config, d.serialLogPath(vmID))
	args := buildCLIArgs(chCfg, socketPath)

	pid, err := launchProcess(ctx, d.binaryPath, args, socketPath, d.processLogPath(vmID))
	if err != nil {
		return &hypervisor.ErrBootFailed{Subkind: hypervisor.BootSubkindStart, Err: err}
	}

	d.mu.Lock()
	d.runtime[vmID] = &vmRuntime{pid: pid, socketPath: socketPath}
	d.mu.Unlock()
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
		if err := doGET(ctx, rt.socketPath, "/api/v1/vm.info"); err != nil {
			return &hypervisor.ErrWarmUpFailed{Subkind: "unreachable", Err: err}
		}
	}
	return nil
}

// Stop shuts down the Cloud Hypervisor process: flush disk backends via
// vm.shutdown, then SIGTERM -> SIGKILL as a fallback via process.go's
// terminateProcess. Never fails
// observably.
func (d *Driver) Stop(ctx context.Context, vmID string) error {
	d.mu.Lock()
	rt, ok := d.runtime[vmID]
	delete(d.runtime, vmID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	if err := shutdownVM(ctx, rt.socketPath); err != nil {
		// Best effort: the process may already be gone, or may ignore
		// vm.shutdown; terminateProcess below is the authoritative path.
		_ = err
	}
	terminateProcess(rt.pid, terminateGracePeriod)
	_ = os.Remove(rt.socketPath)
	_ = os.RemoveAll(d.vmDir(vmID))
	return nil
}

func (d *Driver) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{SupportsGPUPassthrough: true}
}

var _ hypervisor.Driver = (*Driver)(nil)
