// Package paths provides centralized path construction for coldstart's
// data directory.
package paths

import "path/filepath"

// Paths provides typed path construction for the coldstart data directory.
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// StateDB returns the path to the desired-state SQLite database file.
func (p *Paths) StateDB() string {
	return filepath.Join(p.dataDir, "state", "desired.db")
}

// BootstrapFile returns the path to the bootstrap desired-state file
// loaded on startup, per §4.4.
func (p *Paths) BootstrapFile() string {
	return filepath.Join(p.dataDir, "bootstrap.yaml")
}

// VMsDir returns the root directory under which every VM's run directory
// lives.
func (p *Paths) VMsDir() string {
	return filepath.Join(p.dataDir, "vms")
}

// VMDir returns the run directory for a single VM: sockets, serial and
// process logs, and any scratch state the driver needs.
func (p *Paths) VMDir(vmID string) string {
	return filepath.Join(p.VMsDir(), vmID)
}

// VMSocket returns the path to a VM's hypervisor API socket. socketName
// comes from hypervisor.Type-specific naming to stay within the Unix
// socket path length limit (SUN_LEN ~108 bytes).
func (p *Paths) VMSocket(vmID, socketName string) string {
	return filepath.Join(p.VMDir(vmID), socketName)
}

// VMSerialLog returns the path to a VM's guest serial console log.
func (p *Paths) VMSerialLog(vmID string) string {
	return filepath.Join(p.VMDir(vmID), "serial.log")
}

// VMProcessLog returns the path to a VM's process.log. The firecracker and
// cloudhypervisor drivers write the hypervisor's stdout/stderr to their own
// files in the run directory (firecracker.log, ch.log), not to this path.
func (p *Paths) VMProcessLog(vmID string) string {
	return filepath.Join(p.VMDir(vmID), "process.log")
}

// VMVsockSocket returns the path to a VM's vsock-over-UDS socket. The guest
// health check does not use it; it polls the guest over HTTP.
func (p *Paths) VMVsockSocket(vmID string) string {
	return filepath.Join(p.VMDir(vmID), "vsock.sock")
}
