// Package cloudhypervisor implements hypervisor.Driver over Cloud
// Hypervisor: the VM is configured and auto-started from CLI arguments
// (not a two-step create+boot REST call), and later addressed over its
// API socket only for shutdown and liveness.
package cloudhypervisor

type chVMConfig struct {
	CPUs     chCPUs     `json:"cpus"`
	Memory   chMemory   `json:"memory"`
	Disks    []chDisk   `json:"disks,omitempty"`
	Net      []chNet    `json:"net,omitempty"`
	Payload  *chPayload `json:"payload,omitempty"`
	RNG      chRNG      `json:"rng"`
	Serial   chSerial   `json:"serial"`
	Console  chConsole  `json:"console"`
	Watchdog bool       `json:"watchdog"`
}

type chCPUs struct {
	BootVCPUs int `json:"boot_vcpus"`
	MaxVCPUs  int `json:"max_vcpus"`
}

type chMemory struct {
	Size int64 `json:"size"`
}

type chDisk struct {
	Path     string `json:"path"`
	ReadOnly bool   `json:"readonly,omitempty"`
}

type chNet struct {
	Tap string `json:"tap"`
	Mac string `json:"mac,omitempty"`
}

type chPayload struct {
	Kernel    string `json:"kernel,omitempty"`
	Initramfs string `json:"initramfs,omitempty"`
	Cmdline   string `json:"cmdline,omitempty"`
}

type chRNG struct {
	Src string `json:"src"`
}

type chSerial struct {
	Mode string `json:"mode"`
	File string `json:"file,omitempty"`
}

type chConsole struct {
	Mode string `json:"mode"`
}
