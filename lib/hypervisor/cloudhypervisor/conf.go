package cloudhypervisor

import (
	"fmt"
	"strings"

	"github.com/coldstart-systems/coldstart/lib/hypervisor"
)

func buildVMConfig(config hypervisor.VMConfig, serialLogPath string) *chVMConfig {
	cfg := &chVMConfig{
		CPUs:     chCPUs{BootVCPUs: config.VCPUs, MaxVCPUs: config.VCPUs},
		Memory:   chMemory{Size: config.MemoryBytes},
		RNG:      chRNG{Src: "/dev/urandom"},
		Watchdog: true,
		Serial:   chSerial{Mode: "File", File: serialLogPath},
		Console:  chConsole{Mode: "Off"},
	}

	if config.RootfsPath != "" {
		cfg.Disks = append(cfg.Disks, chDisk{Path: config.RootfsPath})
	}

	if config.Network.TAPDevice != "" {
		cfg.Net = append(cfg.Net, chNet{Tap: config.Network.TAPDevice, Mac: config.Network.MAC})
	}

	if config.KernelPath != "" {
		cfg.Payload = &chPayload{
			Kernel:    config.KernelPath,
			Initramfs: config.InitrdPath,
			Cmdline:   buildCmdline(config),
		}
	}

	return cfg
}

// buildCmdline appends the job's command and environment to the kernel
// boot args so the guest init can exec them; kernel_args carries any
// backend-specific boot parameters the caller already set.
func buildCmdline(config hypervisor.VMConfig) string {
	parts := []string{config.KernelArgs}
	if len(config.Cmd) > 0 {
		parts = append(parts, "init="+config.Cmd[0])
	}
	for k, v := range config.Env {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// buildCLIArgs converts a chVMConfig into cloud-hypervisor CLI arguments.
// --api-socket keeps the socket available for later control operations
// (shutdown, liveness) even though the VM is auto-started from these args.
func buildCLIArgs(cfg *chVMConfig, socketPath string) []string {
	args := []string{"--api-socket", socketPath}

	args = append(args, "--cpus", fmt.Sprintf("boot=%d,max=%d", cfg.CPUs.BootVCPUs, cfg.CPUs.MaxVCPUs))
	args = append(args, "--memory", fmt.Sprintf("size=%d", cfg.Memory.Size))

	for _, d := range cfg.Disks {
		arg := "path=" + d.Path
		if d.ReadOnly {
			arg += ",readonly=on"
		}
		args = append(args, "--disk", arg)
	}

	for _, n := range cfg.Net {
		arg := "tap=" + n.Tap
		if n.Mac != "" {
			arg += ",mac=" + n.Mac
		}
		args = append(args, "--net", arg)
	}

	if p := cfg.Payload; p != nil {
		if p.Kernel != "" {
			args = append(args, "--kernel", p.Kernel)
		}
		if p.Initramfs != "" {
			args = append(args, "--initramfs", p.Initramfs)
		}
		if p.Cmdline != "" {
			args = append(args, "--cmdline", p.Cmdline)
		}
	}

	args = append(args, "--rng", fmt.Sprintf("src=%s", cfg.RNG.Src))
	if cfg.Watchdog {
		args = append(args, "--watchdog")
	}
	args = append(args, "--serial", "file="+cfg.Serial.File)
	args = append(args, "--console", strings.ToLower(cfg.Console.Mode))

	return args
}
