package config

import (
	"os"
	goruntime "runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds coldstartd's environment-derived configuration. Field
// names mirror the FC_* env vars verbatim where the spec names one;
// ambient concerns (data dir, OTel, reconcile cadence) get their own.
type Config struct {
	Backend        string // FC_BACKEND: "firecracker" | "cloud_hypervisor"
	KernelPath     string // FC_KERNEL
	RootfsPath     string // FC_ROOTFS
	WarmMin        int    // FC_WARM
	MaxVMs         int    // FC_MAX
	Bridge         string // FC_BRIDGE
	BridgeCIDR     string // FC_BRIDGE_CIDR
	SubnetPrefix   int    // FC_SUBNET_PREFIX
	OutIface       string // FC_OUT_IFACE
	GuestPort      int    // FC_GUEST_PORT
	Port           string // FC_PORT

	DataDir             string        // FC_DATA_DIR
	DesiredStateFile    string        // FC_DESIRED_STATE_FILE
	ReconcileInterval   time.Duration // FC_RECONCILE_INTERVAL
	BootTimeout         time.Duration // FC_BOOT_TIMEOUT
	HealthTimeout       time.Duration // FC_HEALTH_TIMEOUT

	OtelEnabled     bool   // FC_OTEL_ENABLED
	OtelEndpoint    string // FC_OTEL_ENDPOINT
	OtelServiceName string // FC_OTEL_SERVICE_NAME
}

// Load loads configuration from environment variables. Automatically
// loads a .env file if present (fails silently if not).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Backend:      getEnv("FC_BACKEND", defaultBackend()),
		KernelPath:   getEnv("FC_KERNEL", "/var/lib/coldstartd/vmlinux"),
		RootfsPath:   getEnv("FC_ROOTFS", "/var/lib/coldstartd/rootfs.ext4"),
		WarmMin:      getEnvInt("FC_WARM", 0),
		MaxVMs:       getEnvInt("FC_MAX", 0),
		Bridge:       getEnv("FC_BRIDGE", "cstbr0"),
		BridgeCIDR:   getEnv("FC_BRIDGE_CIDR", "10.200.0.1/24"),
		SubnetPrefix: getEnvInt("FC_SUBNET_PREFIX", 24),
		OutIface:     getEnv("FC_OUT_IFACE", "eth0"),
		GuestPort:    getEnvInt("FC_GUEST_PORT", 8080),
		Port:         getEnv("FC_PORT", "7070"),

		DataDir:           getEnv("FC_DATA_DIR", "/var/lib/coldstartd"),
		DesiredStateFile:  getEnv("FC_DESIRED_STATE_FILE", "/var/lib/coldstartd/bootstrap.yaml"),
		ReconcileInterval: getEnvDuration("FC_RECONCILE_INTERVAL", time.Second),
		BootTimeout:       getEnvDuration("FC_BOOT_TIMEOUT", 60*time.Second),
		HealthTimeout:     getEnvDuration("FC_HEALTH_TIMEOUT", 15*time.Second),

		OtelEnabled:     getEnvBool("FC_OTEL_ENABLED", false),
		OtelEndpoint:    getEnv("FC_OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName: getEnv("FC_OTEL_SERVICE_NAME", "coldstartd"),
	}
}

// defaultBackend picks cloud_hypervisor on non-Linux dev boxes and
// firecracker everywhere else, matching spec.md §6's "default by OS".
func defaultBackend() string {
	if goruntime.GOOS == "linux" {
		return "firecracker"
	}
	return "cloud_hypervisor"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
