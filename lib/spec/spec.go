// Package spec defines the launch specification for a microVM and the
// deterministic fingerprint used to key the warm pool.
package spec

// JobId identifies a unit of desired work. Unique across the desired set.
type JobId string

// Tenant is the logical owner/namespace of a job. Defaults to the JobId
// when omitted on write.
type Tenant string

// Fingerprint is a stable, order-insensitive content hash of a Spec,
// encoded as uppercase hex. It is the warm-pool cache key, not a security
// boundary.
type Fingerprint string

// Lifecycle governs warm-up intensity and warm-pool recommendation.
type Lifecycle string

const (
	LifecycleService Lifecycle = "service"
	LifecycleDaemon  Lifecycle = "daemon"
	LifecycleJob     Lifecycle = "job"
)

// Resources declares the compute shape of a microVM.
type Resources struct {
	VCPU  int `json:"vcpu"`
	MemMB int `json:"mem_mb"`
}

// WarmPool declares how many pre-booted VMs to keep ready for this spec's
// fingerprint. Min == 0 (or the field entirely absent) means "no warm
// pool" — see the Pool Manager's warm-only attachment contract.
type WarmPool struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Spec is an immutable bundle describing how to launch one microVM. Two
// Specs are equivalent iff they produce the same Fingerprint; specs are
// value objects and are never mutated after creation.
type Spec struct {
	KernelPath string            `json:"kernel_path"`
	RootfsPath string            `json:"rootfs_path"`
	Cmd        []string          `json:"cmd"`
	Env        map[string]string `json:"env"`
	Resources  Resources         `json:"resources"`
	Lifecycle  Lifecycle         `json:"lifecycle"`
	WarmPool   *WarmPool         `json:"warm_pool,omitempty"`

	// Extra is the forward-compatibility escape hatch for fields not yet
	// promoted to a first-class column. Included in fingerprint
	// canonicalization like every other field.
	Extra map[string]any `json:"extra,omitempty"`
}

// WantsWarmPool reports whether this spec declares a warm pool with at
// least one VM to keep ready.
func (s Spec) WantsWarmPool() bool {
	return s.WarmPool != nil && s.WarmPool.Min > 0
}
