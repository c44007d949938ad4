package desiredstate

import (
	"context"
	"log/slog"
	"os"

	"github.com/ghodss/yaml"

	"github.com/coldstart-systems/coldstart/lib/spec"
)

// bootstrapDoc is the on-disk shape of the bootstrap desired-state file:
// an ordered list of (job_id, tenant, spec) triples. ghodss/yaml
// round-trips YAML through JSON, so these types carry json struct tags.
// The file's spec keys (kernel, rootfs) differ from spec.Spec's spec_json
// keys (kernel_path, rootfs_path); Bootstrap converts each entry into a
// spec.Spec before storing it.
type bootstrapDoc struct {
	Jobs []bootstrapEntry `json:"jobs"`
}

type bootstrapEntry struct {
	JobID  string        `json:"job_id"`
	Tenant string        `json:"tenant,omitempty"`
	Spec   bootstrapSpec `json:"spec"`
}

type bootstrapSpec struct {
	Kernel    string            `json:"kernel"`
	Rootfs    string            `json:"rootfs"`
	Cmd       []string          `json:"cmd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Resources bootstrapRes      `json:"resources"`
	Lifecycle string            `json:"lifecycle"`
	WarmPool  *bootstrapWarm    `json:"warm_pool,omitempty"`
}

type bootstrapRes struct {
	VCPU  int `json:"vcpu"`
	MemMB int `json:"mem_mb"`
}

type bootstrapWarm struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Bootstrap reads the declarative desired-state file at path and UPSERTs
// each entry into the store. A read or parse failure logs an error and
// returns nil without writing anything, leaving the store untouched; a
// missing file is not an error — it starts empty.
func Bootstrap(ctx context.Context, store *Store, path string, log *slog.Logger) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info("bootstrap file not found, starting empty", "path", path)
		return nil
	}
	if err != nil {
		log.Error("bootstrap file read failed", "path", path, "error", err)
		return nil
	}

	var doc bootstrapDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Error("bootstrap file parse failed", "path", path, "error", err)
		return nil
	}

	for _, entry := range doc.Jobs {
		if entry.JobID == "" {
			log.Error("bootstrap entry missing job_id, skipping")
			continue
		}
		tenant := entry.Tenant
		if tenant == "" {
			tenant = entry.JobID
		}

		sp := spec.Spec{
			KernelPath: entry.Spec.Kernel,
			RootfsPath: entry.Spec.Rootfs,
			Cmd:        entry.Spec.Cmd,
			Env:        entry.Spec.Env,
			Resources: spec.Resources{
				VCPU:  entry.Spec.Resources.VCPU,
				MemMB: entry.Spec.Resources.MemMB,
			},
			Lifecycle: spec.Lifecycle(entry.Spec.Lifecycle),
		}
		if entry.Spec.WarmPool != nil {
			sp.WarmPool = &spec.WarmPool{Min: entry.Spec.WarmPool.Min, Max: entry.Spec.WarmPool.Max}
		}

		if err := store.Put(ctx, spec.JobId(entry.JobID), spec.Tenant(tenant), sp); err != nil {
			log.Error("bootstrap upsert failed", "job_id", entry.JobID, "error", err)
			continue
		}
	}

	log.Info("bootstrap complete", "path", path, "jobs", len(doc.Jobs))
	return nil
}
