package desiredstate_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstart-systems/coldstart/lib/desiredstate"
	"github.com/coldstart-systems/coldstart/lib/spec"
)

func openTestStore(t *testing.T) *desiredstate.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desired.db")
	store, err := desiredstate.Open(path, func() int64 { return 1 })
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSpec() spec.Spec {
	return spec.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Cmd:        []string{"/bin/web"},
		Resources:  spec.Resources{VCPU: 1, MemMB: 256},
		Lifecycle:  spec.LifecycleService,
	}
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "web-1", "web-1", testSpec()))

	entry, ok, err := store.Get(ctx, "web-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spec.Tenant("web-1"), entry.Tenant)
	assert.Equal(t, testSpec(), entry.Spec)
}

func TestPutUpsertReplacesSpec(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "web-1", "web-1", testSpec()))

	updated := testSpec()
	updated.Resources.MemMB = 512
	require.NoError(t, store.Put(ctx, "web-1", "web-1", updated))

	entry, ok, err := store.Get(ctx, "web-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 512, entry.Spec.Resources.MemMB)
}

func TestGetMiss(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "web-1", "web-1", testSpec()))
	require.NoError(t, store.Delete(ctx, "web-1"))
	require.NoError(t, store.Delete(ctx, "web-1"))

	_, ok, err := store.Get(ctx, "web-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "web-1", "web-1", testSpec()))
	require.NoError(t, store.Put(ctx, "web-2", "web-2", testSpec()))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, spec.JobId("web-1"))
	assert.Contains(t, all, spec.JobId("web-2"))
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "web-1", "web-1", testSpec()))
	require.NoError(t, store.DeleteAll(ctx))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBootstrapMissingFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	log := slog.New(slog.DiscardHandler)

	require.NoError(t, desiredstate.Bootstrap(ctx, store, filepath.Join(t.TempDir(), "nope.yaml"), log))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBootstrapLoadsEntries(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	log := slog.New(slog.DiscardHandler)

	yamlDoc := `
jobs:
  - job_id: web-1
    tenant: web-1
    spec:
      kernel: /k
      rootfs: /r
      cmd: ["/bin/web"]
      resources:
        vcpu: 1
        mem_mb: 256
      lifecycle: service
      warm_pool:
        min: 1
        max: 3
`
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	require.NoError(t, desiredstate.Bootstrap(ctx, store, path, log))

	entry, ok, err := store.Get(ctx, "web-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spec.LifecycleService, entry.Spec.Lifecycle)
	require.NotNil(t, entry.Spec.WarmPool)
	assert.Equal(t, 1, entry.Spec.WarmPool.Min)
	assert.Equal(t, 3, entry.Spec.WarmPool.Max)
}

func TestBootstrapParseFailureLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	log := slog.New(slog.DiscardHandler)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml: at: all"), 0o644))

	require.NoError(t, desiredstate.Bootstrap(ctx, store, path, log))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
