package vmactor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstart-systems/coldstart/lib/clock"
	"github.com/coldstart-systems/coldstart/lib/hypervisor"
	"github.com/coldstart-systems/coldstart/lib/proxy"
)

// panicDriver panics on Boot, simulating the abnormal exit a
// Supervisor is meant to recover from.
type panicDriver struct{}

func (panicDriver) Boot(context.Context, string, hypervisor.VMConfig) error { panic("boom") }
func (panicDriver) WarmUp(context.Context, string, hypervisor.VMConfig) error {
	return nil
}
func (panicDriver) Stop(context.Context, string) error { return nil }
func (panicDriver) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{}
}

func TestSupervisorRestartsOnPanicAndNotifiesCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(slog.New(slog.DiscardHandler))

	var mu sync.Mutex
	var restarted []string
	sup.OnRestart(func(vmID string) {
		mu.Lock()
		defer mu.Unlock()
		restarted = append(restarted, vmID)
	})

	newActor := func() *Actor {
		return New(Config{
			ID:        "vm-1",
			Net:       NetParams{TAPDevice: "tap-vm-1"},
			Driver:    panicDriver{},
			Registrar: proxy.Noop{},
			Clock:     clock.Fake(time.Unix(0, 0)),
			Log:       slog.New(slog.DiscardHandler),
			tap:       &fakeTap{},
			checker:   &fakeHealth{healthyAfter: 1},
		})
	}

	original := sup.Start(ctx, "vm-1", newActor)

	// The panic happens mid-handle, before the reply is ever sent, so
	// this call can only return via its own context deadline.
	bootCtx, bootCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer bootCancel()
	_, err := original.Boot(bootCtx)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(restarted) == 1 && restarted[0] == "vm-1"
	}, time.Second, 10*time.Millisecond, "supervisor must notify the restart callback")

	restartedActor, ok := sup.Get("vm-1")
	require.True(t, ok)
	info, err := restartedActor.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.StateInit, info.Status, "a restarted actor starts fresh in Init")
}

func TestSupervisorRemoveStopsRestartOnSubsequentPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(slog.New(slog.DiscardHandler))

	restartCount := 0
	var mu sync.Mutex
	sup.OnRestart(func(string) {
		mu.Lock()
		defer mu.Unlock()
		restartCount++
	})

	newActor := func() *Actor {
		return New(Config{
			ID:        "vm-1",
			Net:       NetParams{TAPDevice: "tap-vm-1"},
			Driver:    panicDriver{},
			Registrar: proxy.Noop{},
			Clock:     clock.Fake(time.Unix(0, 0)),
			Log:       slog.New(slog.DiscardHandler),
			tap:       &fakeTap{},
			checker:   &fakeHealth{healthyAfter: 1},
		})
	}

	actor := sup.Start(ctx, "vm-1", newActor)
	sup.Remove("vm-1")

	bootCtx, bootCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer bootCancel()
	_, _ = actor.Boot(bootCtx)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, restartCount, "Remove before the crash means no restart, matching an intentional Stop")
}
