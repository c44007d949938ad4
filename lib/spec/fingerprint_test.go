package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseSpec() Spec {
	return Spec{
		KernelPath: "/boot/vmlinux",
		RootfsPath: "/images/web.ext4",
		Cmd:        []string{"/usr/bin/app", "--serve"},
		Env:        map[string]string{"PORT": "8080", "MODE": "prod"},
		Resources:  Resources{VCPU: 2, MemMB: 512},
		Lifecycle:  LifecycleService,
		WarmPool:   &WarmPool{Min: 1, Max: 3},
	}
}

func TestFingerprintStableAcrossMapOrder(t *testing.T) {
	s1 := baseSpec()
	s1.Env = map[string]string{"PORT": "8080", "MODE": "prod"}

	s2 := baseSpec()
	s2.Env = map[string]string{"MODE": "prod", "PORT": "8080"}

	assert.Equal(t, ComputeFingerprint(s1), ComputeFingerprint(s2))
}

func TestFingerprintStableAcrossExtraOrder(t *testing.T) {
	s1 := baseSpec()
	s1.Extra = map[string]any{"a": 1, "b": map[string]any{"x": 1, "y": 2}}

	s2 := baseSpec()
	s2.Extra = map[string]any{"b": map[string]any{"y": 2, "x": 1}, "a": 1}

	assert.Equal(t, ComputeFingerprint(s1), ComputeFingerprint(s2))
}

func TestFingerprintDistinguishesCmdOrder(t *testing.T) {
	s1 := baseSpec()
	s1.Cmd = []string{"a", "b"}

	s2 := baseSpec()
	s2.Cmd = []string{"b", "a"}

	assert.NotEqual(t, ComputeFingerprint(s1), ComputeFingerprint(s2))
}

func TestFingerprintDistinguishesSemanticChange(t *testing.T) {
	s1 := baseSpec()
	s2 := baseSpec()
	s2.Resources.MemMB = 1024

	assert.NotEqual(t, ComputeFingerprint(s1), ComputeFingerprint(s2))
}

func TestFingerprintNilVsEmptyWarmPool(t *testing.T) {
	s1 := baseSpec()
	s1.WarmPool = nil

	s2 := baseSpec()
	s2.WarmPool = &WarmPool{}

	assert.NotEqual(t, ComputeFingerprint(s1), ComputeFingerprint(s2))
}

func TestFingerprintIsUppercaseHex(t *testing.T) {
	fp := ComputeFingerprint(baseSpec())
	for _, r := range string(fp) {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F'), "unexpected rune %q in fingerprint", r)
	}
}

func TestWantsWarmPool(t *testing.T) {
	s := baseSpec()
	assert.True(t, s.WantsWarmPool())

	s.WarmPool = nil
	assert.False(t, s.WantsWarmPool())

	s.WarmPool = &WarmPool{Min: 0, Max: 3}
	assert.False(t, s.WantsWarmPool())
}
