package spec

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// ComputeFingerprint computes a deterministic, order-insensitive content hash of
// a Spec. Two structurally equivalent Specs (same fields, regardless of
// map key insertion order) produce the same Fingerprint.
//
// The canonicalizer walks the Spec into a sorted, stable byte form and
// hashes it with 64-bit FNV-1a. FNV is a standard-library, non-
// cryptographic hash; it is the right tool for a cache key at the scale
// this system targets (≤ 10^5 distinct specs) and is used here because no
// dedicated non-cryptographic hash package is a direct dependency of this
// module — see DESIGN.md.
func ComputeFingerprint(s Spec) Fingerprint {
	var b strings.Builder
	writeCanonical(&b, s)

	h := fnv.New64a()
	_, _ = h.Write([]byte(b.String()))
	return Fingerprint(strings.ToUpper(hex.EncodeToString(h.Sum(nil))))
}

// writeCanonical serializes a Spec field-by-field in a fixed order, so
// struct field order never affects the digest, and sorts every map by key
// before writing, so map iteration order never affects it either. Cmd is
// an ordered sequence and is written in the given order — reordering Cmd
// is a semantic change, unlike reordering Env or Extra keys.
func writeCanonical(b *strings.Builder, s Spec) {
	b.WriteString("kernel_path=")
	b.WriteString(s.KernelPath)
	b.WriteString("\nrootfs_path=")
	b.WriteString(s.RootfsPath)

	b.WriteString("\ncmd=[")
	for i, c := range s.Cmd {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(c))
	}
	b.WriteString("]")

	b.WriteString("\nenv={")
	writeSortedStringMap(b, s.Env)
	b.WriteString("}")

	b.WriteString("\nresources={vcpu=")
	b.WriteString(strconv.Itoa(s.Resources.VCPU))
	b.WriteString(",mem_mb=")
	b.WriteString(strconv.Itoa(s.Resources.MemMB))
	b.WriteString("}")

	b.WriteString("\nlifecycle=")
	b.WriteString(string(s.Lifecycle))

	b.WriteString("\nwarm_pool=")
	if s.WarmPool == nil {
		b.WriteString("nil")
	} else {
		b.WriteString("{min=")
		b.WriteString(strconv.Itoa(s.WarmPool.Min))
		b.WriteString(",max=")
		b.WriteString(strconv.Itoa(s.WarmPool.Max))
		b.WriteString("}")
	}

	b.WriteString("\nextra={")
	writeSortedAnyMap(b, s.Extra)
	b.WriteString("}")
}

func writeSortedStringMap(b *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(m[k]))
	}
}

func writeSortedAnyMap(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		writeCanonicalValue(b, m[k])
	}
}

// writeCanonicalValue handles the subset of JSON-ish dynamic values that
// can appear in Extra: nested maps, slices, and scalars. Nested maps are
// sorted recursively so arbitrary nesting stays order-insensitive.
func writeCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		b.WriteByte('{')
		writeSortedAnyMap(b, t)
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalValue(b, e)
		}
		b.WriteByte(']')
	case string:
		b.WriteString(strconv.Quote(t))
	default:
		b.WriteString(strconv.Quote(toStableString(t)))
	}
}

func toStableString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
