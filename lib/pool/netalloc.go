package pool

import (
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
)

// NetAllocator assigns the per-VM TAP device, IP, MAC, and netmask a VM
// Actor needs to boot. Host bridge/NAT provisioning is a one-time setup
// step out of scope here (§1); this only allocates the per-VM slice of
// an already-provisioned subnet.
type NetAllocator interface {
	Allocate(vmID string) (NetAllocation, error)
	Release(vmID string)
}

// NetAllocation is the network identity handed to a new VM Actor.
type NetAllocation struct {
	TAPDevice string
	Bridge    string
	IP        string
	MAC       string
	Netmask   string
}

// SequentialAllocator hands out IPs in order from a subnet, skipping the
// network address and gateway. Grounded on the teacher's network
// allocator, simplified from random-with-retry to sequential since this
// package no longer owns bridge/DNS/isolation concerns.
type SequentialAllocator struct {
	bridge    string
	subnetCID string

	mu      sync.Mutex
	network *net.IPNet
	next    net.IP
	used    map[string]bool
}

// NewSequentialAllocator creates an allocator over subnetCIDR (e.g.
// "10.100.0.0/24"). bridge is the bridge every TAP is attached to.
func NewSequentialAllocator(bridge, subnetCIDR string) (*SequentialAllocator, error) {
	ip, ipNet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return nil, fmt.Errorf("pool: parse subnet %s: %w", subnetCIDR, err)
	}
	_ = ip
	return &SequentialAllocator{
		bridge:    bridge,
		subnetCID: subnetCIDR,
		network:   ipNet,
		next:      incrementIP(ipNet.IP, 2), // skip network address and gateway
		used:      make(map[string]bool),
	}, nil
}

func (a *SequentialAllocator) Allocate(vmID string) (NetAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ip net.IP
	for {
		if !a.network.Contains(a.next) {
			return NetAllocation{}, fmt.Errorf("pool: subnet %s exhausted", a.subnetCID)
		}
		candidate := a.next
		a.next = incrementIP(a.next, 1)
		if !a.used[candidate.String()] {
			ip = candidate
			break
		}
	}
	a.used[ip.String()] = true

	mac, err := generateMAC()
	if err != nil {
		return NetAllocation{}, fmt.Errorf("pool: generate mac: %w", err)
	}

	netmask := fmt.Sprintf("%d.%d.%d.%d", a.network.Mask[0], a.network.Mask[1], a.network.Mask[2], a.network.Mask[3])

	return NetAllocation{
		TAPDevice: generateTAPName(vmID),
		Bridge:    a.bridge,
		IP:        ip.String(),
		MAC:       mac,
		Netmask:   netmask,
	}, nil
}

func (a *SequentialAllocator) Release(vmID string) {
	// IPs are not reclaimed: the allocator is sequential-only and a
	// fresh reconciler run rebuilds pool state from an empty subnet
	// walk on restart (§7 Non-goals: no persistence of runtime state).
	_ = vmID
}

func incrementIP(ip net.IP, n int) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return ip
	}
	result := make(net.IP, 4)
	copy(result, ip4)
	val := uint32(result[0])<<24 | uint32(result[1])<<16 | uint32(result[2])<<8 | uint32(result[3])
	val += uint32(n)
	result[0] = byte(val >> 24)
	result[1] = byte(val >> 16)
	result[2] = byte(val >> 8)
	result[3] = byte(val)
	return result
}

func generateMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	buf[0] = 0x02
	buf[1] = 0x00
	buf[2] = 0x00
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}

func generateTAPName(vmID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vmID))
	return fmt.Sprintf("tap-%08x", h.Sum32())
}
