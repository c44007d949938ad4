package vmactor

import (
	"fmt"
	"os"

	"github.com/vishvananda/netlink"
)

// createTAP creates a TAP device named tapName and attaches it to
// bridgeName, owned by the current user so the hypervisor process
// (running as that user) can open it. Idempotent: an existing TAP with
// the same name is deleted and recreated.
func createTAP(tapName, bridgeName string) error {
	if _, err := netlink.LinkByName(tapName); err == nil {
		if err := deleteTAP(tapName); err != nil {
			return fmt.Errorf("delete existing tap: %w", err)
		}
	}

	tap := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: tapName},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Owner:     uint32(os.Getuid()),
		Group:     uint32(os.Getgid()),
	}
	if err := netlink.LinkAdd(tap); err != nil {
		return fmt.Errorf("create tap device: %w", err)
	}

	tapLink, err := netlink.LinkByName(tapName)
	if err != nil {
		return fmt.Errorf("get tap link: %w", err)
	}
	if err := netlink.LinkSetUp(tapLink); err != nil {
		return fmt.Errorf("set tap up: %w", err)
	}

	if bridgeName == "" {
		return nil
	}
	bridge, err := netlink.LinkByName(bridgeName)
	if err != nil {
		return fmt.Errorf("get bridge %s: %w", bridgeName, err)
	}
	if err := netlink.LinkSetMaster(tapLink, bridge); err != nil {
		return fmt.Errorf("attach tap to bridge: %w", err)
	}
	return nil
}

// deleteTAP removes a TAP device. Not finding it is not an error —
// cleanup must be idempotent.
func deleteTAP(tapName string) error {
	link, err := netlink.LinkByName(tapName)
	if err != nil {
		return nil
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete tap device: %w", err)
	}
	return nil
}
