package utils

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10, used by Cloudflare WARP, Tailscale and carrier-grade NATs.
var cgnatBlock = func() *net.IPNet {
	_, block, _ := net.ParseCIDR("100.64.0.0/10")
	return block
}()

// vpnNameHints are interface name fragments of tunnels where direct P2P rarely works.
var vpnNameHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true if we should force TURN usage.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isTunnelName(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if IsCGNAT(addrIP(addr)) {
				return true
			}
		}
	}

	return false
}

// IsCGNAT reports whether ip lies in the shared address space.
func IsCGNAT(ip net.IP) bool {
	return ip != nil && cgnatBlock.Contains(ip)
}

func isTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range vpnNameHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func addrIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}
