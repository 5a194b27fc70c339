// Package identity derives the stable device fingerprint the agent presents
// at registration, from the first non-loopback network interface's MAC
// address — normalized the same way the server's registry does, so a
// mismatch never surfaces as a confusing server-side rejection.
package identity

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Fingerprint returns the uppercase colon-separated MAC address of the
// first non-loopback network interface found.
func Fingerprint() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("identity: listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String()), nil
	}

	return "", fmt.Errorf("identity: no network interface with a hardware address found")
}

// Hostname returns the machine's hostname, falling back to "unknown-host"
// if it cannot be determined.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown-host"
	}
	return name
}
