package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Gateway is a BLUFI WebSocket endpoint found on the network: a BLE gateway
// or the device emulator.
type Gateway struct {
	// Instance is the mDNS instance name (e.g., "blufi-emulator")
	Instance string

	// Hostname is the mDNS hostname (e.g., "lab-pi.local.")
	Hostname string

	// IP is the first advertised address, IPv4 preferred
	IP string

	// Port is the WebSocket port
	Port int

	// Path is the WebSocket endpoint path from the "path" TXT record
	Path string

	// MTU is the link MTU from the "mtu" TXT record; zero when absent
	MTU int

	// TLS is set when the gateway advertises "tls=1"
	TLS bool

	// Metadata contains every TXT record
	Metadata map[string]string

	// DiscoveredAt is when the gateway was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the gateway
func (g *Gateway) String() string {
	return fmt.Sprintf("BLUFI gateway %s (%s) at %s:%d", g.Instance, g.Hostname, g.IP, g.Port)
}

// URL returns the WebSocket URL for the gateway
func (g *Gateway) URL() string {
	scheme := "ws"
	if g.TLS {
		scheme = "wss"
	}
	path := g.Path
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(g.IP, strconv.Itoa(g.Port)), path)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (g *Gateway) GetMetadata(key string) string {
	if g.Metadata == nil {
		return ""
	}
	return g.Metadata[key]
}
