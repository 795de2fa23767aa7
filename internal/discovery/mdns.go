package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/blufi/internal/transport/wsbridge"
)

const (
	// ServiceType is the mDNS service type for BLUFI gateways
	ServiceType = "_blufi._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for gateway discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPath is assumed when a gateway has no "path" record
	DefaultPath = wsbridge.DefaultPath
)

// Scanner handles mDNS gateway discovery
type Scanner struct {
	// Timeout is the maximum time to wait for gateway discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForGateways browses until the timeout or ctx ends and returns every
// gateway seen, de-duplicated by instance name.
func (s *Scanner) ScanForGateways(ctx context.Context) ([]*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu       sync.Mutex
		gateways []*Gateway
		seen     = make(map[string]bool)
		drained  = make(chan struct{})
	)
	go func() {
		defer close(drained)
		for entry := range entries {
			g := parseServiceEntry(entry)
			if g == nil {
				continue
			}
			mu.Lock()
			if !seen[g.Instance] {
				seen[g.Instance] = true
				gateways = append(gateways, g)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once browsing stops.
	select {
	case <-drained:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Gateway(nil), gateways...), nil
}

// WaitForGateway waits for a gateway with the given instance name.
func (s *Scanner) WaitForGateway(ctx context.Context, instance string) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Gateway, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			g := parseServiceEntry(entry)
			if g != nil && g.Instance == instance {
				select {
				case found <- g:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case g := <-found:
		return g, nil
	case <-ctx.Done():
		select {
		case g := <-found:
			return g, nil
		default:
		}
		return nil, fmt.Errorf("gateway %q not found within timeout", instance)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Gateway.
// Returns nil if the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Gateway {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	g := &Gateway{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Path:         metadata["path"],
		TLS:          metadata["tls"] == "1",
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
	if g.Path == "" {
		g.Path = DefaultPath
	}
	if n, err := strconv.Atoi(metadata["mtu"]); err == nil && n > 0 {
		g.MTU = n
	}
	return g
}

// Advertisement is a registered mDNS service.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown withdraws the service.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// TXTRecords builds the TXT records for a gateway endpoint.
func TXTRecords(path string, mtu int, tls bool) []string {
	if path == "" {
		path = DefaultPath
	}
	txt := []string{"path=" + path}
	if mtu > 0 {
		txt = append(txt, "mtu="+strconv.Itoa(mtu))
	}
	if tls {
		txt = append(txt, "tls=1")
	}
	return txt
}

// Advertise registers a gateway on all multicast interfaces.
func Advertise(instance string, port int, txt []string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}
