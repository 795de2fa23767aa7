package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantPath string
		wantMTU  int
		wantTLS  bool
	}{
		{
			name: "emulator with IPv4 and full records",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "blufi-emulator"},
				HostName:      "lab-pi.local.",
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/bridge", "mtu=185", "tls=1"},
			},
			wantIP:   "192.168.4.16",
			wantPort: 8765,
			wantPath: "/bridge",
			wantMTU:  185,
			wantTLS:  true,
		},
		{
			name: "missing path falls back to default",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "gw"},
				HostName:      "gw.local.",
				Port:          80,
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantIP:   "10.0.0.5",
			wantPort: 80,
			wantPath: DefaultPath,
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "gw6"},
				HostName:      "gw6.local.",
				Port:          9000,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
				Text:          []string{"mtu=garbage"},
			},
			wantIP:   "fe80::1",
			wantPort: 9000,
			wantPath: DefaultPath,
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "ghost"},
				HostName:      "ghost.local.",
				Port:          80,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "noport"},
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.9")},
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if g != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", g)
				}
				return
			}
			if g == nil {
				t.Fatal("parseServiceEntry() = nil, want gateway")
			}
			if g.IP != tt.wantIP {
				t.Errorf("IP = %q, want %q", g.IP, tt.wantIP)
			}
			if g.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", g.Port, tt.wantPort)
			}
			if g.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", g.Path, tt.wantPath)
			}
			if g.MTU != tt.wantMTU {
				t.Errorf("MTU = %d, want %d", g.MTU, tt.wantMTU)
			}
			if g.TLS != tt.wantTLS {
				t.Errorf("TLS = %v, want %v", g.TLS, tt.wantTLS)
			}
			if g.Instance != tt.entry.Instance {
				t.Errorf("Instance = %q, want %q", g.Instance, tt.entry.Instance)
			}
		})
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name string
		path string
		mtu  int
		tls  bool
		want []string
	}{
		{"defaults", "", 0, false, []string{"path=" + DefaultPath}},
		{"mtu", "/blufi", 185, false, []string{"path=/blufi", "mtu=185"}},
		{"tls", "/x", 0, true, []string{"path=/x", "tls=1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TXTRecords(tt.path, tt.mtu, tt.tls)
			if len(got) != len(tt.want) {
				t.Fatalf("TXTRecords() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("TXTRecords()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTXTRecordsRoundTrip(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "rt"},
		Port:          443,
		AddrIPv4:      []net.IP{net.ParseIP("127.0.0.1")},
		Text:          TXTRecords("/blufi", 247, true),
	}
	g := parseServiceEntry(entry)
	if g == nil {
		t.Fatal("parseServiceEntry() = nil")
	}
	if got, want := g.URL(), "wss://127.0.0.1:443/blufi"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
	if g.MTU != 247 {
		t.Errorf("MTU = %d, want 247", g.MTU)
	}
}

func TestNewScanner(t *testing.T) {
	s := NewScanner()
	if s.Timeout != DefaultScanTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, DefaultScanTimeout)
	}
}

func TestAdvertisementShutdownNil(t *testing.T) {
	var a *Advertisement
	a.Shutdown()
}
