package config

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the registry file format version.
const CurrentVersion = 1

// Transport names stored in Device.Transport.
const (
	TransportBLE       = "ble"
	TransportWebSocket = "ws"
)

// Registry represents the entire user configuration file.
// This stores remembered devices and session preferences.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by user-chosen name
	Preferences *Preferences       `yaml:"preferences,omitempty"`

	path string
}

// Device is a remembered BLUFI peer.
type Device struct {
	Transport   string    `yaml:"transport"`              // "ble" or "ws"
	Address     string    `yaml:"address,omitempty"`      // BLE local name or address
	URL         string    `yaml:"url,omitempty"`          // WebSocket URL for "ws"
	FrameLimit  int       `yaml:"frame_limit,omitempty"`  // Package length override
	RequireAck  bool      `yaml:"require_ack,omitempty"`  // Ask the device to ack every frame
	LastSeen    time.Time `yaml:"last_seen,omitempty"`    // Last successful session
	LastVersion string    `yaml:"last_version,omitempty"` // Protocol version reported then
}

// Target returns the identifier passed to the transport's dialer.
func (d *Device) Target() string {
	if d.Transport == TransportWebSocket {
		return d.URL
	}
	return d.Address
}

// Preferences represents application-wide user preferences.
// Zero values mean "use the built-in default".
type Preferences struct {
	HandshakeTimeout Duration `yaml:"handshake_timeout,omitempty"`
	ScanTimeout      Duration `yaml:"scan_timeout,omitempty"`
	ResponseTimeout  Duration `yaml:"response_timeout,omitempty"`
	FragmentDelay    Duration `yaml:"fragment_delay,omitempty"`
	AdapterID        string   `yaml:"adapter_id,omitempty"` // BLE adapter, e.g. "hci1"
	LogLevel         string   `yaml:"log_level,omitempty"`
}

// Duration is a time.Duration stored as a Go duration string ("5s").
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"5s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if v < 0 {
		return fmt.Errorf("line %d: negative duration %q", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// IsZero lets omitempty drop unset durations.
func (d Duration) IsZero() bool {
	return d == 0
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     CurrentVersion,
		Devices:     make(map[string]*Device),
		Preferences: &Preferences{},
	}
}

// GetDevice retrieves a remembered device by name.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(name string) *Device {
	return r.Devices[name]
}

// EnsureDevice ensures a device entry exists in the registry.
// If the device doesn't exist, creates a new BLE entry.
// Returns the device entry (existing or newly created).
func (r *Registry) EnsureDevice(name string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if device, exists := r.Devices[name]; exists {
		return device
	}
	device := &Device{Transport: TransportBLE}
	r.Devices[name] = device
	return device
}

// SetDevice stores a device under name, validating its transport.
func (r *Registry) SetDevice(name string, d *Device) error {
	if name == "" {
		return fmt.Errorf("device name cannot be empty")
	}
	switch d.Transport {
	case TransportBLE:
		if d.Address == "" {
			return fmt.Errorf("device %q: ble transport needs an address or name", name)
		}
	case TransportWebSocket:
		if d.URL == "" {
			return fmt.Errorf("device %q: ws transport needs a url", name)
		}
	default:
		return fmt.Errorf("device %q: unknown transport %q (want %q or %q)", name, d.Transport, TransportBLE, TransportWebSocket)
	}
	if d.FrameLimit < 0 {
		return fmt.Errorf("device %q: negative frame limit", name)
	}
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	r.Devices[name] = d
	return nil
}

// RemoveDevice forgets a device. It reports whether it existed.
func (r *Registry) RemoveDevice(name string) bool {
	if _, ok := r.Devices[name]; !ok {
		return false
	}
	delete(r.Devices, name)
	return true
}

// UpdateDeviceLastSeen records a successful session with a device.
func (r *Registry) UpdateDeviceLastSeen(name, version string) {
	device := r.EnsureDevice(name)
	device.LastSeen = time.Now()
	if version != "" {
		device.LastVersion = version
	}
}

// DeviceNames returns the remembered device names, sorted.
func (r *Registry) DeviceNames() []string {
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}
