package blufi

import (
	"time"

	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/protocol"
)

const (
	// DefaultHandshakeTimeout bounds the wait for the device's public key.
	DefaultHandshakeTimeout = 5 * time.Second

	// DefaultScanTimeout bounds the wait for a Wi-Fi scan list.
	DefaultScanTimeout = 10 * time.Second

	// DefaultResponseTimeout bounds the wait for version and status replies.
	DefaultResponseTimeout = 3 * time.Second

	// DefaultAckTimeout bounds the wait for each acknowledged frame.
	DefaultAckTimeout = 3 * time.Second

	// DefaultFragmentDelay paces consecutive fragments of one message.
	DefaultFragmentDelay = 50 * time.Millisecond

	// DefaultNegotiationDelay separates the two negotiation frames.
	DefaultNegotiationDelay = 100 * time.Millisecond

	// NoDelay disables pacing when used as FragmentDelay or NegotiationDelay.
	NoDelay time.Duration = -1
)

// Config holds session tunables. Zero durations take the package defaults;
// set a delay to NoDelay to send back to back.
type Config struct {
	HandshakeTimeout time.Duration
	ScanTimeout      time.Duration
	ResponseTimeout  time.Duration
	AckTimeout       time.Duration
	FragmentDelay    time.Duration
	NegotiationDelay time.Duration

	// RequireAck sets the ack-required flag on every outbound frame and
	// waits for each acknowledgement.
	RequireAck bool

	// PackageLengthLimit overrides the per-write size limit when positive.
	// See Client.SetPostPackageLengthLimit.
	PackageLengthLimit int

	// Recorder receives every raw frame; nil disables capture.
	Recorder capture.Recorder

	// SessionID tags captured frames; empty generates one.
	SessionID string
}

// DefaultConfig returns the standard timeouts with acks off.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
		ScanTimeout:      DefaultScanTimeout,
		ResponseTimeout:  DefaultResponseTimeout,
		AckTimeout:       DefaultAckTimeout,
		FragmentDelay:    DefaultFragmentDelay,
		NegotiationDelay: DefaultNegotiationDelay,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	c.FragmentDelay = pacing(c.FragmentDelay, d.FragmentDelay)
	c.NegotiationDelay = pacing(c.NegotiationDelay, d.NegotiationDelay)
	if c.Recorder == nil {
		c.Recorder = capture.NopRecorder{}
	}
	if c.SessionID == "" {
		c.SessionID = capture.NewSessionID()
	}
}

func pacing(d, def time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d == 0:
		return def
	}
	return d
}

// packageLimit resolves the per-write limit: an explicit override wins but
// is clamped to a known MTU; otherwise the MTU; otherwise the default.
func packageLimit(override, mtu int) int {
	limit := protocol.DefaultPackageLength
	switch {
	case override > 0:
		limit = override
		if mtu > 0 && limit > mtu {
			limit = mtu
		}
	case mtu > 0:
		limit = mtu
	}
	return limit
}
