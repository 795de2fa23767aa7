// Package emulator implements the device side of BLUFI: it answers key
// negotiation, version, status and scan requests, stores pushed credentials
// and echoes custom data. It drives the same codec as the client with the
// direction flag reversed, and is used by tests and by the blufi-emulator
// command to stand in for real hardware.
package emulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/security"
	"github.com/muurk/blufi/internal/transport"
	"go.uber.org/zap"
)

// Config describes the emulated device.
type Config struct {
	Version  protocol.Version
	Networks []protocol.ScanEntry

	// FrameLimit bounds each frame the device writes. Zero uses the
	// protocol default.
	FrameLimit int

	// ScanDelay is how long a scan takes.
	ScanDelay time.Duration

	// KeySplit sends the device public key in this many NEG messages.
	KeySplit int

	// Silent makes the device ignore key negotiation.
	Silent bool

	// FailScan answers scans with a wifi-scan error report.
	FailScan bool
}

// DefaultConfig returns a device with version 1.3 and a few networks.
func DefaultConfig() Config {
	return Config{
		Version: protocol.Version{Major: 1, Minor: 3},
		Networks: []protocol.ScanEntry{
			{SSID: "blufi-lab", RSSI: -42},
			{SSID: "guest", RSSI: -67},
			{SSID: "warehouse-2.4", RSSI: -81},
		},
		FrameLimit: protocol.DefaultPackageLength,
	}
}

// Stats counts link faults seen by the device.
type Stats struct {
	FramesIn       int
	FramesOut      int
	SequenceErrors int
	ChecksumErrors int
}

// Device is one emulated device attached to one transport.
type Device struct {
	cfg Config
	log *zap.Logger

	mu           sync.Mutex
	t            transport.Transport
	txSeq        uint8
	rxSeq        uint8
	reasm        protocol.Reassembler
	cipher       *security.FrameCipher
	mode         protocol.SecurityMode
	negTotal     int
	opMode       protocol.OpMode
	staSSID      string
	staPassword  string
	staConnected bool
	custom       [][]byte
	stats        Stats
	closed       bool
}

// New creates a device. log may be nil.
func New(cfg Config, log *zap.Logger) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FrameLimit <= 0 {
		cfg.FrameLimit = protocol.DefaultPackageLength
	}
	if cfg.KeySplit < 1 {
		cfg.KeySplit = 1
	}
	d := &Device{cfg: cfg, log: log, opMode: protocol.OpModeSta}
	d.reasm.OnDiscard = func(n int, reason string) {
		d.log.Warn("Discarding partial message", zap.Int("bytes", n), zap.String("reason", reason))
	}
	return d
}

// Attach subscribes the device to frames written by the client.
func (d *Device) Attach(t transport.Transport) error {
	d.mu.Lock()
	d.t = t
	d.mu.Unlock()
	return t.Subscribe(d.Handle)
}

// Credentials returns the station SSID and password pushed by the client.
func (d *Device) Credentials() (ssid, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.staSSID, d.staPassword
}

// Connected reports whether the client asked the device to connect with a
// non-empty SSID.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.staConnected
}

// OpMode returns the current operating mode.
func (d *Device) OpMode() protocol.OpMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opMode
}

// SecurityMode returns the mode last set by the client.
func (d *Device) SecurityMode() protocol.SecurityMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Secured reports whether a key has been negotiated.
func (d *Device) Secured() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cipher != nil
}

// CustomData returns every custom data message received.
func (d *Device) CustomData() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.custom))
	copy(out, d.custom)
	return out
}

// Stats returns fault counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Handle processes one raw frame from the client.
func (d *Device) Handle(raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.stats.FramesIn++
	d.log.Debug("Frame received", logging.FrameFields("in", raw)...)

	if len(raw) < protocol.HeaderLength {
		d.log.Warn("Dropping short frame", zap.Int("length", len(raw)))
		return
	}
	if seq := raw[2]; seq != d.rxSeq {
		d.stats.SequenceErrors++
		d.log.Warn("Sequence mismatch", zap.Uint8("expected", d.rxSeq), zap.Uint8("received", seq))
	}
	d.rxSeq = raw[2] + 1

	var cipher protocol.Cipher
	if d.cipher != nil {
		cipher = d.cipher
	}
	f, err := protocol.Decode(raw, cipher)
	switch {
	case errors.Is(err, protocol.ErrChecksumMismatch):
		d.stats.ChecksumErrors++
		d.reasm.Reset()
		d.log.Error("Checksum mismatch", zap.Error(err))
		d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeChecksum)})
		return
	case err != nil:
		d.log.Warn("Dropping undecodable frame", zap.Error(err))
		return
	}

	if f.RequireAck {
		d.sendLocked(protocol.PackageCtrl, protocol.CtrlAck, []byte{f.Sequence})
	}

	msg, complete, err := d.reasm.Push(f)
	if err != nil {
		d.log.Warn("Dropping malformed fragment", zap.Error(err))
		return
	}
	if !complete {
		return
	}

	switch msg.Package {
	case protocol.PackageCtrl:
		d.handleCtrl(msg)
	case protocol.PackageData:
		d.handleData(msg)
	}
}

func (d *Device) handleCtrl(msg *protocol.Message) {
	switch msg.Subtype {
	case protocol.CtrlAck:
		d.log.Debug("Ack from client")

	case protocol.CtrlSetSecMode:
		m, err := protocol.ParseSecurityMode(msg.Payload)
		if err != nil {
			d.log.Warn("Bad security mode", zap.Error(err))
			d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeDataFormat)})
			return
		}
		d.mode = m
		d.log.Info("Security mode set", zap.Uint8("mode", m.Byte()))

	case protocol.CtrlSetOpMode:
		if len(msg.Payload) < 1 || protocol.OpMode(msg.Payload[0]) > protocol.OpModeStaSoftAP {
			d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeDataFormat)})
			return
		}
		d.opMode = protocol.OpMode(msg.Payload[0])
		d.log.Info("Op mode set", zap.Stringer("mode", d.opMode))

	case protocol.CtrlConnectWifi:
		d.staConnected = d.staSSID != ""
		d.log.Info("Connect requested", zap.String("ssid", d.staSSID), zap.Bool("connected", d.staConnected))
		d.sendLocked(protocol.PackageData, protocol.DataWifiConnectionState, protocol.BuildWifiState(d.wifiStateLocked()))

	case protocol.CtrlDisconnectWifi:
		d.staConnected = false

	case protocol.CtrlGetWifiStatus:
		d.sendLocked(protocol.PackageData, protocol.DataWifiConnectionState, protocol.BuildWifiState(d.wifiStateLocked()))

	case protocol.CtrlGetVersion:
		d.sendLocked(protocol.PackageData, protocol.DataVersion, protocol.BuildVersion(d.cfg.Version))

	case protocol.CtrlGetWifiList:
		if d.cfg.FailScan {
			d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeWifiScan)})
			return
		}
		list := protocol.BuildScanList(d.cfg.Networks)
		if d.cfg.ScanDelay <= 0 {
			d.sendLocked(protocol.PackageData, protocol.DataWifiList, list)
			return
		}
		time.AfterFunc(d.cfg.ScanDelay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if !d.closed {
				d.sendLocked(protocol.PackageData, protocol.DataWifiList, list)
			}
		})

	case protocol.CtrlCloseConnection:
		d.log.Info("Client requested close")
		d.closed = true
		if d.t != nil {
			t := d.t
			go func() { _ = t.Close() }()
		}

	default:
		d.log.Info("Unhandled control message", zap.Stringer("message", msg))
	}
}

func (d *Device) handleData(msg *protocol.Message) {
	switch msg.Subtype {
	case protocol.DataNeg:
		d.handleNegotiation(msg.Payload)

	case protocol.DataStaSSID:
		d.staSSID = string(msg.Payload)
		d.staConnected = false

	case protocol.DataStaPassword:
		d.staPassword = string(msg.Payload)

	case protocol.DataCustomData:
		d.custom = append(d.custom, append([]byte(nil), msg.Payload...))
		d.sendLocked(protocol.PackageData, protocol.DataCustomData, msg.Payload)

	default:
		d.log.Info("Unhandled data message", zap.Stringer("message", msg))
	}
}

func (d *Device) handleNegotiation(payload []byte) {
	neg, err := protocol.ParseNegotiation(payload)
	if err != nil {
		d.log.Warn("Bad negotiation payload", zap.Error(err))
		d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeDHParam)})
		return
	}
	if neg.Marker == protocol.NegSetSecurityLength {
		d.negTotal = neg.TotalLength
		return
	}

	if d.cfg.Silent {
		d.log.Info("Ignoring key negotiation")
		return
	}
	if got := len(payload) - 1; d.negTotal != 0 && got != d.negTotal {
		d.log.Warn("Negotiation length differs from announcement", zap.Int("announced", d.negTotal), zap.Int("received", got))
	}
	if !bytes.Equal(bytes.TrimLeft(neg.P, "\x00"), security.Prime()) || !bytes.Equal(bytes.TrimLeft(neg.G, "\x00"), security.GeneratorBytes()) {
		d.log.Warn("Unsupported DH group")
		d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeDHParam)})
		return
	}

	kp, err := security.GenerateKeyPair()
	if err != nil {
		d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeMakePublic)})
		return
	}
	key, err := kp.DeriveKey(neg.PublicKey)
	if err != nil {
		d.log.Warn("Client public key rejected", zap.Error(err))
		d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeDHParam)})
		return
	}
	fc, err := security.NewFrameCipher(key)
	if err != nil {
		d.sendLocked(protocol.PackageData, protocol.DataError, []byte{byte(protocol.ErrCodeInitSecurity)})
		return
	}

	// Reply in plaintext before switching keys.
	pub := kp.Public(security.PrimeLength())
	for _, part := range split(pub, d.cfg.KeySplit) {
		d.sendLocked(protocol.PackageData, protocol.DataNeg, part)
	}
	d.cipher = fc
	d.log.Info("Session key derived")
}

func (d *Device) wifiStateLocked() protocol.WifiState {
	st := protocol.WifiState{OpMode: d.opMode, StaConn: 1}
	if d.staConnected {
		st.StaConn = 0
	}
	return st
}

// sendLocked fragments and writes a message using the flags of the current
// security mode for its plane.
func (d *Device) sendLocked(pkg protocol.PackageType, sub protocol.Subtype, data []byte) {
	if d.t == nil {
		return
	}
	encrypt, checksum := d.mode.CtrlEncrypt, d.mode.CtrlChecksum
	if pkg == protocol.PackageData {
		encrypt, checksum = d.mode.DataEncrypt, d.mode.DataChecksum
	}
	// Negotiation replies always travel in the clear.
	if pkg == protocol.PackageData && sub == protocol.DataNeg {
		encrypt, checksum = false, false
	}
	var cipher protocol.Cipher
	if encrypt && d.cipher != nil {
		cipher = d.cipher
	} else {
		encrypt = false
	}

	frag := protocol.NewFragmenter(data, protocol.DataLimit(d.cfg.FrameLimit, checksum))
	for {
		chunk, more := frag.Next()
		f := &protocol.Frame{
			Package:    pkg,
			Subtype:    sub,
			Direction:  protocol.DirectionInput,
			Encrypted:  encrypt,
			Checksum:   checksum,
			Fragmented: more,
			Sequence:   d.txSeq,
			Payload:    chunk,
		}
		d.txSeq++
		raw, err := protocol.Encode(f, cipher)
		if err != nil {
			d.log.Error("Failed to encode frame", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = d.t.Write(ctx, raw)
		cancel()
		if err != nil {
			d.log.Warn("Write failed", zap.Error(err))
			return
		}
		d.stats.FramesOut++
		d.log.Debug("Frame sent", logging.FrameFields("out", raw)...)
		if !more {
			return
		}
	}
}

// split cuts b into n nearly equal parts.
func split(b []byte, n int) [][]byte {
	if n <= 1 || n > len(b) {
		return [][]byte{b}
	}
	parts := make([][]byte, 0, n)
	size := (len(b) + n - 1) / n
	for len(b) > 0 {
		m := min(size, len(b))
		parts = append(parts, b[:m])
		b = b[m:]
	}
	return parts
}

func (s Stats) String() string {
	return fmt.Sprintf("in=%d out=%d seq_errors=%d checksum_errors=%d",
		s.FramesIn, s.FramesOut, s.SequenceErrors, s.ChecksumErrors)
}
