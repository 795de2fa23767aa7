// Package blufi implements the client side of a BLUFI provisioning session.
//
// A Client owns the protocol state of one connection: sequence counters, the
// negotiated key and checksum mode, the inbound reassembly buffer and the
// replies awaited by callers. Public operations are serialized against each
// other; inbound frames are handled on the transport's notification
// goroutine and hand results to waiting operations through Events.
package blufi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/security"
	"github.com/muurk/blufi/internal/transport"
	"go.uber.org/zap"
)

// State is the security progress of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingSecurity
	StateSecured
	StateScanPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSecurity:
		return "awaiting-security"
	case StateSecured:
		return "secured"
	case StateScanPending:
		return "scan-pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is a BLUFI session over one transport.
type Client struct {
	t   transport.Transport
	log *zap.Logger
	cfg Config

	// opMu serializes public operations; they share the sequence counter
	// and the single-slot events.
	opMu sync.Mutex

	// mu guards everything below and is taken by the notification handler.
	mu            sync.Mutex
	state         State
	scanPending   bool
	txSeq         uint8
	rxSeq         uint8
	encrypted     bool
	checksummed   bool
	cipher        *security.FrameCipher
	keyPair       *security.KeyPair
	peerKey       []byte
	handshakeErr  error
	reasm         protocol.Reassembler
	notifying     bool
	limitOverride int
	mtu           int
	version       *protocol.Version
	wifiState     *protocol.WifiState
	scanResults   []protocol.ScanEntry
	scanErr       *protocol.ErrorCode
	onError       func(protocol.ErrorCode)
	onCustomData  func([]byte)
	closed        bool

	// done is closed by Close to release ack waits.
	done chan struct{}

	securityEvent *Event
	scanEvent     *Event
	versionEvent  *Event
	statusEvent   *Event
	acks          *ackTable
}

// NewClient starts a session on t and subscribes to its notifications.
// log is the diagnostics sink; nil discards.
func NewClient(t transport.Transport, cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()

	c := &Client{
		t:             t,
		log:           log.With(zap.String("session", cfg.SessionID)),
		cfg:           cfg,
		done:          make(chan struct{}),
		securityEvent: NewEvent(),
		scanEvent:     NewEvent(),
		versionEvent:  NewEvent(),
		statusEvent:   NewEvent(),
		acks:          newAckTable(),
	}
	c.reasm.OnDiscard = func(dropped int, reason string) {
		c.log.Warn("Discarding partial message", zap.Int("bytes", dropped), zap.String("reason", reason))
	}
	if cfg.PackageLengthLimit > 0 {
		c.limitOverride = lengthLimit(cfg.PackageLengthLimit)
	}

	if mtu, err := t.MTU(); err != nil {
		c.log.Debug("Transport MTU unavailable, using default frame limit",
			zap.Int("limit", protocol.DefaultPackageLength), zap.Error(err))
	} else {
		c.mtu = mtu
	}

	if err := c.StartNotify(); err != nil {
		return nil, err
	}
	return c, nil
}

// SessionID returns the identifier used in captures and logs.
func (c *Client) SessionID() string {
	return c.cfg.SessionID
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanPending {
		return StateScanPending
	}
	return c.state
}

// Secured reports whether a key is installed and data frames are encrypted.
func (c *Client) Secured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

// Version returns the last version reported by the device.
func (c *Client) Version() (protocol.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version == nil {
		return protocol.Version{}, false
	}
	return *c.version, true
}

// WifiState returns the last Wi-Fi state reported by the device.
func (c *Client) WifiState() (protocol.WifiState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wifiState == nil {
		return protocol.WifiState{}, false
	}
	return *c.wifiState, true
}

// ScanResults returns the entries of the last scan list.
func (c *Client) ScanResults() []protocol.ScanEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ScanEntry(nil), c.scanResults...)
}

// OnError registers a handler for error reports sent by the device. It is
// called on the notification goroutine.
func (c *Client) OnError(fn func(protocol.ErrorCode)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// OnCustomData registers a handler for custom data sent by the device. It
// is called on the notification goroutine.
func (c *Client) OnCustomData(fn func([]byte)) {
	c.mu.Lock()
	c.onCustomData = fn
	c.mu.Unlock()
}

// SetPostPackageLengthLimit overrides the per-write size limit. n <= 0
// clears the override; otherwise the limit is n-4, but never below the
// protocol minimum.
func (c *Client) SetPostPackageLengthLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		c.limitOverride = 0
		return
	}
	c.limitOverride = lengthLimit(n)
}

func lengthLimit(n int) int {
	return max(n-4, protocol.MinPackageLength)
}

// StartNotify subscribes to the transport's notifications.
func (c *Client) StartNotify() error {
	if err := c.t.Subscribe(c.onNotify); err != nil {
		return newError(KindTransport, "notify", "failed to enable notifications", err)
	}
	c.mu.Lock()
	c.notifying = true
	c.mu.Unlock()
	return nil
}

// StopNotify unsubscribes. Replies sent while notifications are off are
// lost.
func (c *Client) StopNotify() error {
	c.mu.Lock()
	c.notifying = false
	c.mu.Unlock()
	if err := c.t.Unsubscribe(); err != nil {
		return newError(KindTransport, "notify", "failed to disable notifications", err)
	}
	return nil
}

// Close unsubscribes and closes the transport. Operations still waiting for
// a reply return a KindClosed error. The capture recorder belongs to the
// caller and is left open.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.notifying = false
	close(c.done)
	c.mu.Unlock()

	for _, e := range []*Event{c.securityEvent, c.scanEvent, c.versionEvent, c.statusEvent} {
		e.Close()
	}

	_ = c.t.Unsubscribe()
	return c.t.Close()
}

// NegotiateSecurity runs the DH key exchange and switches data frames to
// encrypted and checksummed. On failure the session keeps its previous mode
// and the call may be retried.
func (c *Client) NegotiateSecurity(ctx context.Context) error {
	const op = "negotiate"
	c.opMu.Lock()
	defer c.opMu.Unlock()

	kp, err := security.GenerateKeyPair()
	if err != nil {
		return newError(KindHandshakeFailed, op, "failed to generate key pair", err)
	}

	c.mu.Lock()
	c.keyPair = kp
	c.peerKey = nil
	c.handshakeErr = nil
	c.state = StateAwaitingSecurity
	c.mu.Unlock()
	c.securityEvent.Clear()

	p := security.Prime()
	g := security.GeneratorBytes()
	k := kp.Public(security.PublicKeyLength)

	c.log.Info("Starting key negotiation")
	if err := c.post(ctx, op, protocol.PackageData, protocol.DataNeg, protocol.NegotiationLengthPayload(p, g, k), false, false); err != nil {
		c.abandonHandshake()
		return err
	}
	if err := sleepCtx(ctx, c.cfg.NegotiationDelay); err != nil {
		c.abandonHandshake()
		return newError(KindCanceled, op, "", err)
	}
	if err := c.post(ctx, op, protocol.PackageData, protocol.DataNeg, protocol.NegotiationDataPayload(p, g, k), false, false); err != nil {
		c.abandonHandshake()
		return err
	}

	if !c.securityEvent.Wait(ctx, c.cfg.HandshakeTimeout) {
		c.abandonHandshake()
		return c.waitError(ctx, op, KindHandshakeTimeout, "device public key", c.cfg.HandshakeTimeout)
	}

	c.mu.Lock()
	herr := c.handshakeErr
	c.mu.Unlock()
	if herr != nil {
		c.abandonHandshake()
		return newError(KindHandshakeFailed, op, "failed to derive session key", herr)
	}

	mode := protocol.SecurityMode{DataChecksum: true, DataEncrypt: true}
	if err := c.post(ctx, op, protocol.PackageCtrl, protocol.CtrlSetSecMode, []byte{mode.Byte()}, false, false); err != nil {
		c.abandonHandshake()
		return err
	}

	c.mu.Lock()
	c.encrypted = true
	c.checksummed = true
	c.state = StateSecured
	c.keyPair = nil
	c.mu.Unlock()

	c.log.Info("Session secured")
	return nil
}

// abandonHandshake drops negotiation material and returns to the mode the
// session had before the attempt.
func (c *Client) abandonHandshake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyPair = nil
	c.peerKey = nil
	if c.encrypted {
		c.state = StateSecured
	} else {
		c.state = StateIdle
	}
}

// RequestVersion asks for the device's protocol version.
func (c *Client) RequestVersion(ctx context.Context) (protocol.Version, error) {
	const op = "version"
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.versionEvent.Clear()
	if err := c.postSession(ctx, op, protocol.PackageCtrl, protocol.CtrlGetVersion, nil); err != nil {
		return protocol.Version{}, err
	}
	if !c.versionEvent.Wait(ctx, c.cfg.ResponseTimeout) {
		return protocol.Version{}, c.waitError(ctx, op, KindResponseTimeout, "version report", c.cfg.ResponseTimeout)
	}
	v, _ := c.Version()
	return v, nil
}

// RequestDeviceStatus asks for the device's Wi-Fi state.
func (c *Client) RequestDeviceStatus(ctx context.Context) (protocol.WifiState, error) {
	const op = "status"
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.statusEvent.Clear()
	if err := c.postSession(ctx, op, protocol.PackageCtrl, protocol.CtrlGetWifiStatus, nil); err != nil {
		return protocol.WifiState{}, err
	}
	if !c.statusEvent.Wait(ctx, c.cfg.ResponseTimeout) {
		return protocol.WifiState{}, c.waitError(ctx, op, KindResponseTimeout, "wifi state", c.cfg.ResponseTimeout)
	}
	st, _ := c.WifiState()
	return st, nil
}

// RequestDeviceScan asks the device to scan for access points and waits up
// to timeout for the list. A non-positive timeout uses the configured
// default. A scan list that is malformed part way through yields the entries
// before the fault.
func (c *Client) RequestDeviceScan(ctx context.Context, timeout time.Duration) ([]protocol.ScanEntry, error) {
	const op = "scan"
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if timeout <= 0 {
		timeout = c.cfg.ScanTimeout
	}

	c.scanEvent.Clear()
	c.mu.Lock()
	c.scanPending = true
	c.scanErr = nil
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.scanPending = false
		c.mu.Unlock()
	}()

	if err := c.postSession(ctx, op, protocol.PackageCtrl, protocol.CtrlGetWifiList, nil); err != nil {
		return nil, err
	}
	if !c.scanEvent.Wait(ctx, timeout) {
		return nil, c.waitError(ctx, op, KindScanTimeout, "scan list", timeout)
	}

	c.mu.Lock()
	scanErr := c.scanErr
	results := append([]protocol.ScanEntry(nil), c.scanResults...)
	c.mu.Unlock()
	if scanErr != nil {
		return nil, newError(KindDeviceError, op, scanErr.String(), nil)
	}
	return results, nil
}

// PostStaWifiInfo sends station credentials and asks the device to connect.
// The three frames are not atomic: a failure part way leaves the device
// partially configured.
func (c *Client) PostStaWifiInfo(ctx context.Context, creds Credentials) error {
	const op = "provision"
	if err := creds.Validate(); err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = op
		}
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.postSession(ctx, op, protocol.PackageData, protocol.DataStaSSID, []byte(creds.SSID)); err != nil {
		return err
	}
	if err := c.postSession(ctx, op, protocol.PackageData, protocol.DataStaPassword, []byte(creds.Password)); err != nil {
		return err
	}
	if err := c.postSession(ctx, op, protocol.PackageCtrl, protocol.CtrlConnectWifi, nil); err != nil {
		return err
	}
	c.log.Info("Station credentials sent", zap.String("ssid", creds.SSID))
	return nil
}

// PostDeviceMode sets the device's Wi-Fi operating mode.
func (c *Client) PostDeviceMode(ctx context.Context, mode protocol.OpMode) error {
	const op = "mode"
	if mode > protocol.OpModeStaSoftAP {
		return newError(KindValidation, op, fmt.Sprintf("unknown op mode %d", mode), nil)
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.postSession(ctx, op, protocol.PackageCtrl, protocol.CtrlSetOpMode, []byte{byte(mode)})
}

// PostCustomData sends application data to the device.
func (c *Client) PostCustomData(ctx context.Context, data []byte) error {
	const op = "custom"
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.postSession(ctx, op, protocol.PackageData, protocol.DataCustomData, data)
}

// RequestDisconnectWifi asks the device to leave its access point.
func (c *Client) RequestDisconnectWifi(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.postSession(ctx, "disconnect-wifi", protocol.PackageCtrl, protocol.CtrlDisconnectWifi, nil)
}

// RequestCloseConnection asks the device to drop the BLE link.
func (c *Client) RequestCloseConnection(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.postSession(ctx, "close", protocol.PackageCtrl, protocol.CtrlCloseConnection, nil)
}

// postSession sends a message under the session's current security mode.
func (c *Client) postSession(ctx context.Context, op string, pkg protocol.PackageType, sub protocol.Subtype, data []byte) error {
	c.mu.Lock()
	enc, crc := c.encrypted, c.checksummed
	c.mu.Unlock()
	return c.post(ctx, op, pkg, sub, data, enc, crc)
}

// post fragments data and sends each frame, pausing between fragments.
func (c *Client) post(ctx context.Context, op string, pkg protocol.PackageType, sub protocol.Subtype, data []byte, encrypt, checksum bool) error {
	if len(data) > maxMessageLength {
		return newError(KindValidation, op, fmt.Sprintf("payload of %d bytes exceeds %d", len(data), maxMessageLength), nil)
	}
	requireAck := c.cfg.RequireAck

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newError(KindClosed, op, "", nil)
	}
	if requireAck && !c.notifying {
		// The device still sends the ack and consumes a sequence number.
		c.rxSeq++
	}
	waitAck := requireAck && c.notifying
	limit := protocol.DataLimit(packageLimit(c.limitOverride, c.mtu), checksum)
	c.mu.Unlock()

	frag := protocol.NewFragmenter(data, limit)
	for {
		chunk, more := frag.Next()
		f := &protocol.Frame{
			Package:    pkg,
			Subtype:    sub,
			Direction:  protocol.DirectionOutput,
			Encrypted:  encrypt,
			Checksum:   checksum,
			RequireAck: requireAck,
			Fragmented: more,
			Payload:    chunk,
		}
		if err := c.postFrame(ctx, op, f, waitAck); err != nil {
			return err
		}
		if !more {
			return nil
		}
		if err := sleepCtx(ctx, c.cfg.FragmentDelay); err != nil {
			return newError(KindCanceled, op, "", err)
		}
	}
}

func (c *Client) postFrame(ctx context.Context, op string, f *protocol.Frame, waitAck bool) error {
	c.mu.Lock()
	f.Sequence = c.txSeq
	c.txSeq++
	var cipher protocol.Cipher
	if c.cipher != nil {
		cipher = c.cipher
	}
	raw, err := protocol.Encode(f, cipher)
	c.mu.Unlock()
	if err != nil {
		e := Classify(err)
		e.Op = op
		return e
	}

	var acked <-chan struct{}
	if waitAck {
		acked = c.acks.expect(f.Sequence)
	}

	c.record(capture.Outbound, raw)
	c.log.Debug("Frame sent", append(logging.FrameFields("out", raw), zap.Stringer("frame", f))...)
	if err := c.t.Write(ctx, raw); err != nil {
		if waitAck {
			c.acks.cancel(f.Sequence)
		}
		if c.isClosed() {
			return newError(KindClosed, op, "", err)
		}
		if ctx.Err() != nil {
			return newError(KindCanceled, op, "", err)
		}
		return newError(KindTransport, op, "write failed", err)
	}

	if acked == nil {
		return nil
	}
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-acked:
		return nil
	case <-c.done:
		c.acks.cancel(f.Sequence)
		return newError(KindClosed, op, "", nil)
	case <-timer.C:
		c.acks.cancel(f.Sequence)
		return newError(KindAckTimeout, op, fmt.Sprintf("frame %d not acknowledged within %s", f.Sequence, c.cfg.AckTimeout), nil)
	case <-ctx.Done():
		c.acks.cancel(f.Sequence)
		return newError(KindCanceled, op, "", ctx.Err())
	}
}

func (c *Client) record(dir capture.Direction, raw []byte) {
	c.cfg.Recorder.Record(capture.Record{
		Timestamp: time.Now(),
		SessionID: c.cfg.SessionID,
		Direction: dir,
		Frame:     append([]byte(nil), raw...),
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) waitError(ctx context.Context, op string, kind ErrorKind, what string, timeout time.Duration) error {
	if c.isClosed() {
		return newError(KindClosed, op, "", nil)
	}
	if err := ctx.Err(); err != nil {
		return newError(KindCanceled, op, "", err)
	}
	return newError(kind, op, fmt.Sprintf("no %s within %s", what, timeout), nil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
