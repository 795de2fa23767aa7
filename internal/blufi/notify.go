package blufi

import (
	"errors"

	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/security"
	"go.uber.org/zap"
)

// onNotify is the transport notification handler. User callbacks run after
// the session lock is released.
func (c *Client) onNotify(raw []byte) {
	c.record(capture.Inbound, raw)
	for _, fn := range c.handleNotification(raw) {
		fn()
	}
}

func (c *Client) handleNotification(raw []byte) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	c.log.Debug("Frame received", logging.FrameFields("in", raw)...)
	if len(raw) < protocol.HeaderLength {
		c.log.Warn("Dropping malformed frame", zap.Int("length", len(raw)))
		return nil
	}

	// The device's counter is authoritative; resync so one lost
	// notification produces one warning.
	seq := raw[2]
	if seq != c.rxSeq {
		c.log.Warn("Sequence mismatch",
			zap.Uint8("expected", c.rxSeq),
			zap.Uint8("received", seq),
		)
	}
	c.rxSeq = seq + 1

	var cipher protocol.Cipher
	if c.cipher != nil {
		cipher = c.cipher
	}
	f, err := protocol.Decode(raw, cipher)
	switch {
	case errors.Is(err, protocol.ErrChecksumMismatch):
		c.log.Error("Dropping frame with bad checksum", zap.Uint8("seq", seq), zap.Error(err))
		c.reasm.Reset()
		return nil
	case err != nil:
		c.log.Warn("Dropping undecodable frame", zap.Uint8("seq", seq), zap.Error(err))
		return nil
	}

	msg, complete, err := c.reasm.Push(f)
	if err != nil {
		c.log.Warn("Dropping malformed fragment", zap.Uint8("seq", seq), zap.Error(err))
		return nil
	}
	if !complete {
		c.log.Debug("Fragment buffered", zap.Stringer("frame", f))
		return nil
	}

	switch msg.Package {
	case protocol.PackageCtrl:
		c.dispatchCtrl(msg)
		return nil
	case protocol.PackageData:
		return c.dispatchData(msg)
	default:
		c.log.Warn("Dropping frame of unknown package class", zap.Stringer("message", msg))
		return nil
	}
}

func (c *Client) dispatchCtrl(msg *protocol.Message) {
	switch msg.Subtype {
	case protocol.CtrlAck:
		seq, err := protocol.ParseAck(msg.Payload)
		if err != nil {
			c.log.Warn("Malformed ack", zap.Error(err))
			return
		}
		if c.acks.resolve(seq) {
			c.log.Debug("Ack matched", zap.Uint8("seq", seq))
		} else {
			c.log.Debug("Ack received", zap.Uint8("seq", seq))
		}
	default:
		c.log.Warn("Unexpected control message", zap.Stringer("message", msg))
	}
}

func (c *Client) dispatchData(msg *protocol.Message) []func() {
	switch msg.Subtype {
	case protocol.DataNeg:
		c.receivePublicKey(msg.Payload)

	case protocol.DataVersion:
		v, err := protocol.ParseVersion(msg.Payload)
		if err != nil {
			c.log.Warn("Malformed version report", zap.Error(err))
			return nil
		}
		c.version = &v
		c.log.Info("Device version", zap.Stringer("version", v))
		c.versionEvent.Signal()

	case protocol.DataWifiConnectionState:
		st, err := protocol.ParseWifiState(msg.Payload)
		if err != nil {
			c.log.Warn("Malformed wifi state", zap.Error(err))
			return nil
		}
		c.wifiState = &st
		c.log.Info("Device wifi state",
			zap.Stringer("op_mode", st.OpMode),
			zap.Bool("sta_connected", st.StaConnected()),
			zap.Uint8("softap_conn", st.SoftAPConn),
		)
		c.statusEvent.Signal()

	case protocol.DataWifiList:
		entries, err := protocol.ParseScanList(msg.Payload)
		if err != nil {
			c.log.Error("Scan list parsing stopped early", zap.Int("parsed", len(entries)), zap.Error(err))
		}
		c.scanResults = entries
		c.log.Info("Scan list received", zap.Int("entries", len(entries)))
		c.scanEvent.Signal()

	case protocol.DataError:
		code, err := protocol.ParseErrorReport(msg.Payload)
		if err != nil {
			c.log.Warn("Malformed error report", zap.Error(err))
			return nil
		}
		c.log.Warn("Device reported error", zap.Uint8("code", uint8(code)), zap.Stringer("error", code))
		if code == protocol.ErrCodeWifiScan && c.scanPending {
			c.scanErr = &code
			c.scanEvent.Signal()
		}
		if fn := c.onError; fn != nil {
			return []func(){func() { fn(code) }}
		}

	case protocol.DataCustomData:
		data := msg.Payload
		c.log.Info("Custom data received", zap.Int("length", len(data)))
		if fn := c.onCustomData; fn != nil {
			return []func(){func() { fn(data) }}
		}

	case protocol.DataStaConnEndReason, protocol.DataStaConnRSSI, protocol.DataStaMaxConnRetry:
		c.log.Info("Device connection detail",
			zap.String("type", protocol.TypeName(msg.Package, msg.Subtype)),
			zap.String("hex", logging.HexDump(msg.Payload)),
		)

	default:
		c.log.Warn("Dropping message with unknown subtype", zap.Stringer("message", msg))
	}
	return nil
}

// receivePublicKey accumulates the device's public value across NEG
// messages and derives the session key once it is complete.
func (c *Client) receivePublicKey(data []byte) {
	if c.state != StateAwaitingSecurity || c.keyPair == nil {
		c.log.Warn("Ignoring negotiation data outside a handshake", zap.Int("length", len(data)))
		return
	}

	c.peerKey = append(c.peerKey, data...)
	if len(c.peerKey) < security.PrimeLength() {
		c.log.Debug("Partial device public key", zap.Int("have", len(c.peerKey)), zap.Int("want", security.PrimeLength()))
		return
	}

	key, err := c.keyPair.DeriveKey(c.peerKey)
	var fc *security.FrameCipher
	if err == nil {
		fc, err = security.NewFrameCipher(key)
	}
	c.peerKey = nil
	if err != nil {
		c.handshakeErr = err
		c.log.Error("Failed to derive session key", zap.Error(err))
	} else {
		c.cipher = fc
		c.log.Debug("Session key derived")
	}
	c.securityEvent.Signal()
}
