package emulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/security"
	"github.com/muurk/blufi/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer is a minimal hand-driven client.
type peer struct {
	t      *testing.T
	end    *transport.PipeEnd
	seq    uint8
	frames chan *protocol.Frame
	msgs   chan *protocol.Message

	mu     sync.Mutex
	cipher protocol.Cipher
	reasm  protocol.Reassembler
}

func newPeer(t *testing.T, cfg Config) (*peer, *Device) {
	t.Helper()
	clientEnd, deviceEnd := transport.NewPipe(0)
	dev := New(cfg, nil)
	require.NoError(t, dev.Attach(deviceEnd))

	p := &peer{
		t:      t,
		end:    clientEnd,
		frames: make(chan *protocol.Frame, 256),
		msgs:   make(chan *protocol.Message, 64),
	}
	require.NoError(t, clientEnd.Subscribe(p.receive))
	t.Cleanup(func() {
		_ = clientEnd.Close()
		_ = deviceEnd.Close()
	})
	return p, dev
}

func (p *peer) receive(raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := protocol.Decode(raw, p.cipher)
	if err != nil {
		p.t.Errorf("peer failed to decode %x: %v", raw, err)
		return
	}
	p.frames <- f
	if msg, complete, err := p.reasm.Push(f); err == nil && complete {
		p.msgs <- msg
	}
}

func (p *peer) setCipher(c protocol.Cipher) {
	p.mu.Lock()
	p.cipher = c
	p.mu.Unlock()
}

func (p *peer) writeFrame(f *protocol.Frame) []byte {
	p.t.Helper()
	f.Direction = protocol.DirectionOutput
	f.Sequence = p.seq
	p.seq++
	p.mu.Lock()
	raw, err := protocol.Encode(f, p.cipher)
	p.mu.Unlock()
	require.NoError(p.t, err)
	return raw
}

func (p *peer) write(raw []byte) {
	p.t.Helper()
	require.NoError(p.t, p.end.Write(context.Background(), raw))
}

func (p *peer) send(pkg protocol.PackageType, sub protocol.Subtype, data []byte, encrypt, checksum bool) {
	p.t.Helper()
	frag := protocol.NewFragmenter(data, protocol.DataLimit(protocol.DefaultPackageLength, checksum))
	for {
		chunk, more := frag.Next()
		p.write(p.writeFrame(&protocol.Frame{
			Package:    pkg,
			Subtype:    sub,
			Encrypted:  encrypt,
			Checksum:   checksum,
			Fragmented: more,
			Payload:    chunk,
		}))
		if !more {
			return
		}
	}
}

func (p *peer) expect() *protocol.Message {
	p.t.Helper()
	select {
	case m := <-p.msgs:
		return m
	case <-time.After(2 * time.Second):
		p.t.Fatal("no message from device")
		return nil
	}
}

func TestVersionRequest(t *testing.T) {
	p, _ := newPeer(t, DefaultConfig())
	p.send(protocol.PackageCtrl, protocol.CtrlGetVersion, nil, false, false)

	msg := p.expect()
	assert.Equal(t, protocol.PackageData, msg.Package)
	assert.Equal(t, protocol.DataVersion, msg.Subtype)
	assert.Equal(t, []byte{1, 3}, msg.Payload)

	f := <-p.frames
	assert.Equal(t, protocol.DirectionInput, f.Direction)
	assert.Equal(t, uint8(0), f.Sequence)
}

func TestAckRequested(t *testing.T) {
	p, dev := newPeer(t, DefaultConfig())
	p.write(p.writeFrame(&protocol.Frame{
		Package:    protocol.PackageCtrl,
		Subtype:    protocol.CtrlSetOpMode,
		RequireAck: true,
		Payload:    []byte{byte(protocol.OpModeSoftAP)},
	}))

	msg := p.expect()
	assert.Equal(t, protocol.PackageCtrl, msg.Package)
	assert.Equal(t, protocol.CtrlAck, msg.Subtype)
	assert.Equal(t, []byte{0}, msg.Payload)
	assert.Equal(t, protocol.OpModeSoftAP, dev.OpMode())
}

func TestScanListIsFragmented(t *testing.T) {
	cfg := DefaultConfig()
	p, _ := newPeer(t, cfg)
	p.send(protocol.PackageCtrl, protocol.CtrlGetWifiList, nil, false, false)

	msg := p.expect()
	require.Equal(t, protocol.DataWifiList, msg.Subtype)
	entries, err := protocol.ParseScanList(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, cfg.Networks, entries)

	var fragments int
	for len(p.frames) > 0 {
		f := <-p.frames
		assert.LessOrEqual(t, len(f.Payload)+protocol.HeaderLength, cfg.FrameLimit)
		if f.Fragmented {
			fragments++
		}
	}
	assert.Greater(t, fragments, 0)
}

func TestScanFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailScan = true
	p, _ := newPeer(t, cfg)
	p.send(protocol.PackageCtrl, protocol.CtrlGetWifiList, nil, false, false)

	msg := p.expect()
	assert.Equal(t, protocol.DataError, msg.Subtype)
	assert.Equal(t, []byte{byte(protocol.ErrCodeWifiScan)}, msg.Payload)
}

func TestChecksumMismatchReported(t *testing.T) {
	p, dev := newPeer(t, DefaultConfig())
	raw := p.writeFrame(&protocol.Frame{
		Package:  protocol.PackageData,
		Subtype:  protocol.DataCustomData,
		Checksum: true,
		Payload:  []byte("payload"),
	})
	raw[protocol.HeaderLength] ^= 0x01
	p.write(raw)

	msg := p.expect()
	assert.Equal(t, protocol.DataError, msg.Subtype)
	assert.Equal(t, []byte{byte(protocol.ErrCodeChecksum)}, msg.Payload)
	assert.Equal(t, 1, dev.Stats().ChecksumErrors)
	assert.Empty(t, dev.CustomData())
}

func TestSequenceErrorsCounted(t *testing.T) {
	p, dev := newPeer(t, DefaultConfig())
	p.seq = 5
	p.send(protocol.PackageCtrl, protocol.CtrlGetVersion, nil, false, false)
	p.expect()
	p.send(protocol.PackageCtrl, protocol.CtrlGetVersion, nil, false, false)
	p.expect()

	// One warning, then the device follows the new numbering.
	assert.Equal(t, 1, dev.Stats().SequenceErrors)
}

func TestKeyExchangeAndEncryptedEcho(t *testing.T) {
	p, dev := newPeer(t, DefaultConfig())

	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)
	prime, g := security.Prime(), security.GeneratorBytes()
	pub := kp.Public(security.PublicKeyLength)

	p.send(protocol.PackageData, protocol.DataNeg, protocol.NegotiationLengthPayload(prime, g, pub), false, false)
	p.send(protocol.PackageData, protocol.DataNeg, protocol.NegotiationDataPayload(prime, g, pub), false, false)

	msg := p.expect()
	require.Equal(t, protocol.DataNeg, msg.Subtype)
	require.Len(t, msg.Payload, security.PrimeLength())

	key, err := kp.DeriveKey(msg.Payload)
	require.NoError(t, err)
	fc, err := security.NewFrameCipher(key)
	require.NoError(t, err)
	p.setCipher(fc)
	assert.True(t, dev.Secured())

	mode := protocol.SecurityMode{DataChecksum: true, DataEncrypt: true}
	p.send(protocol.PackageCtrl, protocol.CtrlSetSecMode, []byte{mode.Byte()}, false, false)
	p.send(protocol.PackageData, protocol.DataCustomData, []byte("sealed"), true, true)

	echo := p.expect()
	assert.Equal(t, protocol.DataCustomData, echo.Subtype)
	assert.Equal(t, []byte("sealed"), echo.Payload)
	assert.Equal(t, mode, dev.SecurityMode())

	var sawEncrypted bool
	for len(p.frames) > 0 {
		if f := <-p.frames; f.Subtype == protocol.DataCustomData {
			sawEncrypted = f.Encrypted && f.Checksum
		}
	}
	assert.True(t, sawEncrypted, "echo was not sent encrypted and checksummed")
}

func TestSilentIgnoresNegotiation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Silent = true
	p, dev := newPeer(t, cfg)

	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)
	p.send(protocol.PackageData, protocol.DataNeg,
		protocol.NegotiationDataPayload(security.Prime(), security.GeneratorBytes(), kp.Public(security.PublicKeyLength)), false, false)

	select {
	case m := <-p.msgs:
		t.Fatalf("unexpected reply %v", m)
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, dev.Secured())
}

func TestProvisioning(t *testing.T) {
	p, dev := newPeer(t, DefaultConfig())
	p.send(protocol.PackageData, protocol.DataStaSSID, []byte("lab"), false, false)
	p.send(protocol.PackageData, protocol.DataStaPassword, []byte("hunter22"), false, false)
	p.send(protocol.PackageCtrl, protocol.CtrlConnectWifi, nil, false, false)

	msg := p.expect()
	require.Equal(t, protocol.DataWifiConnectionState, msg.Subtype)
	st, err := protocol.ParseWifiState(msg.Payload)
	require.NoError(t, err)
	assert.True(t, st.StaConnected())

	ssid, password := dev.Credentials()
	assert.Equal(t, "lab", ssid)
	assert.Equal(t, "hunter22", password)
}

func TestSplit(t *testing.T) {
	b := make([]byte, 128)
	tests := []struct {
		n    int
		want []int
	}{
		{1, []int{128}},
		{2, []int{64, 64}},
		{3, []int{43, 43, 42}},
		{0, []int{128}},
		{200, []int{128}},
	}
	for _, tt := range tests {
		var got []int
		for _, part := range split(b, tt.n) {
			got = append(got, len(part))
		}
		assert.Equal(t, tt.want, got, "split(128, %d)", tt.n)
	}
}
