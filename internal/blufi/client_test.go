package blufi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/emulator"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() Config {
	return Config{
		HandshakeTimeout: 2 * time.Second,
		ScanTimeout:      2 * time.Second,
		ResponseTimeout:  2 * time.Second,
		AckTimeout:       2 * time.Second,
		FragmentDelay:    NoDelay,
		NegotiationDelay: NoDelay,
	}
}

type session struct {
	client *Client
	device *emulator.Device
	logs   *observer.ObservedLogs
}

func newSession(t *testing.T, mtu int, dcfg emulator.Config, cfg Config) *session {
	t.Helper()
	clientEnd, deviceEnd := transport.NewPipe(mtu)

	dev := emulator.New(dcfg, nil)
	require.NoError(t, dev.Attach(deviceEnd))

	core, logs := observer.New(zapcore.DebugLevel)
	c, err := NewClient(clientEnd, cfg, zap.New(core))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		_ = deviceEnd.Close()
	})
	return &session{client: c, device: dev, logs: logs}
}

func (s *session) warnings(msg string) int {
	return s.logs.FilterMessage(msg).Len()
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "error %v is not *Error", err)
	return e.Kind
}

func TestNegotiateSecurity(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()

	assert.Equal(t, StateIdle, s.client.State())
	require.NoError(t, s.client.NegotiateSecurity(ctx))

	assert.Equal(t, StateSecured, s.client.State())
	assert.True(t, s.client.Secured())
	assert.Eventually(t, func() bool {
		m := s.device.SecurityMode()
		return m.DataChecksum && m.DataEncrypt && !m.CtrlEncrypt
	}, time.Second, 5*time.Millisecond)

	// Encrypted, checksummed round trip with the derived key.
	v, err := s.client.RequestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 3}, v)
	assert.Zero(t, s.device.Stats().ChecksumErrors)
	assert.Zero(t, s.warnings("Sequence mismatch"))
}

func TestNegotiateSecurityWithSplitKey(t *testing.T) {
	dcfg := emulator.DefaultConfig()
	dcfg.KeySplit = 3
	s := newSession(t, 0, dcfg, testConfig())

	require.NoError(t, s.client.NegotiateSecurity(context.Background()))
	_, err := s.client.RequestDeviceStatus(context.Background())
	require.NoError(t, err)
}

func TestNegotiateSecurityTwice(t *testing.T) {
	s := newSession(t, 185, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()

	require.NoError(t, s.client.NegotiateSecurity(ctx))
	require.NoError(t, s.client.NegotiateSecurity(ctx))
	assert.Equal(t, StateSecured, s.client.State())

	_, err := s.client.RequestVersion(ctx)
	require.NoError(t, err)
}

func TestHandshakeTimeout(t *testing.T) {
	dcfg := emulator.DefaultConfig()
	dcfg.Silent = true
	cfg := testConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	s := newSession(t, 0, dcfg, cfg)

	err := s.client.NegotiateSecurity(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindHandshakeTimeout, kindOf(t, err))
	assert.True(t, IsTimeout(err))
	assert.Equal(t, StateIdle, s.client.State())
	assert.False(t, s.client.Secured())

	// The session stays usable in plaintext.
	v, err := s.client.RequestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v.Major)
}

func TestRequestDeviceStatusAndProvision(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()
	require.NoError(t, s.client.NegotiateSecurity(ctx))

	st, err := s.client.RequestDeviceStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpModeSta, st.OpMode)
	assert.False(t, st.StaConnected())

	creds := Credentials{SSID: "blufi-lab", Password: "correct horse battery"}
	require.NoError(t, s.client.PostStaWifiInfo(ctx, creds))

	assert.Eventually(t, s.device.Connected, time.Second, 5*time.Millisecond)
	ssid, password := s.device.Credentials()
	assert.Equal(t, creds.SSID, ssid)
	assert.Equal(t, creds.Password, password)

	st, err = s.client.RequestDeviceStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.StaConnected())
}

func TestPostStaWifiInfoValidation(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())

	err := s.client.PostStaWifiInfo(context.Background(), Credentials{SSID: "", Password: "whatever1"})
	require.Error(t, err)
	assert.Equal(t, KindValidation, kindOf(t, err))
	assert.True(t, strings.HasPrefix(err.Error(), "provision: "), err.Error())
	assert.Zero(t, s.device.Stats().FramesIn)
}

func TestRequestDeviceScan(t *testing.T) {
	dcfg := emulator.DefaultConfig()
	s := newSession(t, 0, dcfg, testConfig())
	ctx := context.Background()
	require.NoError(t, s.client.NegotiateSecurity(ctx))

	entries, err := s.client.RequestDeviceScan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, dcfg.Networks, entries)
	assert.Equal(t, dcfg.Networks, s.client.ScanResults())
	assert.Equal(t, StateSecured, s.client.State())
}

func TestRequestDeviceScanTimeout(t *testing.T) {
	dcfg := emulator.DefaultConfig()
	dcfg.ScanDelay = 300 * time.Millisecond
	s := newSession(t, 0, dcfg, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := s.client.RequestDeviceScan(context.Background(), 50*time.Millisecond)
		done <- err
	}()

	assert.Eventually(t, func() bool { return s.client.State() == StateScanPending }, time.Second, time.Millisecond)

	err := <-done
	require.Error(t, err)
	assert.Equal(t, KindScanTimeout, kindOf(t, err))
	assert.Equal(t, StateIdle, s.client.State())
}

func TestRequestDeviceScanDeviceError(t *testing.T) {
	dcfg := emulator.DefaultConfig()
	dcfg.FailScan = true
	s := newSession(t, 0, dcfg, testConfig())

	codes := make(chan protocol.ErrorCode, 1)
	s.client.OnError(func(code protocol.ErrorCode) { codes <- code })

	_, err := s.client.RequestDeviceScan(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, KindDeviceError, kindOf(t, err))

	select {
	case code := <-codes:
		assert.Equal(t, protocol.ErrCodeWifiScan, code)
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
}

func TestCustomDataEcho(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()
	require.NoError(t, s.client.NegotiateSecurity(ctx))

	got := make(chan []byte, 1)
	s.client.OnCustomData(func(b []byte) { got <- b })

	data := bytes.Repeat([]byte("0123456789abcdef"), 40)
	require.NoError(t, s.client.PostCustomData(ctx, data))

	select {
	case echo := <-got:
		assert.Equal(t, data, echo)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
	require.Len(t, s.device.CustomData(), 1)
	assert.Equal(t, data, s.device.CustomData()[0])
}

func TestPostCustomDataTooLarge(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	err := s.client.PostCustomData(context.Background(), make([]byte, 0x10000))
	require.Error(t, err)
	assert.Equal(t, KindValidation, kindOf(t, err))
}

func TestSequenceWraparound(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()

	const rounds = 300
	for i := 0; i < rounds; i++ {
		_, err := s.client.RequestVersion(ctx)
		require.NoError(t, err, "round %d", i)
	}

	assert.Zero(t, s.device.Stats().SequenceErrors)
	assert.Zero(t, s.warnings("Sequence mismatch"))

	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	assert.Equal(t, uint8(rounds%256), s.client.txSeq)
	assert.Equal(t, uint8(rounds%256), s.client.rxSeq)
}

func TestFragmentationWithSmallLimit(t *testing.T) {
	dcfg := emulator.DefaultConfig()
	dcfg.FrameLimit = protocol.MinPackageLength
	s := newSession(t, 512, dcfg, testConfig())
	ctx := context.Background()

	s.client.SetPostPackageLengthLimit(10)
	require.NoError(t, s.client.NegotiateSecurity(ctx))

	creds := Credentials{
		SSID:     strings.Repeat("s", MaxSSIDLength),
		Password: strings.Repeat("p", MaxPassphraseLength),
	}
	require.NoError(t, s.client.PostStaWifiInfo(ctx, creds))
	assert.Eventually(t, s.device.Connected, time.Second, 5*time.Millisecond)

	ssid, password := s.device.Credentials()
	assert.Equal(t, creds.SSID, ssid)
	assert.Equal(t, creds.Password, password)
	assert.Zero(t, s.device.Stats().ChecksumErrors)
}

func TestRequireAck(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAck = true
	s := newSession(t, 0, emulator.DefaultConfig(), cfg)
	ctx := context.Background()

	require.NoError(t, s.client.NegotiateSecurity(ctx))
	require.NoError(t, s.client.PostDeviceMode(ctx, protocol.OpModeStaSoftAP))
	assert.Equal(t, protocol.OpModeStaSoftAP, s.device.OpMode())
	assert.Zero(t, s.client.acks.len())
	assert.Zero(t, s.warnings("Sequence mismatch"))
}

func TestRequireAckWithNotificationsOff(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAck = true
	s := newSession(t, 0, emulator.DefaultConfig(), cfg)
	ctx := context.Background()

	require.NoError(t, s.client.StopNotify())
	require.NoError(t, s.client.PostDeviceMode(ctx, protocol.OpModeSoftAP))
	assert.Eventually(t, func() bool { return s.device.OpMode() == protocol.OpModeSoftAP }, time.Second, 5*time.Millisecond)
	// Let the pipe drop the queued ack before resubscribing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.client.StartNotify())

	// The dropped ack consumed one device sequence number.
	_, err := s.client.RequestVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.warnings("Sequence mismatch"))
}

// sinkTransport accepts writes and never answers.
type sinkTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *sinkTransport) Write(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrNotConnected
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *sinkTransport) Subscribe(func([]byte)) error { return nil }
func (s *sinkTransport) Unsubscribe() error           { return nil }
func (s *sinkTransport) MTU() (int, error)            { return 0, transport.ErrMTUUnavailable }

func (s *sinkTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func TestAckTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAck = true
	cfg.AckTimeout = 30 * time.Millisecond
	c, err := NewClient(&sinkTransport{}, cfg, nil)
	require.NoError(t, err)

	err = c.PostCustomData(context.Background(), []byte("hi"))
	require.Error(t, err)
	assert.Equal(t, KindAckTimeout, kindOf(t, err))
	assert.Zero(t, c.acks.len())
}

func TestResponseTimeoutAndCancel(t *testing.T) {
	cfg := testConfig()
	cfg.ResponseTimeout = 30 * time.Millisecond
	c, err := NewClient(&sinkTransport{}, cfg, nil)
	require.NoError(t, err)

	_, err = c.RequestVersion(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindResponseTimeout, kindOf(t, err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.RequestDeviceStatus(ctx)
	require.Error(t, err)
	assert.Equal(t, KindCanceled, kindOf(t, err))
}

func TestOperationsAfterClose(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	require.NoError(t, s.client.Close())
	require.NoError(t, s.client.Close())

	err := s.client.PostCustomData(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindClosed, kindOf(t, err))
}

func TestCloseReleasesWaiters(t *testing.T) {
	tests := []struct {
		name       string
		requireAck bool
		call       func(context.Context, *Client) error
	}{
		{"negotiate", false, func(ctx context.Context, c *Client) error { return c.NegotiateSecurity(ctx) }},
		{"version", false, func(ctx context.Context, c *Client) error { _, err := c.RequestVersion(ctx); return err }},
		{"status", false, func(ctx context.Context, c *Client) error { _, err := c.RequestDeviceStatus(ctx); return err }},
		{"scan", false, func(ctx context.Context, c *Client) error { _, err := c.RequestDeviceScan(ctx, 0); return err }},
		{"ack", true, func(ctx context.Context, c *Client) error { return c.PostCustomData(ctx, []byte("hi")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.HandshakeTimeout = 10 * time.Second
			cfg.ScanTimeout = 10 * time.Second
			cfg.ResponseTimeout = 10 * time.Second
			cfg.AckTimeout = 10 * time.Second
			cfg.RequireAck = tt.requireAck
			sink := &sinkTransport{}
			c, err := NewClient(sink, cfg, nil)
			require.NoError(t, err)

			errc := make(chan error, 1)
			go func() { errc <- tt.call(context.Background(), c) }()

			// Close lands while the call is sending or waiting.
			require.Eventually(t, func() bool {
				sink.mu.Lock()
				defer sink.mu.Unlock()
				return len(sink.frames) > 0
			}, time.Second, time.Millisecond)
			require.NoError(t, c.Close())

			select {
			case err := <-errc:
				require.Error(t, err)
				assert.Equal(t, KindClosed, kindOf(t, err))
			case <-time.After(time.Second):
				t.Fatal("operation still blocked after Close")
			}
		})
	}
}

func TestRequestCloseConnection(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()

	require.NoError(t, s.client.RequestCloseConnection(ctx))
	assert.Eventually(t, func() bool {
		err := s.client.PostDeviceMode(ctx, protocol.OpModeSta)
		return err != nil && KindOf(err) == KindTransport
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectWifi(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	ctx := context.Background()

	require.NoError(t, s.client.PostStaWifiInfo(ctx, Credentials{SSID: "open-net"}))
	assert.Eventually(t, s.device.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, s.client.RequestDisconnectWifi(ctx))
	assert.Eventually(t, func() bool { return !s.device.Connected() }, time.Second, 5*time.Millisecond)
}

func TestPostDeviceModeRejectsUnknown(t *testing.T) {
	s := newSession(t, 0, emulator.DefaultConfig(), testConfig())
	err := s.client.PostDeviceMode(context.Background(), protocol.OpMode(9))
	require.Error(t, err)
	assert.Equal(t, KindValidation, kindOf(t, err))
}

func TestCaptureRecordsBothDirections(t *testing.T) {
	var buf bytes.Buffer
	rec := capture.NewStreamRecorder(&buf)

	cfg := testConfig()
	cfg.Recorder = rec
	cfg.SessionID = "test-session"
	s := newSession(t, 0, emulator.DefaultConfig(), cfg)

	_, err := s.client.RequestVersion(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.client.Close())
	require.NoError(t, rec.Err())

	r := capture.NewReader(&buf)
	var dirs []capture.Direction
	for {
		record, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "test-session", record.SessionID)
		dirs = append(dirs, record.Direction)
	}
	assert.Equal(t, []capture.Direction{capture.Outbound, capture.Inbound}, dirs)
}

func TestPackageLimit(t *testing.T) {
	tests := []struct {
		name     string
		override int
		mtu      int
		want     int
	}{
		{"defaults", 0, 0, protocol.DefaultPackageLength},
		{"mtu only", 0, 185, 185},
		{"override below mtu", 100, 185, 100},
		{"override clamped to mtu", 300, 185, 185},
		{"override without mtu", 50, 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, packageLimit(tt.override, tt.mtu))
		})
	}
}

func TestSetPostPackageLengthLimit(t *testing.T) {
	c, err := NewClient(&sinkTransport{}, testConfig(), nil)
	require.NoError(t, err)

	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{-5, 0},
		{10, protocol.MinPackageLength},
		{24, 20},
		{128, 124},
	}
	for _, tt := range tests {
		c.SetPostPackageLengthLimit(tt.n)
		c.mu.Lock()
		got := c.limitOverride
		c.mu.Unlock()
		assert.Equal(t, tt.want, got, "SetPostPackageLengthLimit(%d)", tt.n)
	}
}

func TestFragmentedWritesRespectLimit(t *testing.T) {
	sink := &sinkTransport{}
	c, err := NewClient(sink, testConfig(), nil)
	require.NoError(t, err)
	c.SetPostPackageLengthLimit(44)

	require.NoError(t, c.PostCustomData(context.Background(), bytes.Repeat([]byte{0xAA}, 200)))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Greater(t, len(sink.frames), 1)
	for i, f := range sink.frames {
		assert.LessOrEqual(t, len(f), 40, "frame %d", i)
		assert.Equal(t, byte(i), f[2], "frame %d sequence", i)
	}
}
