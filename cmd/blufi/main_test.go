package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/blufi/internal/blufi"
	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/config"
	"github.com/muurk/blufi/internal/emulator"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/transport"
)

// syncBuffer is written from the notification goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConsole(t *testing.T) (*console, *syncBuffer, *emulator.Device) {
	t.Helper()
	clientEnd, deviceEnd := transport.NewPipe(0)
	dev := emulator.New(emulator.DefaultConfig(), nil)
	require.NoError(t, dev.Attach(deviceEnd))

	cfg := blufi.DefaultConfig()
	cfg.FragmentDelay = blufi.NoDelay
	cfg.NegotiationDelay = blufi.NoDelay
	c, err := blufi.NewClient(clientEnd, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = deviceEnd.Close()
	})

	out := &syncBuffer{}
	return newConsole(c, out), out, dev
}

func TestConsoleSession(t *testing.T) {
	con, out, dev := newTestConsole(t)
	ctx := context.Background()

	require.True(t, con.exec(ctx, "negotiate"))
	require.True(t, con.exec(ctx, "version"))
	require.True(t, con.exec(ctx, "scan"))
	require.True(t, con.exec(ctx, "mode softap"))
	require.True(t, con.exec(ctx, "provision blufi-lab hunter22"))
	require.True(t, con.exec(ctx, "send hello there"))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "<< custom")
	}, 2*time.Second, 10*time.Millisecond)

	text := out.String()
	assert.Contains(t, text, "secured")
	assert.Contains(t, text, "version 1.3")
	assert.Contains(t, text, "warehouse-2.4")
	assert.Contains(t, text, "hello there")
	assert.NotContains(t, text, "✗")

	assert.True(t, dev.Secured())
	assert.Equal(t, protocol.OpModeSoftAP, dev.OpMode())
	ssid, password := dev.Credentials()
	assert.Equal(t, "blufi-lab", ssid)
	assert.Equal(t, "hunter22", password)
}

func TestConsoleUsageErrors(t *testing.T) {
	con, out, _ := newTestConsole(t)
	ctx := context.Background()

	for _, line := range []string{"", "mode", "mode turbo", "provision only-ssid", "limit x", "sendhex zz", "notify maybe", "frobnicate"} {
		assert.True(t, con.exec(ctx, line), "line %q should not exit", line)
	}
	text := out.String()
	assert.Contains(t, text, "usage: mode")
	assert.Contains(t, text, `unknown op mode "turbo"`)
	assert.Contains(t, text, "usage: provision")
	assert.Contains(t, text, "invalid limit")
	assert.Contains(t, text, "invalid hex")
	assert.Contains(t, text, "usage: notify")
	assert.Contains(t, text, "Unknown command: frobnicate")
}

func TestConsoleExit(t *testing.T) {
	con, _, _ := newTestConsole(t)
	assert.False(t, con.exec(context.Background(), "quit"))
	assert.False(t, con.exec(context.Background(), "EXIT"))
}

func TestConsoleReportsValidation(t *testing.T) {
	con, out, _ := newTestConsole(t)
	assert.True(t, con.exec(context.Background(), "provision lab short"))
	assert.Contains(t, out.String(), "✗")
}

func TestFrameFlags(t *testing.T) {
	tests := []struct {
		fc   byte
		want string
	}{
		{0, "-"},
		{protocol.FrameCtrlEncrypted | protocol.FrameCtrlChecksum, "enc,crc"},
		{protocol.FrameCtrlRequireAck | protocol.FrameCtrlFragmented | protocol.FrameCtrlDirection, "ack,frag"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, frameFlags(tt.fc), "fc=0x%02x", tt.fc)
	}
}

func TestTraceRow(t *testing.T) {
	plain, err := protocol.Encode(&protocol.Frame{
		Package:  protocol.PackageData,
		Subtype:  protocol.DataCustomData,
		Checksum: true,
		Sequence: 7,
		Payload:  []byte("hi"),
	}, nil)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 6e6, time.UTC)
	row := traceRow(capture.Record{Timestamp: ts, SessionID: "0123456789abcdef", Direction: capture.Outbound, Frame: plain})
	assert.Equal(t, []string{"03:04:05.006", "01234567", "out", protocol.TypeName(protocol.PackageData, protocol.DataCustomData), "7", "crc", "2", "6869"}, row)

	encrypted := append([]byte(nil), plain...)
	encrypted[1] |= protocol.FrameCtrlEncrypted
	row = traceRow(capture.Record{Frame: encrypted, Direction: capture.Inbound})
	assert.Equal(t, "<encrypted>", row[len(row)-1])

	corrupt := append([]byte(nil), plain...)
	corrupt[len(corrupt)-1] ^= 0xFF
	row = traceRow(capture.Record{Frame: corrupt})
	assert.Contains(t, row[len(row)-1], "bad checksum")

	row = traceRow(capture.Record{Frame: []byte{1, 2}})
	assert.Equal(t, "malformed", row[3])
}

func withRegistry(t *testing.T, reg *config.Registry) {
	t.Helper()
	saved, savedOpts := registry, opts
	registry = reg
	t.Cleanup(func() {
		registry, opts = saved, savedOpts
	})
}

func TestResolveTarget(t *testing.T) {
	reg := config.NewRegistry()
	require.NoError(t, reg.SetDevice("kitchen", &config.Device{Transport: config.TransportBLE, Address: "BLUFI_DEVICE", FrameLimit: 64, RequireAck: true}))
	withRegistry(t, reg)

	opts.device = "kitchen"
	tg, err := resolveTarget()
	require.NoError(t, err)
	assert.Equal(t, "kitchen", tg.label())
	assert.Equal(t, "BLUFI_DEVICE", tg.id)

	cfg := clientConfig(tg)
	assert.True(t, cfg.RequireAck)
	assert.Equal(t, 64, cfg.PackageLengthLimit)

	opts.device = "ws://127.0.0.1:8080/blufi"
	tg, err = resolveTarget()
	require.NoError(t, err)
	assert.Equal(t, config.TransportWebSocket, tg.transport)

	opts.device = "AA:BB:CC:DD:EE:FF"
	tg, err = resolveTarget()
	require.NoError(t, err)
	assert.Equal(t, config.TransportBLE, tg.transport)

	opts.device = ""
	opts.url = "ws://gateway:8080/blufi"
	tg, err = resolveTarget()
	require.NoError(t, err)
	assert.Equal(t, "ws://gateway:8080/blufi", tg.id)
}

func TestResolveTargetDefaultsToOnlyDevice(t *testing.T) {
	reg := config.NewRegistry()
	withRegistry(t, reg)
	opts.device, opts.url = "", ""

	_, err := resolveTarget()
	assert.Error(t, err)

	require.NoError(t, reg.SetDevice("only", &config.Device{Transport: config.TransportBLE, Address: "dev"}))
	tg, err := resolveTarget()
	require.NoError(t, err)
	assert.Equal(t, "only", tg.name)
}

func TestClientConfigPreferences(t *testing.T) {
	reg := config.NewRegistry()
	reg.Preferences.ScanTimeout = config.Duration(30 * time.Second)
	reg.Preferences.FragmentDelay = config.Duration(5 * time.Millisecond)
	withRegistry(t, reg)
	opts.frameLimit = 100
	opts.requireAck = true

	cfg := clientConfig(&target{transport: config.TransportBLE, id: "x"})
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.FragmentDelay)
	assert.Equal(t, blufi.DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, 100, cfg.PackageLengthLimit)
	assert.True(t, cfg.RequireAck)
}
