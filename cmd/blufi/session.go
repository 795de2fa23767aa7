package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/blufi/internal/blufi"
	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/config"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/transport"
	"github.com/muurk/blufi/internal/transport/ble"
	"github.com/muurk/blufi/internal/transport/wsbridge"
	"github.com/muurk/blufi/internal/ui"
)

// target is the device a command talks to.
type target struct {
	name      string // registry name; empty when given on the command line
	transport string
	id        string
	device    *config.Device
}

func (t *target) label() string {
	if t.name != "" {
		return t.name
	}
	return t.id
}

func resolveTarget() (*target, error) {
	if opts.url != "" {
		return &target{transport: config.TransportWebSocket, id: opts.url}, nil
	}
	if opts.device == "" {
		names := registry.DeviceNames()
		if len(names) != 1 {
			return nil, errors.New("no device selected: use --device NAME|ADDRESS or --url ws://HOST:PORT/blufi")
		}
		opts.device = names[0]
	}
	if d := registry.GetDevice(opts.device); d != nil {
		return &target{name: opts.device, transport: d.Transport, id: d.Target(), device: d}, nil
	}

	tr := opts.transport
	if tr == "" {
		tr = config.TransportBLE
		if strings.HasPrefix(opts.device, "ws://") || strings.HasPrefix(opts.device, "wss://") {
			tr = config.TransportWebSocket
		}
	}
	return &target{transport: tr, id: opts.device}, nil
}

func adapterID() string {
	if opts.adapter != "" {
		return opts.adapter
	}
	return registry.Preferences.AdapterID
}

func dial(ctx context.Context, tg *target, log *zap.Logger) (transport.Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.connectTimeout)
	defer cancel()

	switch tg.transport {
	case config.TransportBLE:
		d := &ble.Dialer{AdapterID: adapterID(), Timeout: opts.connectTimeout, Logger: log.Named("ble")}
		return d.Dial(ctx, tg.id)
	case config.TransportWebSocket:
		d := &wsbridge.Dialer{HandshakeTimeout: opts.connectTimeout, Logger: log.Named("ws")}
		if opts.insecure {
			d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		return d.Dial(ctx, tg.id)
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", tg.transport, config.TransportBLE, config.TransportWebSocket)
	}
}

// clientConfig layers registry preferences, the device entry and flags
// over the built-in defaults.
func clientConfig(tg *target) blufi.Config {
	cfg := blufi.DefaultConfig()
	p := registry.Preferences
	if !p.HandshakeTimeout.IsZero() {
		cfg.HandshakeTimeout = p.HandshakeTimeout.Std()
	}
	if !p.ScanTimeout.IsZero() {
		cfg.ScanTimeout = p.ScanTimeout.Std()
	}
	if !p.ResponseTimeout.IsZero() {
		cfg.ResponseTimeout = p.ResponseTimeout.Std()
	}
	if !p.FragmentDelay.IsZero() {
		cfg.FragmentDelay = p.FragmentDelay.Std()
	}
	if tg.device != nil {
		cfg.RequireAck = tg.device.RequireAck
		cfg.PackageLengthLimit = tg.device.FrameLimit
	}
	if opts.requireAck {
		cfg.RequireAck = true
	}
	if opts.frameLimit > 0 {
		cfg.PackageLengthLimit = opts.frameLimit
	}
	return cfg
}

// session is a connected, and unless --plain, secured client.
type session struct {
	*blufi.Client
	target *target
	rec    *capture.StreamRecorder
}

func openSession(ctx context.Context) (*session, error) {
	tg, err := resolveTarget()
	if err != nil {
		return nil, err
	}
	log := logging.GetLogger()
	cfg := clientConfig(tg)

	var rec *capture.StreamRecorder
	if opts.capture != "" {
		rec, err = capture.Create(opts.capture)
		if err != nil {
			return nil, err
		}
		cfg.Recorder = rec
	}
	closeRec := func() {
		if rec != nil {
			_ = rec.Close()
		}
	}

	var t transport.Transport
	err = ui.Spin("Connecting to "+tg.label(), func() error {
		var err error
		t, err = dial(ctx, tg, log)
		return err
	})
	if err != nil {
		closeRec()
		return nil, blufi.Classify(err)
	}
	c, err := blufi.NewClient(t, cfg, log.Named("blufi"))
	if err != nil {
		_ = t.Close()
		closeRec()
		return nil, err
	}

	s := &session{Client: c, target: tg, rec: rec}
	if !opts.plain {
		err := ui.Spin("Negotiating session key", func() error { return c.NegotiateSecurity(ctx) })
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() {
	_ = s.Client.Close()
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			logging.Warn("Failed to close capture file", zap.String("path", opts.capture), zap.Error(err))
		}
	}
}

// remember stamps the registry entry after a successful exchange.
func (s *session) remember(protocolVersion string) {
	if s.target.name == "" {
		return
	}
	registry.UpdateDeviceLastSeen(s.target.name, protocolVersion)
	if err := registry.Save(); err != nil {
		logging.Warn("Failed to save config", zap.String("path", registry.Path()), zap.Error(err))
	}
}

func (s *session) header(title, command string) {
	secured := "no"
	if s.Secured() {
		secured = "yes"
	}
	fmt.Println(ui.NewHeader(title, command,
		ui.Detail{Key: "Device", Value: s.target.label()},
		ui.Detail{Key: "Transport", Value: s.target.transport},
		ui.Detail{Key: "Encrypted", Value: secured},
	).Render())
	fmt.Println()
}

// commandContext is canceled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// fail renders err in a failure box with troubleshooting advice.
func fail(title string, err error) error {
	fmt.Println(ui.NewFailureResult(title, err, blufi.Hint(err)).Render())
	return errReported
}
