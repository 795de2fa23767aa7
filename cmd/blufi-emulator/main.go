// Blufi-emulator serves an emulated BLUFI device over WebSocket.
//
// Every accepted connection gets its own device that answers key
// negotiation, version, status and scan requests, stores credentials and
// echoes custom data. Point 'blufi --url' at it to exercise the client
// without hardware.
//
// Usage:
//
//	blufi-emulator [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/blufi/internal/emulator"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/server"
	"github.com/muurk/blufi/internal/transport/wsbridge"
	"github.com/muurk/blufi/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Server flags
var (
	host       string
	port       int
	path       string
	mtu        int
	useTLS     bool
	certPath   string
	keyPath    string
	advertise  string
	logLevel   string
	protoVer   string
	networks   []string
	frameLimit int
	scanDelay  time.Duration
	keySplit   int
	silent     bool
	failScan   bool
)

var rootCmd = &cobra.Command{
	Use:   "blufi-emulator",
	Short: "Emulated BLUFI device over WebSocket",
	Long: `Serve an emulated BLUFI device behind a WebSocket endpoint.

Each connection gets a fresh device with its own sequence counters and
session key. With --advertise the endpoint is announced over mDNS so
'blufi gateways' can find it.`,
	Example: `  # Plain WebSocket on port 8080
  blufi-emulator

  # Announce over mDNS with a custom scan list
  blufi-emulator --advertise lab --network "HomeNetwork:-48" --network "Guest:-70"

  # TLS with a generated certificate, device ignores key negotiation
  blufi-emulator --tls --silent`,
	Version:      version.Version,
	SilenceUsage: true,
	RunE:         runEmulator,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.Flags()
	f.StringVar(&host, "host", "", "Listen address (empty = all interfaces)")
	f.IntVar(&port, "port", 8080, "Listen port")
	f.StringVar(&path, "path", wsbridge.DefaultPath, "WebSocket endpoint path")
	f.IntVar(&mtu, "mtu", 0, "Link MTU advertised to clients (0 = none, clients use 20)")
	f.BoolVar(&useTLS, "tls", false, "Serve wss://")
	f.StringVar(&certPath, "cert", "", "TLS certificate file (generated when omitted)")
	f.StringVar(&keyPath, "key", "", "TLS private key file (generated when omitted)")
	f.StringVar(&advertise, "advertise", "", "mDNS instance name to advertise (empty disables)")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&protoVer, "proto-version", "1.3", "Protocol version reported by the device (major.minor)")
	f.StringArrayVar(&networks, "network", nil, "Scan list entry SSID:RSSI (repeatable; default is a built-in list)")
	f.IntVar(&frameLimit, "frame-limit", protocol.DefaultPackageLength, "Largest frame the device writes")
	f.DurationVar(&scanDelay, "scan-delay", 0, "How long a Wi-Fi scan takes")
	f.IntVar(&keySplit, "key-split", 1, "Send the device public key in this many messages")
	f.BoolVar(&silent, "silent", false, "Ignore key negotiation")
	f.BoolVar(&failScan, "fail-scan", false, "Answer scans with a wifi-scan error")

	rootCmd.AddCommand(versionCmd)
}

func runEmulator(cmd *cobra.Command, args []string) error {
	if (certPath != "") != (keyPath != "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither (will auto-generate)")
	}
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	defer logging.Sync()

	dev, err := deviceConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(&server.Config{
		Host:      host,
		Port:      port,
		Path:      path,
		MTU:       mtu,
		TLS:       useTLS || certPath != "",
		CertPath:  certPath,
		KeyPath:   keyPath,
		Device:    dev,
		Advertise: advertise,
	}, logging.Named("emulator"))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	fmt.Printf("Emulated device at %s\n", srv.URL())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx); err != nil {
		logging.Error("Server stopped", zap.Error(err))
		return err
	}
	return nil
}

func deviceConfig() (emulator.Config, error) {
	cfg := emulator.DefaultConfig()
	v, err := parseVersion(protoVer)
	if err != nil {
		return cfg, err
	}
	cfg.Version = v
	if len(networks) > 0 {
		entries, err := parseNetworks(networks)
		if err != nil {
			return cfg, err
		}
		cfg.Networks = entries
	}
	cfg.FrameLimit = frameLimit
	cfg.ScanDelay = scanDelay
	cfg.KeySplit = keySplit
	cfg.Silent = silent
	cfg.FailScan = failScan
	return cfg, nil
}

// parseVersion parses "major.minor".
func parseVersion(s string) (protocol.Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return protocol.Version{}, fmt.Errorf("invalid version %q: want major.minor", s)
	}
	ma, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return protocol.Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	mi, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return protocol.Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return protocol.Version{Major: uint8(ma), Minor: uint8(mi)}, nil
}

// parseNetworks parses SSID:RSSI entries. The SSID may itself contain
// colons; the RSSI is taken after the last one.
func parseNetworks(specs []string) ([]protocol.ScanEntry, error) {
	entries := make([]protocol.ScanEntry, 0, len(specs))
	for _, spec := range specs {
		i := strings.LastIndex(spec, ":")
		if i <= 0 {
			return nil, fmt.Errorf("invalid network %q: want SSID:RSSI", spec)
		}
		rssi, err := strconv.ParseInt(spec[i+1:], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", spec, err)
		}
		ssid := spec[:i]
		if len(ssid) > 32 {
			return nil, fmt.Errorf("invalid network %q: SSID longer than 32 bytes", spec)
		}
		entries = append(entries, protocol.ScanEntry{SSID: ssid, RSSI: int8(rssi)})
	}
	return entries, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("blufi-emulator %s\n", version.Full())
	},
}
