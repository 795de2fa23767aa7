// Blufi provisions Wi-Fi credentials onto ESP32 devices over the BLUFI
// protocol.
//
// It talks to devices directly over Bluetooth LE, or through a WebSocket
// gateway when the host has no usable adapter. blufi-emulator serves such a
// gateway with an emulated device behind it.
//
// Usage:
//
//	blufi [command] [flags]
//
// See 'blufi --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/blufi/internal/config"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/urls"
	"github.com/muurk/blufi/internal/version"
)

// errReported is returned by commands that already rendered a failure box.
var errReported = errors.New("failure reported")

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// Global flags
var opts struct {
	device         string
	url            string
	transport      string
	adapter        string
	logLevel       string
	configPath     string
	capture        string
	frameLimit     int
	requireAck     bool
	plain          bool
	insecure       bool
	connectTimeout time.Duration
}

// registry is loaded before every command runs.
var registry *config.Registry

var rootCmd = &cobra.Command{
	Use:   "blufi",
	Short: "BLUFI Wi-Fi provisioning client",
	Long: `A command line client for the BLUFI provisioning protocol.

Connects to a device over Bluetooth LE (or a WebSocket gateway), negotiates
a session key and sends Wi-Fi credentials, operating mode changes and custom
data. Devices can be remembered by name with 'blufi config add'.

Protocol reference: ` + urls.BlufiGuide,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.device, "device", "d", "", "Remembered device name, BLE name or address, or ws:// URL")
	pf.StringVar(&opts.url, "url", "", "WebSocket gateway URL (ws://host:port/blufi)")
	pf.StringVar(&opts.transport, "transport", "", "Transport for --device when not remembered (ble, ws)")
	pf.StringVar(&opts.adapter, "adapter", "", "BLE adapter ID, e.g. hci1 (Linux only)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); empty is silent")
	pf.StringVar(&opts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/blufi/config.yaml)")
	pf.StringVar(&opts.capture, "capture", "", "Append every raw frame to this trace file")
	pf.IntVar(&opts.frameLimit, "frame-limit", 0, "Override the per-write package length")
	pf.BoolVar(&opts.requireAck, "require-ack", false, "Ask the device to acknowledge every frame")
	pf.BoolVar(&opts.plain, "plain", false, "Skip key negotiation and send frames in the clear")
	pf.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification for wss:// gateways")
	pf.DurationVar(&opts.connectTimeout, "connect-timeout", 15*time.Second, "Time allowed to find and connect to the device")

	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	reg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	registry = reg

	level := opts.logLevel
	if level == "" {
		level = registry.Preferences.LogLevel
	}
	return logging.Initialize(level)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("blufi %s\n", version.Full())
	},
}
