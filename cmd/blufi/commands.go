package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/blufi/internal/blufi"
	"github.com/muurk/blufi/internal/discovery"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/transport/ble"
	"github.com/muurk/blufi/internal/ui"
)

// Command flags
var (
	bleScanTime  time.Duration
	mdnsScanTime time.Duration
	wifiTimeout  time.Duration
	ssidFlag     string
	passwordFlag string
	waitConnect  time.Duration
	customHex    bool
	customWait   time.Duration
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(gatewaysCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(wifiScanCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(customCmd)
	rootCmd.AddCommand(disconnectCmd)
}

// devicesCmd lists advertising BLE devices
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Scan for BLE devices",
	Long: `Scan for advertising Bluetooth LE devices.

Devices that advertise the BLUFI service are marked. Many firmwares do not
advertise the service UUID, so unmarked devices may still speak BLUFI.`,
	Example: `  # Scan for 10 seconds (default)
  blufi devices

  # Quick scan on a second adapter
  blufi devices --scan-time 3s --adapter hci1`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().DurationVar(&bleScanTime, "scan-time", ble.DefaultScanTimeout, "How long to scan")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	ctx, cancelScan := context.WithTimeout(ctx, bleScanTime)
	defer cancelScan()

	fmt.Printf("Scanning for BLE devices (%s)...\n\n", bleScanTime)
	d := &ble.Dialer{AdapterID: adapterID(), Logger: logging.Named("ble")}
	found, err := d.Scan(ctx)
	if err != nil {
		return fail("BLE scan", blufi.Classify(err))
	}

	if len(found) == 0 {
		fmt.Println("No devices found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the device is powered on and in provisioning mode")
		fmt.Println("  - Disconnect any phone app that holds the BLE link")
		fmt.Println("  - Try increasing --scan-time")
		return nil
	}

	tbl := ui.NewTable("NAME", "ADDRESS", "RSSI", "BLUFI")
	for _, a := range found {
		marker := ""
		if a.BLUFI {
			marker = ui.SuccessMarker
		}
		tbl.AddRow(a.Name, a.Address, strconv.Itoa(int(a.RSSI)), marker)
	}
	fmt.Println(tbl.Render())
	fmt.Printf("\nFound %d device(s). Use 'blufi info --device <name|address>' to query one.\n", len(found))
	return nil
}

// gatewaysCmd browses mDNS for WebSocket gateways
var gatewaysCmd = &cobra.Command{
	Use:   "gateways",
	Short: "Discover WebSocket gateways on the network",
	Long: `Browse mDNS for BLUFI WebSocket gateways (_blufi._tcp).

Gateways relay BLUFI frames to a device near another host. blufi-emulator
advertises itself this way when started with --advertise.`,
	Example: `  blufi gateways
  blufi gateways --scan-time 2s`,
	RunE: runGateways,
}

func init() {
	gatewaysCmd.Flags().DurationVar(&mdnsScanTime, "scan-time", discovery.DefaultScanTimeout, "How long to browse")
}

func runGateways(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	fmt.Printf("Browsing for gateways (%s)...\n\n", mdnsScanTime)
	scanner := discovery.NewScanner()
	scanner.Timeout = mdnsScanTime
	gateways, err := scanner.ScanForGateways(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if len(gateways) == 0 {
		fmt.Println("No gateways found.")
		return nil
	}

	tbl := ui.NewTable("INSTANCE", "URL", "MTU")
	for _, g := range gateways {
		mtu := "-"
		if g.MTU > 0 {
			mtu = strconv.Itoa(g.MTU)
		}
		tbl.AddRow(g.Instance, g.URL(), mtu)
	}
	fmt.Println(tbl.Render())
	fmt.Println("\nUse 'blufi info --url <url>' to talk to the device behind a gateway.")
	return nil
}

// infoCmd reports version and Wi-Fi state
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device protocol version and Wi-Fi state",
	Example: `  blufi info --device BLUFI_DEVICE
  blufi info --url ws://127.0.0.1:8080/blufi`,
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("device info", "blufi info")

	v, err := s.RequestVersion(ctx)
	if err != nil {
		return fail("Version request", err)
	}
	st, err := s.RequestDeviceStatus(ctx)
	if err != nil {
		return fail("Status request", err)
	}
	s.remember(v.String())

	r := ui.NewSuccessResult("Device info").AddDetail("Protocol version", v.String())
	addWifiState(r, st)
	fmt.Println(r.Render())
	return nil
}

// statusCmd reports Wi-Fi state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device's Wi-Fi connection state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("wifi status", "blufi status")

	st, err := s.RequestDeviceStatus(ctx)
	if err != nil {
		return fail("Status request", err)
	}
	s.remember("")

	r := ui.NewSuccessResult("Wi-Fi state")
	addWifiState(r, st)
	fmt.Println(r.Render())
	return nil
}

func addWifiState(r *ui.Result, st protocol.WifiState) {
	sta := "not connected"
	if st.StaConnected() {
		sta = "connected"
	}
	r.AddDetail("Op mode", st.OpMode.String()).
		AddDetail("Station", sta).
		AddDetail("SoftAP clients", strconv.Itoa(int(st.SoftAPConn)))
	if len(st.Extra) > 0 {
		r.AddDetail("Extra", logging.HexDump(st.Extra))
	}
}

// wifiScanCmd asks the device to scan for access points
var wifiScanCmd = &cobra.Command{
	Use:   "wifi-scan",
	Short: "List access points seen by the device",
	Example: `  blufi wifi-scan --device BLUFI_DEVICE
  blufi wifi-scan --device BLUFI_DEVICE --timeout 20s`,
	RunE: runWifiScan,
}

func init() {
	wifiScanCmd.Flags().DurationVar(&wifiTimeout, "timeout", 0, "Time to wait for the scan list (default from config, else 10s)")
}

func runWifiScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("wifi scan", "blufi wifi-scan")

	var entries []protocol.ScanEntry
	err = ui.Spin("Waiting for the device to scan", func() error {
		var err error
		entries, err = s.RequestDeviceScan(ctx, wifiTimeout)
		return err
	})
	if err != nil {
		return fail("Wi-Fi scan", err)
	}
	s.remember("")

	if len(entries) == 0 {
		fmt.Println(ui.NewWarningResult("The device found no access points").Render())
		return nil
	}
	tbl := ui.NewTable("SSID", "RSSI", "SIGNAL")
	for _, e := range entries {
		tbl.AddRow(e.SSID, strconv.Itoa(int(e.RSSI)), ui.SignalBars(e.RSSI))
	}
	fmt.Println(tbl.Render())
	return nil
}

// provisionCmd sends station credentials
var provisionCmd = &cobra.Command{
	Use:   "provision [ssid]",
	Short: "Send Wi-Fi credentials and connect the device",
	Long: `Send station credentials to the device and ask it to connect.

The password is prompted for without echo when --password is not given.
With --wait the device's Wi-Fi state is polled until the station connects.`,
	Example: `  # Prompt for the password
  blufi provision HomeNetwork --device BLUFI_DEVICE

  # Scripted, and wait for the connection
  blufi provision --ssid HomeNetwork --password hunter2hunter2 --wait 20s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&ssidFlag, "ssid", "", "Network SSID")
	provisionCmd.Flags().StringVar(&passwordFlag, "password", "", "Network password (prompted when omitted)")
	provisionCmd.Flags().DurationVar(&waitConnect, "wait", 0, "Poll Wi-Fi state until connected, up to this long")
}

func runProvision(cmd *cobra.Command, args []string) error {
	creds := blufi.Credentials{SSID: ssidFlag, Password: passwordFlag}
	if len(args) == 1 {
		creds.SSID = args[0]
	}
	if creds.SSID == "" {
		return fmt.Errorf("an SSID is required")
	}
	if !cmd.Flags().Changed("password") {
		pw, err := ui.ReadPassword(fmt.Sprintf("Password for %q: ", creds.SSID))
		if err != nil {
			return err
		}
		creds.Password = pw
	}
	if err := creds.Validate(); err != nil {
		return fail("Invalid credentials", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("provision", "blufi provision")

	if !s.Secured() && !ui.Confirm("The session is not encrypted. Send the password in the clear?") {
		return fmt.Errorf("aborted")
	}

	if err := s.PostStaWifiInfo(ctx, creds); err != nil {
		return fail("Provisioning", err)
	}
	s.remember("")

	r := ui.NewSuccessResult("Credentials sent").AddDetail("SSID", creds.SSID)
	if waitConnect > 0 {
		st, err := waitForStation(ctx, s, waitConnect)
		if err != nil {
			return fail("Provisioning", err)
		}
		addWifiState(r, st)
		if !st.StaConnected() {
			r = ui.NewWarningResult("Credentials sent, station not connected yet").AddDetail("SSID", creds.SSID)
			addWifiState(r, st)
		}
	}
	fmt.Println(r.Render())
	return nil
}

// waitForStation polls the device until its station interface connects or
// the wait runs out, returning the last state seen.
func waitForStation(ctx context.Context, s *session, wait time.Duration) (protocol.WifiState, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		st, err := s.RequestDeviceStatus(ctx)
		if err != nil && !blufi.IsTimeout(err) {
			return st, err
		}
		if err == nil && st.StaConnected() {
			return st, nil
		}
		if time.Now().After(deadline) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// modeCmd sets the device op mode
var modeCmd = &cobra.Command{
	Use:   "mode <null|sta|softap|sta+softap>",
	Short: "Set the device's Wi-Fi operating mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runMode,
}

func runMode(cmd *cobra.Command, args []string) error {
	mode, err := protocol.ParseOpMode(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("op mode", "blufi mode "+args[0])

	if err := s.PostDeviceMode(ctx, mode); err != nil {
		return fail("Set op mode", err)
	}
	s.remember("")
	fmt.Println(ui.NewSuccessResult("Op mode set").AddDetail("Mode", mode.String()).Render())
	return nil
}

// customCmd sends application data
var customCmd = &cobra.Command{
	Use:   "custom <data>",
	Short: "Send custom data to the device",
	Long: `Send an application-defined payload to the device and print any
custom data it sends back within --wait.`,
	Example: `  blufi custom 'hello'
  blufi custom --hex 01020304 --wait 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runCustom,
}

func init() {
	customCmd.Flags().BoolVar(&customHex, "hex", false, "Data is hex encoded")
	customCmd.Flags().DurationVar(&customWait, "wait", 2*time.Second, "How long to wait for a reply")
}

func runCustom(cmd *cobra.Command, args []string) error {
	data := []byte(args[0])
	if customHex {
		b, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("invalid hex data: %w", err)
		}
		data = b
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("custom data", "blufi custom")

	replies := make(chan []byte, 16)
	s.OnCustomData(func(b []byte) {
		select {
		case replies <- b:
		default:
		}
	})
	s.OnError(func(code protocol.ErrorCode) {
		fmt.Printf("%s device reported %s\n", ui.WarningMarker, code)
	})

	if err := s.PostCustomData(ctx, data); err != nil {
		return fail("Custom data", err)
	}
	s.remember("")

	r := ui.NewSuccessResult("Custom data sent").AddDetail("Length", strconv.Itoa(len(data)))
	timer := time.NewTimer(customWait)
	defer timer.Stop()
	n := 0
wait:
	for {
		select {
		case b := <-replies:
			n++
			r.AddDetail(fmt.Sprintf("Reply %d", n), fmt.Sprintf("%s  %s", logging.HexDump(b), logging.ASCIIDump(b)))
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	if n == 0 {
		r.AddDetail("Reply", "none")
	}
	fmt.Println(r.Render())
	return nil
}

// disconnectCmd asks the device to leave its AP
var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Ask the device to disconnect from its access point",
	RunE:  runDisconnect,
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()
	s.header("disconnect", "blufi disconnect")

	if err := s.RequestDisconnectWifi(ctx); err != nil {
		return fail("Disconnect", err)
	}
	if err := s.RequestCloseConnection(ctx); err != nil {
		logging.Debug("Close request failed", zap.Error(err))
	}
	fmt.Println(ui.NewSuccessResult("Disconnect requested").Render())
	return nil
}
