package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/blufi/internal/config"
	"github.com/muurk/blufi/internal/ui"
)

var addDevice config.Device

func init() {
	configAddCmd.Flags().StringVar(&addDevice.Transport, "transport", config.TransportBLE, "Transport (ble, ws)")
	configAddCmd.Flags().StringVar(&addDevice.Address, "address", "", "BLE local name or address")
	configAddCmd.Flags().StringVar(&addDevice.URL, "url", "", "WebSocket gateway URL for the ws transport")
	configAddCmd.Flags().IntVar(&addDevice.FrameLimit, "frame-limit", 0, "Package length override")
	configAddCmd.Flags().BoolVar(&addDevice.RequireAck, "require-ack", false, "Ask the device to ack every frame")

	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configAddCmd)
	configCmd.AddCommand(configRemoveCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage remembered devices",
	Long: `Manage the devices remembered in the config file.

A remembered device can be selected with --device NAME. Passwords are never
stored.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := registry.DeviceNames()
		if len(names) == 0 {
			fmt.Println("No devices remembered. Add one with 'blufi config add NAME --address ADDR'.")
			return nil
		}
		tbl := ui.NewTable("NAME", "TRANSPORT", "TARGET", "FRAME LIMIT", "ACK", "LAST SEEN", "VERSION")
		for _, name := range names {
			d := registry.GetDevice(name)
			limit := "-"
			if d.FrameLimit > 0 {
				limit = strconv.Itoa(d.FrameLimit)
			}
			seen := "never"
			if !d.LastSeen.IsZero() {
				seen = d.LastSeen.Format("2006-01-02 15:04")
			}
			tbl.AddRow(name, d.Transport, d.Target(), limit, strconv.FormatBool(d.RequireAck), seen, d.LastVersion)
		}
		fmt.Println(tbl.Render())
		return nil
	},
}

var configAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Remember a device",
	Example: `  blufi config add kitchen --address BLUFI_DEVICE
  blufi config add lab --transport ws --url ws://10.0.0.5:8080/blufi`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := addDevice
		if err := registry.SetDevice(args[0], &d); err != nil {
			return err
		}
		if err := registry.Save(); err != nil {
			return err
		}
		fmt.Println(ui.NewSuccessResult("Device saved").
			AddDetail("Name", args[0]).
			AddDetail("Target", d.Target()).
			AddDetail("Config", registry.Path()).
			Render())
		return nil
	},
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Forget a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !registry.RemoveDevice(args[0]) {
			return fmt.Errorf("no device named %q", args[0])
		}
		if err := registry.Save(); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(registry.Path())
	},
}
