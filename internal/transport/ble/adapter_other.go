//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// Adapter selection by ID is a BlueZ feature; other platforms have one.
func selectAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
