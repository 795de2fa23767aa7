// Package config provides user configuration management for blufi.
//
// This package manages a YAML file holding remembered devices (so that
// "blufi -d kitchen status" resolves a name to a transport and address) and
// preferences that override the session defaults.
//
// # Configuration File Location
//
//   - $BLUFI_CONFIG when set
//   - Linux: $XDG_CONFIG_HOME/blufi/config.yaml or $HOME/.config/blufi/config.yaml
//   - macOS: $HOME/.config/blufi/config.yaml
//   - Windows: %LOCALAPPDATA%\blufi\config.yaml
//
// # Example
//
//	version: 1
//	devices:
//	  kitchen:
//	    transport: ble
//	    address: BLUFI_DEVICE
//	  lab:
//	    transport: ws
//	    url: ws://lab-pi.local:8765/blufi
//	    frame_limit: 128
//	preferences:
//	  scan_timeout: 15s
//	  adapter_id: hci1
//
// # Security
//
// Wi-Fi passwords are never stored. They are always prompted for or passed
// on the command line.
package config
