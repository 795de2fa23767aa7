// Package transport defines the link a BLUFI session runs over and provides
// an in-memory implementation for tests and the device emulator.
//
// Implementations live in subpackages: ble talks to a device over GATT and
// wsbridge carries frames over a WebSocket to a BLE gateway or emulator.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedPlatform is returned when the host has no usable radio
	// stack for the requested transport.
	ErrUnsupportedPlatform = errors.New("transport not supported on this platform")

	// ErrNotConnected is returned by operations on a closed transport.
	ErrNotConnected = errors.New("transport not connected")

	// ErrMTUUnavailable is returned by MTU when the link cannot report one.
	ErrMTUUnavailable = errors.New("mtu not available")
)

// Transport is a connected, frame-oriented link to a device.
//
// Write must return only after the link has accepted the frame or failed.
// Notifications are delivered to the subscribed function on a goroutine owned
// by the transport, concurrently with Write callers.
type Transport interface {
	Write(ctx context.Context, frame []byte) error
	Subscribe(fn func([]byte)) error
	Unsubscribe() error
	MTU() (int, error)
	Close() error
}

// Dialer opens a Transport to a device identified by a transport-specific
// string (BLE name or address, WebSocket URL).
type Dialer interface {
	Dial(ctx context.Context, id string) (Transport, error)
}
