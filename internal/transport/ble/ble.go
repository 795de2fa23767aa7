// Package ble implements transport.Transport over a BLE GATT connection
// using the BLUFI service (0xFFFF) with its write (0xFF01) and notify
// (0xFF02) characteristics.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/muurk/blufi/internal/transport"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// GATT identifiers of the BLUFI profile.
var (
	ServiceUUID = bluetooth.New16BitUUID(0xFFFF)
	WriteUUID   = bluetooth.New16BitUUID(0xFF01)
	NotifyUUID  = bluetooth.New16BitUUID(0xFF02)
)

// mtuOverhead is subtracted from the ATT MTU to get the usable payload of a
// single write: the 3-byte ATT header and one byte the firmware reserves.
const mtuOverhead = 4

// DefaultScanTimeout bounds a scan when the context has no deadline.
const DefaultScanTimeout = 10 * time.Second

// Dialer connects to BLUFI devices by advertised name or address.
type Dialer struct {
	// AdapterID selects a host adapter (for example "hci1"). Only honored
	// on Linux; empty uses the default adapter.
	AdapterID string

	// Timeout bounds the scan when the context has no deadline.
	Timeout time.Duration

	Logger *zap.Logger
}

// Conn is a connected BLUFI GATT link.
type Conn struct {
	device bluetooth.Device
	write  bluetooth.DeviceCharacteristic
	notify bluetooth.DeviceCharacteristic
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dialer) adapter() (*bluetooth.Adapter, error) {
	a := selectAdapter(d.AdapterID)
	if err := a.Enable(); err != nil {
		return nil, fmt.Errorf("%w: failed to enable bluetooth adapter: %v", transport.ErrUnsupportedPlatform, err)
	}
	return a, nil
}

// Dial scans for a device whose local name or address matches id, connects
// and resolves the BLUFI characteristics.
func (d *Dialer) Dial(ctx context.Context, id string) (transport.Transport, error) {
	log := d.logger()
	a, err := d.adapter()
	if err != nil {
		return nil, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	log.Info("Scanning for device", zap.String("id", id))
	var found *bluetooth.ScanResult
	err = scan(ctx, a, func(r bluetooth.ScanResult) bool {
		if matchDevice(id, r.LocalName(), r.Address.String()) {
			found = &r
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("device %q not found: %w", id, ctx.Err())
	}

	log.Info("Connecting",
		zap.String("address", found.Address.String()),
		zap.String("name", found.LocalName()),
		zap.Int16("rssi", found.RSSI),
	)
	device, err := connect(ctx, a, found.Address)
	if err != nil {
		return nil, err
	}

	conn, err := openConn(device, log)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func connect(ctx context.Context, a *bluetooth.Adapter, addr bluetooth.Address) (bluetooth.Device, error) {
	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := a.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{dev, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return bluetooth.Device{}, fmt.Errorf("failed to connect to %s: %w", addr.String(), r.err)
		}
		return r.device, nil
	case <-ctx.Done():
		// The connect goroutine cannot be interrupted; drop the device if it
		// shows up later.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return bluetooth.Device{}, fmt.Errorf("connect to %s: %w", addr.String(), ctx.Err())
	}
}

func openConn(device bluetooth.Device, log *zap.Logger) (*Conn, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{ServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover BLUFI service: %w", err)
	}
	if len(services) == 0 {
		return nil, errors.New("device does not expose the BLUFI service")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{WriteUUID, NotifyUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover BLUFI characteristics: %w", err)
	}

	c := &Conn{device: device, log: log}
	var haveWrite, haveNotify bool
	for _, ch := range chars {
		switch ch.UUID() {
		case WriteUUID:
			c.write, haveWrite = ch, true
		case NotifyUUID:
			c.notify, haveNotify = ch, true
		}
	}
	if !haveWrite || !haveNotify {
		return nil, fmt.Errorf("BLUFI service is missing characteristics (write=%v notify=%v)", haveWrite, haveNotify)
	}

	log.Info("BLUFI characteristics resolved")
	return c, nil
}

// Write sends one frame with a write request, so it returns only after the
// device has accepted it.
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrNotConnected
	}
	if _, err := c.write.Write(frame); err != nil {
		return fmt.Errorf("gatt write failed: %w", err)
	}
	return nil
}

// Subscribe enables notifications on the notify characteristic. The buffer
// handed to fn is a copy.
func (c *Conn) Subscribe(fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrNotConnected
	}
	return c.notify.EnableNotifications(func(buf []byte) {
		fn(append([]byte(nil), buf...))
	})
}

// Unsubscribe disables notifications.
func (c *Conn) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrNotConnected
	}
	return c.notify.EnableNotifications(nil)
}

// MTU returns the usable bytes per write.
func (c *Conn) MTU() (int, error) {
	mtu, err := c.write.GetMTU()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", transport.ErrMTUUnavailable, err)
	}
	return payloadMTU(int(mtu))
}

// Close disconnects from the device.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.device.Disconnect()
}

func payloadMTU(attMTU int) (int, error) {
	if attMTU <= mtuOverhead {
		return 0, transport.ErrMTUUnavailable
	}
	return attMTU - mtuOverhead, nil
}

// matchDevice reports whether an advertisement's name or address matches id.
// Addresses compare case-insensitively.
func matchDevice(id, name, address string) bool {
	if id == "" {
		return false
	}
	return id == name || strings.EqualFold(id, address)
}
