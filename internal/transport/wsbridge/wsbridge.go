// Package wsbridge carries BLUFI frames over a WebSocket, one frame per
// binary message. It is used to reach devices through a BLE gateway on
// another host and to talk to the device emulator.
package wsbridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/blufi/internal/transport"
	"github.com/muurk/blufi/internal/version"
	"go.uber.org/zap"
)

const (
	// DefaultPath is the endpoint path served by gateways and the emulator.
	DefaultPath = "/blufi"

	// MTUHeader carries the link MTU in the upgrade response.
	MTUHeader = "X-Blufi-Mtu"

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Dialer opens WebSocket connections to gateways.
type Dialer struct {
	// HandshakeTimeout bounds the HTTP upgrade. Zero uses 10s.
	HandshakeTimeout time.Duration

	// TLSConfig is used for wss:// URLs; nil uses the system roots.
	TLSConfig *tls.Config

	Logger *zap.Logger
}

// Dial connects to url (ws://host:port/blufi).
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Transport, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  d.TLSConfig,
	}
	header := http.Header{"User-Agent": []string{version.UserAgent()}}
	ws, resp, err := wd.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	mtu := 0
	if v := resp.Header.Get(MTUHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			mtu = n
		} else {
			log.Warn("Ignoring invalid MTU header", zap.String("value", v))
		}
	}

	log.Info("Connected to gateway", zap.String("url", url), zap.Int("mtu", mtu))
	return NewConn(ws, mtu, log), nil
}

// Conn adapts a WebSocket connection to transport.Transport. It is used on
// both ends: by the client after Dial and by the emulator after Upgrade.
type Conn struct {
	ws  *websocket.Conn
	mtu int
	log *zap.Logger

	writeMu sync.Mutex

	mu sync.RWMutex
	fn func([]byte)

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewConn wraps ws and starts reading. mtu is reported by MTU; zero means
// unknown.
func NewConn(ws *websocket.Conn, mtu int, log *zap.Logger) *Conn {
	c := newConn(ws, mtu, log)
	go c.readLoop()
	return c
}

func newConn(ws *websocket.Conn, mtu int, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		ws:   ws,
		mtu:  mtu,
		log:  log,
		done: make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	return c
}

func (c *Conn) readLoop() {
	defer c.shutdown(nil)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("WebSocket closed by peer")
			} else {
				c.log.Debug("WebSocket read ended", zap.Error(err))
			}
			c.shutdown(err)
			return
		}
		if mt != websocket.BinaryMessage {
			c.log.Debug("Ignoring non-binary message", zap.Int("type", mt))
			continue
		}

		c.mu.RLock()
		fn := c.fn
		c.mu.RUnlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.ws.Close()
	})
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Write sends frame as one binary message.
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return transport.ErrNotConnected
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return transport.ErrNotConnected
		}
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// Subscribe installs the handler for inbound frames.
func (c *Conn) Subscribe(fn func([]byte)) error {
	select {
	case <-c.done:
		return transport.ErrNotConnected
	default:
	}
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops inbound frames until the next Subscribe.
func (c *Conn) Unsubscribe() error {
	c.mu.Lock()
	c.fn = nil
	c.mu.Unlock()
	return nil
}

// MTU returns the MTU advertised by the gateway.
func (c *Conn) MTU() (int, error) {
	if c.mtu <= 0 {
		return 0, transport.ErrMTUUnavailable
	}
	return c.mtu, nil
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}
