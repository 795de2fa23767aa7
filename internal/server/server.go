package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/muurk/blufi/internal/discovery"
	"github.com/muurk/blufi/internal/emulator"
	"github.com/muurk/blufi/internal/transport"
	"github.com/muurk/blufi/internal/transport/wsbridge"
	"go.uber.org/zap"
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int

	// Path is the WebSocket endpoint (default /blufi)
	Path string

	// MTU is advertised to clients in the upgrade response and over mDNS
	MTU int

	// TLS serves wss://. CertPath and KeyPath select a certificate; when
	// empty a self-signed one is generated in memory.
	TLS      bool
	CertPath string
	KeyPath  string

	// Device configures the emulated device behind every connection
	Device emulator.Config

	// Advertise is the mDNS instance name; empty disables advertising
	Advertise string
}

// Server accepts WebSocket clients and attaches a fresh emulated device to
// each connection.
type Server struct {
	config    *Config
	log       *zap.Logger
	tlsConfig *tls.Config
	http      *http.Server
	listener  net.Listener
	advert    *discovery.Advertisement

	wg       sync.WaitGroup
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	device *emulator.Device
	link   transport.Transport
}

// New creates a new Server instance. log may be nil.
func New(config *Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if config.Path == "" {
		config.Path = wsbridge.DefaultPath
	}

	s := &Server{
		config:   config,
		log:      log,
		sessions: make(map[string]*session),
	}

	if config.TLS {
		var err error
		if config.CertPath != "" {
			s.tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		} else {
			log.Info("Generating self-signed certificate")
			var certPEM, keyPEM []byte
			certPEM, keyPEM, err = GenerateSelfSigned([]string{"localhost", "127.0.0.1", config.Host}, DefaultCertValidity)
			if err == nil {
				s.tlsConfig, err = NewTLSConfigFromMemory(certPEM, keyPEM)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		log.Info("TLS configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}
	return s, nil
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, &wsbridge.Handler{
		MTU:    s.config.MTU,
		Attach: s.attach,
		Logger: s.log,
	})
	return mux
}

// attach wires a new emulated device to an accepted connection
func (s *Server) attach(remote string, t transport.Transport) error {
	dev := emulator.New(s.config.Device, s.log.With(zap.String("remote", remote)))
	if err := dev.Attach(t); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[remote] = &session{device: dev, link: t}
	s.mu.Unlock()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		if c, ok := t.(interface{ Done() <-chan struct{} }); ok {
			<-c.Done()
		}
		s.mu.Lock()
		delete(s.sessions, remote)
		s.mu.Unlock()
		s.log.Info("Device session ended", zap.String("remote", remote), zap.Stringer("stats", dev.Stats()))
	}()
	return nil
}

// Listen binds the listening socket. Addr is valid afterwards.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	var (
		ln  net.Listener
		err error
	)
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the WebSocket URL clients should dial.
func (s *Server) URL() string {
	scheme := "ws"
	if s.tlsConfig != nil {
		scheme = "wss"
	}
	host := "127.0.0.1"
	port := s.config.Port
	if a, ok := s.Addr().(*net.TCPAddr); ok {
		port = a.Port
		if !a.IP.IsUnspecified() {
			host = a.IP.String()
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, fmt.Sprintf("%d", port)), s.config.Path)
}

// Serve accepts connections until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.config.Advertise != "" {
		port := s.config.Port
		if a, ok := s.Addr().(*net.TCPAddr); ok {
			port = a.Port
		}
		adv, err := discovery.Advertise(s.config.Advertise, port,
			discovery.TXTRecords(s.config.Path, s.config.MTU, s.tlsConfig != nil))
		if err != nil {
			s.log.Warn("mDNS advertising disabled", zap.Error(err))
		} else {
			s.advert = adv
			s.log.Info("Advertising over mDNS", zap.String("instance", s.config.Advertise))
		}
	}

	s.log.Info("Emulator listening",
		zap.String("url", s.URL()),
		zap.Int("mtu", s.config.MTU),
		zap.String("version", s.config.Device.Version.String()),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested, stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.advert.Shutdown()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	} else if s.listener != nil {
		err = s.listener.Close()
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	s.mu.Lock()
	for remote, sess := range s.sessions {
		s.log.Info("Closing active connection", zap.String("remote", remote))
		_ = sess.link.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("All sessions closed")
	case <-ctx.Done():
		s.log.Warn("Shutdown timeout, abandoning open sessions", zap.Int("open", s.GetActiveConnections()))
	}
	return err
}

// GetActiveConnections returns the number of connected clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Devices returns the emulated devices of current connections.
func (s *Server) Devices() []*emulator.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*emulator.Device, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.device)
	}
	return out
}
