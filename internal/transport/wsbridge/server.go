package wsbridge

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/muurk/blufi/internal/transport"
	"go.uber.org/zap"
)

// Handler serves the device side of the bridge. Each accepted connection is
// passed to Attach as a transport; the handler returns when the connection
// closes.
type Handler struct {
	// MTU is advertised to clients in the upgrade response.
	MTU int

	// Attach wires a device to the new connection. Returning an error
	// closes it.
	Attach func(remote string, t transport.Transport) error

	Logger *zap.Logger

	upgrader websocket.Upgrader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	remote := r.RemoteAddr

	header := http.Header{}
	if h.MTU > 0 {
		header.Set(MTUHeader, strconv.Itoa(h.MTU))
	}
	ws, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Warn("WebSocket upgrade failed", zap.String("remote", remote), zap.Error(err))
		return
	}

	// Attach before reading so the first frame has somewhere to go.
	conn := newConn(ws, h.MTU, log.With(zap.String("remote", remote)))
	log.Info("Client connected", zap.String("remote", remote), zap.String("user_agent", r.UserAgent()))
	if err := h.Attach(remote, conn); err != nil {
		log.Error("Failed to attach device", zap.String("remote", remote), zap.Error(err))
		_ = conn.Close()
		return
	}
	go conn.readLoop()

	<-conn.Done()
	log.Info("Client disconnected", zap.String("remote", remote))
}
