package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"dronelab/internal/config"
	"dronelab/internal/metrics"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

// FrameHandler receives inbound frames and close notifications.
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn interfaces.Connection, frame []byte)
	HandleClose(ctx context.Context, conn interfaces.Connection)
}

// Authenticator resolves the instructor id from a handshake request.
type Authenticator interface {
	Enabled() bool
	Authenticate(r *http.Request) (string, error)
}

// Handler upgrades HTTP requests to sockets, one endpoint per role, and
// runs each socket's read pump.
type Handler struct {
	cfg      *config.WebSocketConfig
	frames   FrameHandler
	auth     Authenticator
	upgrader websocket.Upgrader
	conns    map[string]*Connection
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewHandler creates a socket handler. auth may be nil.
func NewHandler(cfg *config.WebSocketConfig, frames FrameHandler, auth Authenticator) *Handler {
	return &Handler{
		cfg:    cfg,
		frames: frames,
		auth:   auth,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[string]*Connection),
	}
}

// ServeStudent accepts participant sockets. Identity is declared later in
// the joinLecture frame.
func (h *Handler) ServeStudent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, types.RoleStudent, "")
}

// ServeInstructor accepts supervisor sockets, checking the token when auth
// is enabled.
func (h *Handler) ServeInstructor(w http.ResponseWriter, r *http.Request) {
	principal := ""
	if h.auth != nil && h.auth.Enabled() {
		sub, err := h.auth.Authenticate(r)
		if err != nil {
			log.Warn().Str("module", "websocket").Str("remote", r.RemoteAddr).Err(err).Msg("instructor handshake rejected")
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		principal = sub
	}
	h.serve(w, r, types.RoleInstructor, principal)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, role, principal string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "websocket").Str("role", role).Err(err).Msg("upgrade failed")
		return
	}

	conn := NewConnection(ws, role, principal, h.cfg.BufferSize, h.cfg.WriteTimeout, h.cfg.PingInterval)

	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(role).Inc()
	metrics.TotalConnections.WithLabelValues(role).Inc()
	log.Info().Str("module", "websocket").Str("conn", conn.ID()).Str("role", role).Str("remote", r.RemoteAddr).Msg("socket connected")

	h.wg.Add(1)
	go h.readPump(conn)
}

func (h *Handler) readPump(conn *Connection) {
	defer h.wg.Done()
	defer func() {
		_ = conn.Close()
		h.frames.HandleClose(context.Background(), conn)

		h.mu.Lock()
		delete(h.conns, conn.ID())
		h.mu.Unlock()

		metrics.ActiveConnections.WithLabelValues(conn.Role()).Dec()
		log.Info().Str("module", "websocket").Str("conn", conn.ID()).Str("role", conn.Role()).Msg("socket closed")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "websocket").Str("conn", conn.ID()).Err(err).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return
		}
		h.frames.HandleFrame(conn.Context(), conn, data)
	}
}

// ActiveConnections returns the number of open sockets.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open socket and waits for their read pumps to
// finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for _, c := range h.conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
