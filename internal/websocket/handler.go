package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mindlink/internal/auth"
	"mindlink/internal/instrument"
	"mindlink/internal/logging"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// Config holds the heartbeat and buffering settings of every connection.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	AllowedOrigins []string
}

// DefaultConfig uses a 30s heartbeat and a 100-frame write buffer.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler authenticates the handshake, upgrades, and pumps frames into the
// dispatcher until the socket closes.
type Handler struct {
	auth       *auth.Authenticator
	dispatcher interfaces.EventDispatcher
	config     Config
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	metrics    *instrument.Metrics

	mu    sync.Mutex
	conns map[string]*Connection
	wg    sync.WaitGroup
}

// NewHandler wires authentication and dispatch for the /ws endpoint.
func NewHandler(authenticator *auth.Authenticator, dispatcher interfaces.EventDispatcher, config Config,
	logger *zap.Logger, metrics *instrument.Metrics) *Handler {
	h := &Handler{
		auth:       authenticator,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.Named("websocket"),
		metrics:    metrics,
		conns:      make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin unless an allow-list is configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket rejects unauthenticated handshakes with 401 before upgrading.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.AuthenticateHandshake(r)
	if err != nil {
		h.metrics.AuthFailures.WithLabelValues(failureReason(err)).Inc()
		auth.WriteUnauthorized(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", identity.ID), zap.Error(err))
		return
	}

	conn := NewConnection(ws, identity, h.config.BufferSize, h.config.WriteTimeout)
	h.track(conn)
	h.metrics.ConnectionsTotal.WithLabelValues(string(identity.Role)).Inc()
	h.metrics.ConnectionsActive.Inc()
	h.logger.Info("connection opened", logging.Connection(conn.ID(), identity.ID, string(identity.Role))...)

	h.wg.Add(1)
	go h.handleConnection(conn)
}

func (h *Handler) handleConnection(conn *Connection) {
	identity := conn.Identity()
	fields := logging.Connection(conn.ID(), identity.ID, string(identity.Role))
	ctx := context.Background()

	defer func() {
		h.dispatcher.Disconnect(ctx, conn)
		_ = conn.Close()
		h.untrack(conn)
		h.metrics.ConnectionsActive.Dec()
		h.logger.Info("connection closed", fields...)
		h.wg.Done()
	}()

	ws := conn.conn
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", append(fields, zap.Error(err))...)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})
	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", append(fields, zap.Error(err))...)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			_ = conn.Emit(types.EventError, map[string]string{"message": ErrMalformedFrame.Error()})
			continue
		}
		h.dispatcher.Dispatch(ctx, conn, frame.Event, frame.Data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) track(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.ID())
}

// ActiveConnections returns the number of open sockets.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open socket and waits for their read pumps to run
// the disconnect hooks, or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}

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

func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "missing_token"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	default:
		return "failed"
	}
}
