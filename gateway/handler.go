package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/plateful/plateful/channel"
)

// maxClientMessageSize bounds inbound client frames. Subscribe messages are
// tiny; anything larger is abuse.
const maxClientMessageSize = 4 * 1024

// Handler upgrades websocket connections and runs the per-connection read
// loop, dispatching tagged client messages into the registry.
type Handler struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler over the registry.
func NewHandler(registry *Registry, logger *slog.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.New().String()
	conn := newWSConn(ws)
	h.registry.AddConnection(connID, conn)
	h.logger.Debug("connection opened", "conn_id", connID, "remote", r.RemoteAddr)

	defer func() {
		conn.markClosed()
		h.registry.RemoveConnection(connID)
		_ = ws.Close()
		h.logger.Debug("connection closed", "conn_id", connID)
	}()

	ws.SetReadLimit(maxClientMessageSize)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read error", "conn_id", connID, "error", err)
			}
			return
		}
		h.dispatch(connID, conn, data)
	}
}

// dispatch routes one inbound client message by its type tag. A malformed
// message yields a single error reply and leaves the connection's existing
// subscriptions untouched.
func (h *Handler) dispatch(connID string, conn *wsConn, data []byte) {
	var msg channel.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.protocolError("client", connID, "invalid JSON")
		h.reply(conn, channel.ServerMessage{Type: channel.TypeError, Message: "Invalid message format"})
		return
	}

	switch msg.Type {
	case channel.TypePing:
		h.reply(conn, channel.ServerMessage{Type: channel.TypePong})

	case channel.TypeSubscribeUser:
		if msg.UserID == "" {
			h.protocolError("client", connID, "subscribe.user without userId")
			h.reply(conn, channel.ServerMessage{Type: channel.TypeError, Message: "Invalid message format"})
			return
		}
		h.registry.SubscribeUser(connID, msg.UserID)

	case channel.TypeSubscribeJob:
		if msg.JobID == "" {
			h.protocolError("client", connID, "subscribe.job without jobId")
			h.reply(conn, channel.ServerMessage{Type: channel.TypeError, Message: "Invalid message format"})
			return
		}
		h.registry.SubscribeJob(connID, msg.JobID)

	case channel.TypeUnsubscribeUser:
		h.registry.UnsubscribeUser(connID, msg.UserID)

	case channel.TypeUnsubscribeJob:
		h.registry.UnsubscribeJob(connID, msg.JobID)

	default:
		h.protocolError("client", connID, "unknown message type")
		h.reply(conn, channel.ServerMessage{Type: channel.TypeError, Message: "Invalid message format"})
	}
}

func (h *Handler) reply(conn *wsConn, msg channel.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal reply", "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		h.logger.Debug("reply write failed", "error", err)
	}
}

func (h *Handler) protocolError(source, connID, reason string) {
	h.logger.Warn("protocol error", "source", source, "conn_id", connID, "reason", reason)
	if h.metrics != nil {
		h.metrics.protocolErrors.WithLabelValues(source).Inc()
	}
}
