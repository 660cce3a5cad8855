package event

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/utils"
)

const (
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

// Authenticator resolves an access token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// WSHandler upgrades authenticated requests to live event channels.
type WSHandler struct {
	auth     Authenticator
	registry *Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a WebSocket handler that registers channels on registry.
func NewWSHandler(auth Authenticator, registry *Registry) *WSHandler {
	return &WSHandler{
		auth:     auth,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: utils.GetLogger(),
	}
}

// Handle is the Gin handler for WebSocket connections.
// Query params:
//   - token: access token (or an Authorization: Bearer header)
//   - client_id: stable id of the client instance; a reconnect with the same
//     id supersedes the previous channel
//
// Example: /api/events/ws?token=...&client_id=tui-1
func (h *WSHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	userID, err := h.auth.Authenticate(strings.TrimSpace(token))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	ch := NewChannel(DefaultOutboxSize)
	epoch := h.registry.Register(userID, clientID, ch)
	defer h.registry.Unregister(ch)
	logger := h.logger.With("user_id", userID, "client_id", clientID, "epoch", epoch)
	logger.Info("Channel connected")

	// Reader goroutine: answers envelope pings and keeps the read deadline fresh
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(readLimit)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			env, err := envelope.Decode(raw)
			if err != nil {
				logger.Warn("Discarding malformed client frame", "error", err)
				continue
			}
			if env.Type == envelope.TypePing && !ch.Send(envelope.Pong()) {
				logger.Warn("Outbox full, pong dropped")
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-readerDone:
			logger.Info("Channel disconnected")
			return
		case <-ch.Done():
			logger.Info("Channel closed by registry")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.dropChannel(logger, ch, err)
				return
			}
		case env := <-ch.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, envelope.Encode(env)); err != nil {
				h.dropChannel(logger, ch, err)
				return
			}
		}
	}
}

func (h *WSHandler) dropChannel(logger *slog.Logger, ch *Channel, err error) {
	removed := h.registry.Unregister(ch)
	logger.Warn("Channel write failed, unregistering", "removed", removed, "error", err)
}
