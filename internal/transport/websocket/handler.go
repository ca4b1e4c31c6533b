package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"imhub/internal/auth"
	"imhub/internal/im"
)

// HTTP upgrade handler to WebSocket connections

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// browser clients connect from arbitrary origins; the token gates access
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades an authenticated request and serves it as a chat session
// until the socket closes. It must run behind auth.Middleware.
func Handler(hub *im.Hub, maxMessageSize int64, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		userID, ok := auth.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: user ID not found"})
			return
		}

		// Upgrade has already replied to the client on failure
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket_upgrade_failed",
				"user_id", userID,
				"error", err,
			)
			return
		}

		conn := NewConn(ws, maxMessageSize)
		if err := hub.Serve(c.Request.Context(), userID, conn); err != nil {
			logger.Debug("websocket_session_ended",
				"user_id", userID,
				"remote_addr", conn.RemoteAddr(),
				"error", err,
			)
		}
	}
}
