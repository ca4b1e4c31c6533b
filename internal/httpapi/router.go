// Package httpapi is the HTTP surface of the server: health and stats
// endpoints, the WebSocket upgrade and community membership management.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"imhub/internal/auth"
	"imhub/internal/im"
	"imhub/internal/transport/websocket"
)

type Deps struct {
	Hub            *im.Hub
	Tokens         *auth.TokenService
	Membership     MembershipService
	MaxMessageSize int64
	Logger         *slog.Logger
}

// NewRouter builds the gin engine. Authenticated routes accept the token as
// a bearer header or a token query parameter.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"online": d.Hub.Online()})
	})

	authed := r.Group("/", auth.Middleware(d.Tokens))
	authed.GET("/chat", websocket.Handler(d.Hub, d.MaxMessageSize, d.Logger))

	communities := NewCommunityHandler(d.Membership)
	communities.RegisterRoutes(authed.Group("/communities"))

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}
