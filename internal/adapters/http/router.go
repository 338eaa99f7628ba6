package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/adapters/signal"
	"github.com/avoran/classcast/internal/config"
	"github.com/avoran/classcast/internal/hub"
)

// ClientTokenMiddleware gives every browser a stable token cookie. The token
// is not the connection id (that changes on every reconnect); it only lets
// the surrounding application correlate visits.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *hub.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ClasscastSessions", store))
	r.Use(ClientTokenMiddleware())

	// Health endpoints; deployment targets probe these.
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"service":           "signaling-server",
			"rooms":             reg.RoomCount(),
			"activeConnections": reg.ConnCount(),
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
		})
	}
	r.GET("/", health)
	r.GET("/health", health)

	ctrl := signal.NewController(reg, cfg)
	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
