package http

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/app"
	"github.com/dkeye/AvatarCall/internal/config"
	"github.com/dkeye/AvatarCall/internal/media"
)

const (
	sessionName    = "AvatarCallSessions"
	clientTokenKey = "client_token"
)

// CallService is the controller surface the routes drive.
type CallService interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	State() app.State
	Subscribe() (<-chan app.State, func())
}

type SinkLister interface {
	Snapshot() []media.SinkInfo
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "adapters.http").
			Str("ct", c.GetString(clientTokenKey)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func SetupRouter(cfg *config.Config, svc CallService, sinks SinkLister) *gin.Engine {
	if cfg.Mode == gin.ReleaseMode || cfg.Mode == gin.TestMode {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()
	if cfg.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())
	r.Use(RequestLogger())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{svc: svc, sinks: sinks, readLimit: cfg.ReadLimit, pingPeriod: cfg.PingPeriod}
	if cfg.JoinLimit > 0 {
		h.limiter = NewJoinLimiter(cfg.JoinLimit, cfg.JoinWindow)
	}
	api := r.Group("/api")

	call := api.Group("/call")
	call.POST("/join", h.join)
	call.POST("/leave", h.leave)
	call.POST("/screenshare", h.toggleScreenShare)
	call.GET("/state", h.state)
	call.GET("/sinks", h.listSinks)

	api.GET("/ws/status", h.statusStream)

	return r
}
