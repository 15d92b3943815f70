package server

import (
	"time"

	"dropmates/internal/app"
	"dropmates/internal/auth"
	"dropmates/internal/handler"
	"dropmates/internal/hub"
	"dropmates/internal/metrics"
	"dropmates/internal/middleware"
	"dropmates/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Deps struct {
	App         *app.App
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	Logger      *zap.Logger
	// ActionLimiter guards the endpoints that reach the remote service.
	// Defaults to 10 requests per minute per client.
	ActionLimiter *ratelimit.RateLimiter
	// Metrics enables request metrics and GET /metrics when set.
	Metrics *metrics.Collector
	Version string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.Hub == nil {
		deps.Hub = hub.New()
	}
	if deps.ActionLimiter == nil {
		deps.ActionLimiter = ratelimit.NewRateLimiter(10, time.Minute)
	}

	healthHandler := &handler.HealthHandler{Version: deps.Version}
	r.GET("/health", healthHandler.Check)

	relHandler := &handler.RelationshipsHandler{App: deps.App, Hub: deps.Hub, Metrics: deps.Metrics, Logger: deps.Logger}
	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig, deps.App.Account()))
	protected.GET("/followers", relHandler.List(app.ViewFollowers))
	protected.GET("/following", relHandler.List(app.ViewFollowing))
	protected.GET("/shame", relHandler.List(app.ViewShame))

	limited := protected.Group("")
	limited.Use(middleware.RateLimitMiddleware(deps.ActionLimiter))
	limited.POST("/rebuild", relHandler.Rebuild)
	limited.POST("/unfollow", relHandler.Unfollow)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Account: deps.App.Account(), TokenConfig: deps.TokenConfig}
	r.GET("/ws", wsHandler.Serve)

	return r
}
