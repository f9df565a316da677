package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nbspibalcontin/ChatApplication/internal/api/handlers"
	"github.com/nbspibalcontin/ChatApplication/internal/api/middleware"
	"github.com/nbspibalcontin/ChatApplication/internal/config"
	"github.com/nbspibalcontin/ChatApplication/internal/services"
	"github.com/nbspibalcontin/ChatApplication/internal/ws"
)

type Router struct {
	engine *gin.Engine

	hub            *ws.Hub
	messageHandler *handlers.MessageHandler
	healthHandler  *handlers.HealthHandler
	rateLimitMW    *middleware.RateLimitMiddleware
	rateLimit      config.RateLimitConfig
	logger         *slog.Logger
}

func NewRouter(
	hub *ws.Hub,
	history *services.HistoryService,
	limiter *services.RateLimitService,
	db *gorm.DB,
	redisClient *redis.Client,
	rateLimit config.RateLimitConfig,
	logger *slog.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	return &Router{
		engine:         engine,
		hub:            hub,
		messageHandler: handlers.NewMessageHandler(history, logger),
		healthHandler:  handlers.NewHealthHandler(db, redisClient),
		rateLimitMW:    middleware.NewRateLimitMiddleware(limiter, logger),
		rateLimit:      rateLimit,
		logger:         logger,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.healthHandler.Health)

	r.engine.GET("/chathub",
		r.rateLimitMW.PerIP(r.rateLimit.Requests, r.rateLimit.Window),
		ws.ServeWS(r.hub, r.logger))

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/messages", r.messageHandler.GetMessages)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
