package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nbspibalcontin/ChatApplication/internal/api/routes"
	"github.com/nbspibalcontin/ChatApplication/internal/chat"
	"github.com/nbspibalcontin/ChatApplication/internal/config"
	"github.com/nbspibalcontin/ChatApplication/internal/database"
	"github.com/nbspibalcontin/ChatApplication/internal/presence"
	"github.com/nbspibalcontin/ChatApplication/internal/repositories/postgres"
	"github.com/nbspibalcontin/ChatApplication/internal/services"
	"github.com/nbspibalcontin/ChatApplication/internal/ws"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("starting chat relay server")

	db, err := database.NewPostgresConnection(cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	messageRepo := postgres.NewMessageRepository(db)
	history := services.NewHistoryService(messageRepo, redisClient, cfg.Chat.HistoryCacheSize, logger)
	limiter := services.NewRateLimitService(redisClient)

	registry := presence.NewRegistry()
	hub := ws.NewHub(logger)
	coordinator := chat.NewCoordinator(registry, history, hub, logger)
	hub.SetCoordinator(coordinator)
	go hub.Run()

	router := routes.NewRouter(hub, history, limiter, db, redisClient, cfg.RateLimit, logger)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Stop()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}

	logger.Info("server stopped")
}
