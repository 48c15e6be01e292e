package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/buildinfo"
	"github.com/xelth-com/invtrack/internal/cache"
	"github.com/xelth-com/invtrack/internal/config"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/handlers"
	"github.com/xelth-com/invtrack/internal/logger"
	"github.com/xelth-com/invtrack/internal/services/catalog"
	"github.com/xelth-com/invtrack/internal/services/inventory"
	"github.com/xelth-com/invtrack/internal/services/users"
	"github.com/xelth-com/invtrack/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog := logger.NewZapLogger(logger.FromConfig(cfg.NodeEnv, cfg.Log.Level, cfg.Log.Encoding))
	defer zlog.Sync()

	// 2. Initialize database (embedded when no external server is configured)
	db, err := database.Connect(cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}

	// 3. Synchronise schema
	zlog.Info("synchronizing database schema")
	if err := db.Migrate(); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 4. Department cache: Redis when configured, in-process otherwise
	var c cache.Cache = cache.NewMemory()
	var redis *cache.Redis
	if cfg.Cache.RedisAddr != "" {
		redis, err = cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			zlog.Warn("redis unavailable, using in-process cache", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		} else {
			c = redis
			zlog.Info("redis cache connected", zap.String("addr", cfg.Cache.RedisAddr))
		}
	}

	// 5. Event hub
	hub := websocket.NewHub(zlog.Named("ws"))
	go hub.Run(ctx)

	// 6. Services and router
	svc := handlers.Services{
		Inventory: inventory.NewService(db, c, cfg.Cache.TTL, hub, zlog.Named("inventory")),
		Catalog:   catalog.NewService(db, c, cfg.Cache.TTL, hub, zlog.Named("catalog")),
		Users:     users.NewService(db, zlog.Named("users")),
		Hub:       hub,
	}
	router := handlers.NewRouter(cfg, db, svc, zlog.Named("http"))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		zlog.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.NodeEnv),
			zap.String("version", buildinfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sig := <-shutdown
	zlog.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http server shutdown", zap.Error(err))
	}

	// Stops the hub and closes every websocket client
	stop()

	if redis != nil {
		if err := redis.Close(); err != nil {
			zlog.Warn("redis close", zap.Error(err))
		}
	}

	// Close database (this also stops embedded PostgreSQL)
	if err := db.Close(); err != nil {
		zlog.Error("database close", zap.Error(err))
	}
	zlog.Info("shutdown complete")
}
