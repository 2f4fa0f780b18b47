// Package main runs the webhook receiver for Zoom recording notifications.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MadatOnLine/zoom-recording-ingester/config"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/status"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/webhook"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/database"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/queue"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/redis"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	localTZ, err := time.LoadLocation(cfg.Ingest.LocalTimeZone)
	if err != nil {
		logger.Fatal("load local time zone", zap.String("tz", cfg.Ingest.LocalTimeZone), zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.New(rdb.Client, logger)
	statuses := status.NewRepository(pool, logger)
	webhookHandler := webhook.NewHandler(jobQueue, statuses, webhook.Config{
		DownloadQueue:    cfg.Ingest.DownloadQueue,
		DefaultDelaySec:  cfg.Ingest.DefaultMessageDelaySec,
		ParallelEndpoint: cfg.Ingest.ParallelEndpoint,
		LocalTZ:          localTZ,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	router.POST("/webhooks/zoom", webhookHandler.Receive)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
