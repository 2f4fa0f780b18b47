// Package main runs the background workers: the downloader that stages
// recording files in S3 and the uploader that ingests them into Opencast.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MadatOnLine/zoom-recording-ingester/config"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/downloader"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/opencast"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/schedule"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/status"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/uploader"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/zoomapi"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/database"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/queue"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/redis"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/storage"
)

func main() {
	ignoreSchedule := flag.Bool("ignore-schedule", false, "accept schedule matches outside the start-time tolerance (manual reprocessing)")
	overrideSeriesID := flag.String("override-series-id", "", "force all processed uploads into this Opencast series")
	pollInterval := flag.Duration("poll-interval", 10*time.Second, "queue poll interval")
	flag.Parse()

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

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		VideosBucket:         cfg.AWS.VideosBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.New(rdb.Client, logger)
	statuses := status.NewRepository(pool, logger)

	zoomClient := zoomapi.New(zoomapi.Config{
		BaseURL:   cfg.Zoom.APIBaseURL,
		APIKey:    cfg.Zoom.APIKey,
		APISecret: cfg.Zoom.APISecret,
	}, logger)
	ocClient := opencast.New(opencast.Config{
		BaseURL:     cfg.Opencast.BaseURL,
		APIUser:     cfg.Opencast.APIUser,
		APIPassword: cfg.Opencast.APIPassword,
	}, logger)

	dl := downloader.New(zoomClient, s3Client, jobQueue, statuses, cfg.Ingest.UploadQueue, logger)
	dlWorker := downloader.NewWorker(jobQueue, dl, statuses, downloader.WorkerConfig{
		QueueName: cfg.Ingest.DownloadQueue,
	}, logger)

	resolver := schedule.NewResolver(schedule.NewRepository(pool), cfg.Ingest.DefaultSeriesID, localTZ, logger)
	up := uploader.New(s3Client, ocClient, resolver, statuses, uploader.Config{
		WorkflowID:            cfg.Opencast.WorkflowID,
		DefaultProducerEmail:  cfg.Ingest.DefaultProducerEmail,
		OverrideProducer:      cfg.Ingest.OverrideProducer,
		OverrideProducerEmail: cfg.Ingest.OverrideProducerEmail,
	}, logger)
	upWorker := uploader.NewWorker(jobQueue, up, statuses, uploader.WorkerConfig{
		QueueName:        cfg.Ingest.UploadQueue,
		NumUploads:       cfg.Ingest.NumUploads,
		VisibilitySec:    cfg.Ingest.UploadVisibilitySec,
		IgnoreSchedule:   *ignoreSchedule,
		OverrideSeriesID: *overrideSeriesID,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dlWorker.Run(workerCtx, *pollInterval)
	go upWorker.Run(workerCtx, *pollInterval)
	logger.Info("workers started",
		zap.String("download_queue", cfg.Ingest.DownloadQueue),
		zap.String("upload_queue", cfg.Ingest.UploadQueue),
		zap.Int("num_uploads", cfg.Ingest.NumUploads))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("workers stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
