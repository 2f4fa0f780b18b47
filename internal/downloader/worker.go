package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MadatOnLine/zoom-recording-ingester/internal/models"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/status"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/queue"
)

// JobQueue is the subset of the queue the worker consumes.
type JobQueue interface {
	Receive(ctx context.Context, name string, visibility time.Duration) (*queue.Message, error)
	Delete(ctx context.Context, name string, msg *queue.Message) error
}

// WorkerConfig holds download worker settings.
type WorkerConfig struct {
	QueueName     string
	VisibilitySec int
}

// Worker drains download jobs from the queue.
type Worker struct {
	queue      JobQueue
	downloader *Downloader
	statuses   status.Recorder
	cfg        WorkerConfig
	logger     *zap.Logger
}

// NewWorker creates a download worker.
func NewWorker(q JobQueue, d *Downloader, statuses status.Recorder, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statuses == nil {
		statuses = status.Nop{}
	}
	if cfg.VisibilitySec <= 0 {
		cfg.VisibilitySec = 300
	}
	return &Worker{queue: q, downloader: d, statuses: statuses, cfg: cfg, logger: logger}
}

// RunOnce processes a single queued download job, if one is visible.
func (w *Worker) RunOnce(ctx context.Context) error {
	msg, err := w.queue.Receive(ctx, w.cfg.QueueName, time.Duration(w.cfg.VisibilitySec)*time.Second)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if msg == nil {
		return nil
	}

	var job models.DownloadJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		w.logger.Error("invalid download job message, deleting",
			zap.String("message_id", msg.ID), zap.Error(err))
		if delErr := w.queue.Delete(ctx, w.cfg.QueueName, msg); delErr != nil {
			return fmt.Errorf("delete invalid message: %w", delErr)
		}
		return nil
	}

	w.logger.Info("processing download job",
		zap.String("message_id", msg.ID),
		zap.String("uuid", job.UUID),
		zap.String("correlation_id", job.CorrelationID))
	if err := w.downloader.Process(ctx, job); err != nil {
		w.statuses.Set(ctx, job.UUID, status.DownloaderFailed, map[string]interface{}{"error": err.Error()})
		w.logger.Error("download job failed",
			zap.String("message_id", msg.ID),
			zap.String("uuid", job.UUID),
			zap.Error(err))
		return err
	}
	if err := w.queue.Delete(ctx, w.cfg.QueueName, msg); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Run polls the queue until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("download worker stopping")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("download job aborted", zap.Error(err))
			}
		}
	}
}
