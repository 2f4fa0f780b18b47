package uploader

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

// WorkerConfig holds upload worker settings.
type WorkerConfig struct {
	QueueName     string
	NumUploads    int
	VisibilitySec int
	// operator knobs for manual reprocessing runs
	IgnoreSchedule   bool
	OverrideSeriesID string
}

// Worker drains upload jobs from the queue and drives the ingest pipeline.
type Worker struct {
	queue    JobQueue
	uploader *Uploader
	statuses status.Recorder
	cfg      WorkerConfig
	logger   *zap.Logger
}

// NewWorker creates an upload worker.
func NewWorker(q JobQueue, u *Uploader, statuses status.Recorder, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statuses == nil {
		statuses = status.Nop{}
	}
	if cfg.NumUploads <= 0 {
		cfg.NumUploads = 1
	}
	if cfg.VisibilitySec <= 0 {
		cfg.VisibilitySec = 2500
	}
	return &Worker{queue: q, uploader: u, statuses: statuses, cfg: cfg, logger: logger}
}

// RunOnce processes up to NumUploads queued jobs sequentially, one
// receive-process-delete cycle at a time. Skipped jobs (no series, already
// ingested) are deleted like successes. The first processing error aborts
// the batch and leaves that message for redelivery.
func (w *Worker) RunOnce(ctx context.Context) error {
	visibility := time.Duration(w.cfg.VisibilitySec) * time.Second
	for i := 0; i < w.cfg.NumUploads; i++ {
		msg, err := w.queue.Receive(ctx, w.cfg.QueueName, visibility)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if msg == nil {
			w.logger.Info("no upload queue messages available")
			return nil
		}

		var job models.UploadJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			// undecodable message: deleting it is the only way to stop
			// redelivery; the DLQ would only hide the same bytes
			w.logger.Error("invalid upload job message, deleting",
				zap.String("message_id", msg.ID), zap.Error(err))
			if delErr := w.queue.Delete(ctx, w.cfg.QueueName, msg); delErr != nil {
				return fmt.Errorf("delete invalid message: %w", delErr)
			}
			continue
		}
		job.IgnoreSchedule = w.cfg.IgnoreSchedule
		if w.cfg.OverrideSeriesID != "" {
			job.OverrideSeriesID = w.cfg.OverrideSeriesID
		}

		w.statuses.Set(ctx, job.UUID, status.UploaderReceived, nil)
		w.logger.Info("processing upload job",
			zap.String("message_id", msg.ID),
			zap.String("uuid", job.UUID),
			zap.String("zoom_series_id", job.MeetingNumber))

		workflowID, err := w.uploader.ProcessJob(ctx, job)
		if err != nil {
			w.statuses.Set(ctx, job.UUID, status.UploaderFailed, map[string]interface{}{"error": err.Error()})
			w.logger.Error("upload job failed",
				zap.String("message_id", msg.ID),
				zap.String("uuid", job.UUID),
				zap.Error(err))
			return err
		}
		if workflowID != "" {
			w.logger.Info("workflow initiated", zap.String("workflow_id", workflowID), zap.String("uuid", job.UUID))
		} else {
			w.logger.Info("no workflow initiated", zap.String("uuid", job.UUID))
		}
		if err := w.queue.Delete(ctx, w.cfg.QueueName, msg); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	return nil
}

// Run polls the queue until ctx is done, running one batch per interval.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("upload worker stopping")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("upload batch aborted", zap.Error(err))
			}
		}
	}
}
