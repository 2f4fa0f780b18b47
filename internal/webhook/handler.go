package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MadatOnLine/zoom-recording-ingester/internal/models"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/status"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/response"
)

// Enqueuer sends messages to a named queue with a visibility delay.
type Enqueuer interface {
	Send(ctx context.Context, name string, body interface{}, delay time.Duration) error
}

// Handler receives Zoom webhook notifications, normalizes them and forwards
// recording-completed events to the download queue.
type Handler struct {
	queue            Enqueuer
	statuses         status.Recorder
	downloadQueue    string
	defaultDelay     time.Duration
	parallelEndpoint string
	localTZ          *time.Location
	httpClient       *http.Client
	logger           *zap.Logger
}

// Config holds webhook handler settings.
type Config struct {
	DownloadQueue    string
	DefaultDelaySec  int
	ParallelEndpoint string
	LocalTZ          *time.Location
}

// NewHandler creates a webhook handler.
func NewHandler(q Enqueuer, statuses status.Recorder, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statuses == nil {
		statuses = status.Nop{}
	}
	tz := cfg.LocalTZ
	if tz == nil {
		tz = time.UTC
	}
	return &Handler{
		queue:            q,
		statuses:         statuses,
		downloadQueue:    cfg.DownloadQueue,
		defaultDelay:     time.Duration(cfg.DefaultDelaySec) * time.Second,
		parallelEndpoint: cfg.ParallelEndpoint,
		localTZ:          tz,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		logger:           logger,
	}
}

// Receive handles POST /webhooks/zoom.
// 200 = accepted and enqueued, 204 = recognized but not actionable,
// 400 = malformed payload.
func (h *Handler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "bad data: no body in event")
		return
	}

	// Mirror the raw payload to the parallel endpoint before any parsing.
	// A mirror failure fails the whole request; partial success would make
	// the two environments diverge silently.
	if h.parallelEndpoint != "" && h.parallelEndpoint != "None" {
		if err := h.mirror(c.Request.Context(), body); err != nil {
			h.logger.Error("mirror to parallel endpoint failed",
				zap.String("endpoint", h.parallelEndpoint), zap.Error(err))
			response.Internal(c, "failed to copy webhook to parallel endpoint")
			return
		}
	}

	event, err := Parse(body)
	if err != nil {
		if errors.Is(err, ErrBadPayload) {
			h.logger.Error("http 400 response", zap.Error(err))
			response.BadRequest(c, err.Error())
			return
		}
		response.Internal(c, err.Error())
		return
	}

	if event.Status != StatusRecordingCompleted {
		h.logger.Info("http 204 response",
			zap.String("reason", fmt.Sprintf("handling not implemented for status '%s'", event.Status)))
		response.NoContent(c)
		return
	}

	h.statuses.Set(c.Request.Context(), event.UUID, status.WebhookReceived, nil)

	job := models.DownloadJob{
		UUID:          event.UUID,
		HostID:        event.HostID,
		CorrelationID: uuid.New().String(),
		ReceivedTime:  time.Now().In(h.localTZ).Format(models.TimestampFormat),
	}
	delay := h.defaultDelay
	if event.DelaySeconds != nil {
		h.logger.Debug("override default message delay", zap.Int("delay_seconds", *event.DelaySeconds))
		delay = time.Duration(*event.DelaySeconds) * time.Second
	}
	if err := h.queue.Send(c.Request.Context(), h.downloadQueue, job, delay); err != nil {
		h.logger.Error("enqueue download job failed",
			zap.String("uuid", event.UUID), zap.Error(err))
		h.statuses.Set(c.Request.Context(), event.UUID, status.WebhookFailed, nil)
		response.Internal(c, "failed to enqueue download")
		return
	}
	h.statuses.Set(c.Request.Context(), event.UUID, status.SentToDownloader, map[string]interface{}{
		"correlation_id": job.CorrelationID,
	})

	h.logger.Info("recording completed webhook processed",
		zap.String("uuid", event.UUID),
		zap.String("host_id", event.HostID),
		zap.String("correlation_id", job.CorrelationID))
	response.OK(c, gin.H{"status": "queued", "correlation_id": job.CorrelationID})
}

func (h *Handler) mirror(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.parallelEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("parallel endpoint status: %d", resp.StatusCode)
	}
	h.logger.Info("copied webhook to parallel endpoint",
		zap.String("endpoint", h.parallelEndpoint),
		zap.Int("status_code", resp.StatusCode))
	return nil
}
