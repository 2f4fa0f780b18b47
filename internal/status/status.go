package status

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// State is a pipeline lifecycle state for one recording uuid.
type State string

const (
	WebhookReceived    State = "WEBHOOK_RECEIVED"
	WebhookFailed      State = "WEBHOOK_FAILED"
	SentToDownloader   State = "SENT_TO_DOWNLOADER"
	DownloaderReceived State = "DOWNLOADER_RECEIVED"
	DownloaderFailed   State = "DOWNLOADER_FAILED"
	SentToUploader     State = "SENT_TO_UPLOADER"
	UploaderReceived   State = "UPLOADER_RECEIVED"
	SeriesFound        State = "OC_SERIES_FOUND"
	NoSeriesFound      State = "NO_OC_SERIES_FOUND"
	AlreadyIngested    State = "ALREADY_INGESTED"
	SentToOpencast     State = "SENT_TO_OPENCAST"
	UploaderFailed     State = "UPLOADER_FAILED"
)

// Recorder records pipeline states. Implementations must be safe to call
// with a nil detail map.
type Recorder interface {
	Set(ctx context.Context, zoomUUID string, state State, detail map[string]interface{})
}

// Repository persists the last known pipeline state per recording uuid.
// Writes are best-effort: failures are logged, never returned, so status
// tracking can never fail the pipeline itself.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a pipeline status repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Set upserts the state for a recording uuid.
func (r *Repository) Set(ctx context.Context, zoomUUID string, state State, detail map[string]interface{}) {
	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			r.logger.Warn("marshal status detail", zap.Error(err))
		}
	}
	const q = `INSERT INTO pipeline_status (zoom_uuid, status, detail, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (zoom_uuid) DO UPDATE SET status = $2, detail = $3, updated_at = NOW()`
	if _, err := r.pool.Exec(ctx, q, zoomUUID, string(state), detailJSON); err != nil {
		r.logger.Warn("update pipeline status failed",
			zap.String("zoom_uuid", zoomUUID),
			zap.String("status", string(state)),
			zap.Error(err))
	}
}

// Nop is a Recorder that discards all states (for tests and optional wiring).
type Nop struct{}

func (Nop) Set(context.Context, string, State, map[string]interface{}) {}
