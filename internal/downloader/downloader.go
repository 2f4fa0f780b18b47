package downloader

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MadatOnLine/zoom-recording-ingester/internal/models"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/status"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/uploader"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/zoomapi"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/storage"
)

// ZoomAPI is the provider surface the downloader consumes.
type ZoomAPI interface {
	MeetingRecording(ctx context.Context, meetingUUID string) (*zoomapi.MeetingRecording, error)
	User(ctx context.Context, userID string) (*zoomapi.User, error)
	Download(ctx context.Context, downloadURL string) (io.ReadCloser, string, int64, error)
}

// MediaStore uploads recording objects.
type MediaStore interface {
	Upload(ctx context.Context, key, contentType string, metadata map[string]string, body io.Reader, contentLength int64) error
}

// Enqueuer sends messages to a named queue.
type Enqueuer interface {
	Send(ctx context.Context, name string, body interface{}, delay time.Duration) error
}

// Downloader copies a completed recording's MP4 files from the provider into
// S3 under the md5 prefix, classifies each by view, and hands the enriched
// job to the upload queue.
type Downloader struct {
	zoom        ZoomAPI
	store       MediaStore
	queue       Enqueuer
	statuses    status.Recorder
	uploadQueue string
	logger      *zap.Logger
}

// New creates a downloader.
func New(zoom ZoomAPI, store MediaStore, queue Enqueuer, statuses status.Recorder, uploadQueue string, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statuses == nil {
		statuses = status.Nop{}
	}
	return &Downloader{
		zoom:        zoom,
		store:       store,
		queue:       queue,
		statuses:    statuses,
		uploadQueue: uploadQueue,
		logger:      logger,
	}
}

// Process handles one download job end to end. Any error leaves the job on
// the queue for redelivery; the recording may simply not be ready yet.
func (d *Downloader) Process(ctx context.Context, job models.DownloadJob) error {
	d.statuses.Set(ctx, job.UUID, status.DownloaderReceived, nil)

	rec, err := d.zoom.MeetingRecording(ctx, job.UUID)
	if err != nil {
		return fmt.Errorf("fetch meeting recording: %w", err)
	}

	prefix := models.S3Prefix(job.UUID)
	uploaded := 0
	for _, file := range rec.RecordingFiles {
		if !strings.EqualFold(file.FileType, "mp4") {
			continue
		}
		if err := d.copyFile(ctx, prefix, file); err != nil {
			return err
		}
		uploaded++
	}
	if uploaded == 0 {
		return fmt.Errorf("no mp4 files in recording %s yet", job.UUID)
	}

	user, err := d.zoom.User(ctx, job.HostID)
	if err != nil {
		return fmt.Errorf("fetch host %s: %w", job.HostID, err)
	}

	uploadJob := models.UploadJob{
		UUID:               job.UUID,
		HostName:           user.DisplayName(),
		MeetingNumber:      strconv.FormatInt(rec.MeetingID, 10),
		RecordingStartTime: rec.StartTime.UTC().Format(models.TimestampFormat),
		CorrelationID:      job.CorrelationID,
	}
	if err := d.queue.Send(ctx, d.uploadQueue, uploadJob, 0); err != nil {
		return fmt.Errorf("enqueue upload job: %w", err)
	}
	d.statuses.Set(ctx, job.UUID, status.SentToUploader, map[string]interface{}{
		"meeting_number": uploadJob.MeetingNumber,
		"files":          uploaded,
	})
	d.logger.Info("recording files staged for upload",
		zap.String("uuid", job.UUID),
		zap.String("prefix", prefix),
		zap.Int("files", uploaded))
	return nil
}

func (d *Downloader) copyFile(ctx context.Context, prefix string, file zoomapi.RecordingFile) error {
	body, contentType, length, err := d.zoom.Download(ctx, file.DownloadURL)
	if err != nil {
		return fmt.Errorf("download %s: %w", file.ID, err)
	}
	defer body.Close()

	if contentType == "" {
		contentType = "video/mp4"
	}
	metadata := map[string]string{storage.MetaFileType: "mp4"}
	if view := classifyView(file.RecordingType); view != "" {
		metadata[storage.MetaView] = view
	}
	key := prefix + "/" + file.ID + ".mp4"
	if err := d.store.Upload(ctx, key, contentType, metadata, body, length); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	d.logger.Debug("recording file staged",
		zap.String("key", key),
		zap.String("view", metadata[storage.MetaView]),
		zap.Int64("bytes", length))
	return nil
}

// classifyView maps Zoom recording types onto the fixed view names the
// uploader selects on. Unrecognized types stay unclassified and are never
// selected for ingest.
func classifyView(recordingType string) string {
	rt := strings.ToLower(recordingType)
	switch {
	case strings.Contains(rt, "speaker"):
		return uploader.ViewSpeaker
	case strings.Contains(rt, "gallery"):
		return uploader.ViewGallery
	default:
		return ""
	}
}
