package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MadatOnLine/zoom-recording-ingester/internal/models"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/opencast"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/status"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/storage"
)

const (
	episodeTitle     = "Lecture"
	recordingTypeNum = "L01"
	episodeLicense   = "Creative Commons 3.0: Attribution-NonCommercial-NoDerivs"
	episodeLanguage  = "en"
	fallbackProducer = "Zoom Ingester"
	noneSentinel     = "None"

	// view metadata values written by the downloader
	ViewSpeaker = "speaker"
	ViewGallery = "gallery"
)

// ErrNoMedia means no eligible MP4 files were found for the recording. The
// job is left on the queue for redelivery: a late downloader run may still
// produce the files.
var ErrNoMedia = errors.New("no mp4 files available for upload")

// MediaStore lists recording objects and generates access URLs.
type MediaStore interface {
	ListRecordingFiles(ctx context.Context, prefix string) ([]storage.MediaFile, error)
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// OpencastAPI is the downstream platform surface the pipeline consumes.
type OpencastAPI interface {
	AlreadyIngested(ctx context.Context, mediaPackageID string) (bool, error)
	EpisodeDefaults(ctx context.Context, seriesID string) (map[string]string, error)
	SeriesCatalog(ctx context.Context, seriesID string) (string, error)
	Ingest(ctx context.Context, workflowDefinitionID string, fields []opencast.FormField) (string, error)
}

// SeriesResolver resolves the target Opencast series for a recording.
type SeriesResolver interface {
	Resolve(ctx context.Context, zoomSeriesID string, startUTC time.Time, ignoreSchedule bool, overrideSeriesID string) (string, error)
}

// Config holds the uploader's static settings.
type Config struct {
	WorkflowID            string
	DefaultProducerEmail  string
	OverrideProducer      string
	OverrideProducerEmail string
}

// Uploader assembles and submits one ingest request per upload job.
type Uploader struct {
	store    MediaStore
	oc       OpencastAPI
	resolver SeriesResolver
	statuses status.Recorder
	cfg      Config
	logger   *zap.Logger
}

// New creates an uploader.
func New(store MediaStore, oc OpencastAPI, resolver SeriesResolver, statuses status.Recorder, cfg Config, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statuses == nil {
		statuses = status.Nop{}
	}
	return &Uploader{
		store:    store,
		oc:       oc,
		resolver: resolver,
		statuses: statuses,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessJob runs the full pipeline for one upload job and returns the
// workflow instance id on success. An empty id with nil error means the job
// was deliberately skipped (no series mapping, or already ingested); the
// caller should delete the message. A non-nil error means the job must stay
// on the queue for redelivery.
func (u *Uploader) ProcessJob(ctx context.Context, job models.UploadJob) (string, error) {
	created, err := time.Parse(models.TimestampFormat, job.RecordingStartTime)
	if err != nil {
		return "", fmt.Errorf("invalid recording_start_time %q: %w", job.RecordingStartTime, err)
	}
	created = created.UTC()

	seriesID, err := u.resolver.Resolve(ctx, job.MeetingNumber, created, job.IgnoreSchedule, job.OverrideSeriesID)
	if err != nil {
		return "", fmt.Errorf("resolve series: %w", err)
	}
	if seriesID == "" {
		u.logger.Info("no series mapping found for zoom series",
			zap.String("zoom_series_id", job.MeetingNumber), zap.String("uuid", job.UUID))
		u.statuses.Set(ctx, job.UUID, status.NoSeriesFound, nil)
		return "", nil
	}
	u.statuses.Set(ctx, job.UUID, status.SeriesFound, map[string]interface{}{"series_id": seriesID})

	mediaPackageID := models.MediaPackageID(job.UUID)
	ingested, err := u.oc.AlreadyIngested(ctx, mediaPackageID)
	if err != nil {
		return "", fmt.Errorf("workflow lookup: %w", err)
	}
	if ingested {
		u.logger.Warn("episode already ingested",
			zap.String("mediapackage_id", mediaPackageID), zap.String("uuid", job.UUID))
		u.statuses.Set(ctx, job.UUID, status.AlreadyIngested, nil)
		return "", nil
	}

	// episode defaults are advisory; their absence never blocks ingest
	defaults, err := u.oc.EpisodeDefaults(ctx, seriesID)
	if err != nil {
		u.logger.Warn("episode defaults unavailable, using empty set",
			zap.String("series_id", seriesID), zap.Error(err))
		defaults = map[string]string{}
	}

	videos, err := u.selectVideos(ctx, job.UUID)
	if err != nil {
		return "", err
	}

	catalog, err := u.oc.SeriesCatalog(ctx, seriesID)
	if err != nil {
		return "", fmt.Errorf("series catalog: %w", err)
	}

	fields := []opencast.FormField{
		{Name: "creator", Value: xmlEscape(job.HostName)},
		{Name: "identifier", Value: mediaPackageID},
		{Name: "title", Value: episodeTitle},
		{Name: "type", Value: recordingTypeNum},
		{Name: "isPartOf", Value: seriesID},
		{Name: "license", Value: episodeLicense},
		{Name: "publisher", Value: xmlEscape(u.producerEmail(defaults))},
		{Name: "contributor", Value: xmlEscape(u.producer(defaults))},
		{Name: "created", Value: created.Format(models.TimestampFormat)},
		{Name: "language", Value: episodeLanguage},
		{Name: "seriesDCCatalog", Value: catalog},
	}
	for _, video := range videos {
		mediaURL, err := u.store.GeneratePresignedDownloadURL(ctx, video.Bucket, video.Key, u.store.PresignExpire())
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", video.Key, err)
		}
		fields = append(fields,
			opencast.FormField{Name: "flavor", Value: xmlEscape("multipart/partsource")},
			opencast.FormField{Name: "mediaUri", Value: mediaURL},
		)
	}

	workflowID, err := u.oc.Ingest(ctx, u.cfg.WorkflowID, fields)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	u.statuses.Set(ctx, job.UUID, status.SentToOpencast, map[string]interface{}{
		"workflow_id":     workflowID,
		"mediapackage_id": mediaPackageID,
	})
	return workflowID, nil
}

// selectVideos returns the speaker-view MP4s, the gallery-view MP4s when no
// speaker files exist, or ErrNoMedia when neither view is present.
func (u *Uploader) selectVideos(ctx context.Context, meetingUUID string) ([]storage.MediaFile, error) {
	prefix := models.S3Prefix(meetingUUID)
	files, err := u.store.ListRecordingFiles(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list recording files: %w", err)
	}
	u.logger.Debug("recording files in object store",
		zap.String("prefix", prefix), zap.Int("count", len(files)))

	if speaker := filterByView(files, ViewSpeaker); len(speaker) > 0 {
		return speaker, nil
	}
	if gallery := filterByView(files, ViewGallery); len(gallery) > 0 {
		return gallery, nil
	}
	return nil, ErrNoMedia
}

func filterByView(files []storage.MediaFile, view string) []storage.MediaFile {
	var out []storage.MediaFile
	for _, f := range files {
		if strings.ToLower(f.Metadata[storage.MetaFileType]) != "mp4" {
			continue
		}
		if f.Metadata[storage.MetaView] != view {
			continue
		}
		out = append(out, f)
	}
	return out
}

// producer precedence: override > episode default contributor > fallback.
func (u *Uploader) producer(defaults map[string]string) string {
	if isSet(u.cfg.OverrideProducer) {
		return u.cfg.OverrideProducer
	}
	if v, ok := defaults["contributor"]; ok {
		return v
	}
	return fallbackProducer
}

// producerEmail precedence: override > episode default publisher > configured default.
func (u *Uploader) producerEmail(defaults map[string]string) string {
	if isSet(u.cfg.OverrideProducerEmail) {
		return u.cfg.OverrideProducerEmail
	}
	if v, ok := defaults["publisher"]; ok {
		return v
	}
	return u.cfg.DefaultProducerEmail
}

func isSet(v string) bool {
	return v != "" && v != noneSentinel
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// xmlEscape protects free-text fields that end up inside the episode's
// Dublin Core XML from corrupting the document structure.
func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}
