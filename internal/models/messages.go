package models

// TimestampFormat is the wire format for recording and receipt timestamps.
const TimestampFormat = "2006-01-02T15:04:05Z"

// DownloadJob is the message the webhook receiver sends to the download queue
// after a recording-completed event has been normalized.
type DownloadJob struct {
	UUID          string `json:"uuid"`
	HostID        string `json:"host_id"`
	CorrelationID string `json:"correlation_id"`
	ReceivedTime  string `json:"received_time"`
}

// UploadJob is the message the downloader sends to the upload queue once the
// recording files are in S3. IgnoreSchedule and OverrideSeriesID are injected
// by the invoking operator for manual reprocessing, never by the webhook.
type UploadJob struct {
	UUID               string `json:"uuid"`
	HostName           string `json:"host_name"`
	MeetingNumber      string `json:"meeting_number"`
	RecordingStartTime string `json:"recording_start_time"`
	CorrelationID      string `json:"correlation_id,omitempty"`
	IgnoreSchedule     bool   `json:"ignore_schedule,omitempty"`
	OverrideSeriesID   string `json:"override_series_id,omitempty"`
}
