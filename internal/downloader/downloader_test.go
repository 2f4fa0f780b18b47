package downloader

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MadatOnLine/zoom-recording-ingester/internal/models"
	"github.com/MadatOnLine/zoom-recording-ingester/internal/zoomapi"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/storage"
)

type fakeZoom struct {
	recording *zoomapi.MeetingRecording
	recErr    error
	user      *zoomapi.User
	userErr   error
}

func (f *fakeZoom) MeetingRecording(ctx context.Context, meetingUUID string) (*zoomapi.MeetingRecording, error) {
	return f.recording, f.recErr
}

func (f *fakeZoom) User(ctx context.Context, userID string) (*zoomapi.User, error) {
	return f.user, f.userErr
}

func (f *fakeZoom) Download(ctx context.Context, downloadURL string) (io.ReadCloser, string, int64, error) {
	return io.NopCloser(strings.NewReader("video-bytes")), "video/mp4", 11, nil
}

type stagedObject struct {
	key         string
	contentType string
	metadata    map[string]string
}

type fakeStore struct {
	objects []stagedObject
	err     error
}

func (f *fakeStore) Upload(ctx context.Context, key, contentType string, metadata map[string]string, body io.Reader, contentLength int64) error {
	if f.err != nil {
		return f.err
	}
	io.Copy(io.Discard, body)
	f.objects = append(f.objects, stagedObject{key: key, contentType: contentType, metadata: metadata})
	return nil
}

type sentMessage struct {
	queue string
	body  interface{}
	delay time.Duration
}

type fakeEnqueuer struct {
	sent []sentMessage
	err  error
}

func (f *fakeEnqueuer) Send(ctx context.Context, name string, body interface{}, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{queue: name, body: body, delay: delay})
	return nil
}

func testRecording() *zoomapi.MeetingRecording {
	return &zoomapi.MeetingRecording{
		UUID:      "meeting-uuid",
		MeetingID: 81602223344,
		StartTime: time.Date(2023, 10, 3, 14, 0, 0, 0, time.UTC),
		RecordingFiles: []zoomapi.RecordingFile{
			{ID: "f1", FileType: "MP4", RecordingType: "shared_screen_with_speaker_view", DownloadURL: "https://zoom/f1"},
			{ID: "f2", FileType: "MP4", RecordingType: "gallery_view", DownloadURL: "https://zoom/f2"},
			{ID: "f3", FileType: "CHAT", RecordingType: "chat_file", DownloadURL: "https://zoom/f3"},
		},
	}
}

func TestProcess_StagesFilesAndEnqueuesUploadJob(t *testing.T) {
	zoom := &fakeZoom{
		recording: testRecording(),
		user:      &zoomapi.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.edu"},
	}
	store := &fakeStore{}
	queue := &fakeEnqueuer{}
	d := New(zoom, store, queue, nil, "uploads", nil)

	job := models.DownloadJob{UUID: "meeting-uuid", HostID: "host-1", CorrelationID: "corr-1"}
	require.NoError(t, d.Process(context.Background(), job))

	prefix := models.S3Prefix("meeting-uuid")
	require.Len(t, store.objects, 2, "only mp4 files are staged")
	require.Equal(t, prefix+"/f1.mp4", store.objects[0].key)
	require.Equal(t, "speaker", store.objects[0].metadata[storage.MetaView])
	require.Equal(t, prefix+"/f2.mp4", store.objects[1].key)
	require.Equal(t, "gallery", store.objects[1].metadata[storage.MetaView])
	require.Equal(t, "mp4", store.objects[0].metadata[storage.MetaFileType])

	require.Len(t, queue.sent, 1)
	require.Equal(t, "uploads", queue.sent[0].queue)
	require.Equal(t, time.Duration(0), queue.sent[0].delay)
	uploadJob, ok := queue.sent[0].body.(models.UploadJob)
	require.True(t, ok)
	require.Equal(t, models.UploadJob{
		UUID:               "meeting-uuid",
		HostName:           "Ada Lovelace",
		MeetingNumber:      "81602223344",
		RecordingStartTime: "2023-10-03T14:00:00Z",
		CorrelationID:      "corr-1",
	}, uploadJob)
}

func TestProcess_NoMP4FilesIsAnError(t *testing.T) {
	rec := testRecording()
	rec.RecordingFiles = []zoomapi.RecordingFile{
		{ID: "f3", FileType: "CHAT", RecordingType: "chat_file", DownloadURL: "https://zoom/f3"},
	}
	zoom := &fakeZoom{recording: rec, user: &zoomapi.User{Email: "ada@example.edu"}}
	queue := &fakeEnqueuer{}
	d := New(zoom, &fakeStore{}, queue, nil, "uploads", nil)

	err := d.Process(context.Background(), models.DownloadJob{UUID: "meeting-uuid", HostID: "host-1"})
	require.Error(t, err)
	require.Empty(t, queue.sent)
}

func TestProcess_RecordingLookupFailure(t *testing.T) {
	zoom := &fakeZoom{recErr: errors.New("zoom down")}
	queue := &fakeEnqueuer{}
	d := New(zoom, &fakeStore{}, queue, nil, "uploads", nil)

	err := d.Process(context.Background(), models.DownloadJob{UUID: "meeting-uuid"})
	require.ErrorContains(t, err, "zoom down")
	require.Empty(t, queue.sent)
}

func TestProcess_StagingFailureStopsBeforeEnqueue(t *testing.T) {
	zoom := &fakeZoom{recording: testRecording(), user: &zoomapi.User{Email: "ada@example.edu"}}
	queue := &fakeEnqueuer{}
	d := New(zoom, &fakeStore{err: errors.New("s3 unavailable")}, queue, nil, "uploads", nil)

	err := d.Process(context.Background(), models.DownloadJob{UUID: "meeting-uuid", HostID: "host-1"})
	require.ErrorContains(t, err, "s3 unavailable")
	require.Empty(t, queue.sent)
}

func TestProcess_HostNameFallsBackToEmail(t *testing.T) {
	zoom := &fakeZoom{recording: testRecording(), user: &zoomapi.User{Email: "host@example.edu"}}
	queue := &fakeEnqueuer{}
	d := New(zoom, &fakeStore{}, queue, nil, "uploads", nil)

	require.NoError(t, d.Process(context.Background(), models.DownloadJob{UUID: "meeting-uuid", HostID: "host-1"}))
	uploadJob := queue.sent[0].body.(models.UploadJob)
	require.Equal(t, "host@example.edu", uploadJob.HostName)
}

func TestClassifyView(t *testing.T) {
	require.Equal(t, "speaker", classifyView("shared_screen_with_speaker_view"))
	require.Equal(t, "gallery", classifyView("gallery_view"))
	require.Equal(t, "", classifyView("audio_only"))
}
