package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MadatOnLine/zoom-recording-ingester/internal/models"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/queue"
	"github.com/MadatOnLine/zoom-recording-ingester/pkg/storage"
)

type fakeQueue struct {
	messages     []*queue.Message
	deleted      []string
	visibilities []time.Duration
}

func (f *fakeQueue) Receive(_ context.Context, _ string, visibility time.Duration) (*queue.Message, error) {
	f.visibilities = append(f.visibilities, visibility)
	if len(f.messages) == 0 {
		return nil, nil
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeQueue) Delete(_ context.Context, _ string, msg *queue.Message) error {
	f.deleted = append(f.deleted, msg.ID)
	return nil
}

func queuedJob(t *testing.T, id string, job models.UploadJob) *queue.Message {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return &queue.Message{ID: id, Body: body}
}

func workingUploader() *Uploader {
	store := &fakeStore{files: []storage.MediaFile{mp4(ViewSpeaker, "pfx/a.mp4")}}
	oc := &fakeOpencast{workflowID: "wf-1", catalog: "<dc/>"}
	return New(store, oc, &fakeResolver{seriesID: "S1"}, nil, Config{WorkflowID: "zoom-wf"}, nil)
}

func TestRunOnce_ProcessesAndDeletes(t *testing.T) {
	q := &fakeQueue{messages: []*queue.Message{
		queuedJob(t, "m1", testJob()),
		queuedJob(t, "m2", testJob()),
	}}
	w := NewWorker(q, workingUploader(), nil, WorkerConfig{QueueName: "up", NumUploads: 2, VisibilitySec: 10}, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []string{"m1", "m2"}, q.deleted)
}

func TestRunOnce_StopsAtNumUploads(t *testing.T) {
	q := &fakeQueue{messages: []*queue.Message{
		queuedJob(t, "m1", testJob()),
		queuedJob(t, "m2", testJob()),
	}}
	w := NewWorker(q, workingUploader(), nil, WorkerConfig{QueueName: "up", NumUploads: 1, VisibilitySec: 10}, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []string{"m1"}, q.deleted)
	require.Len(t, q.messages, 1)
}

func TestNewWorker_VisibilityDefaultsWhenUnset(t *testing.T) {
	// an unset visibility must not produce an instantly-expiring in-flight
	// window (immediate redelivery)
	q := &fakeQueue{messages: []*queue.Message{queuedJob(t, "m1", testJob())}}
	w := NewWorker(q, workingUploader(), nil, WorkerConfig{QueueName: "up", NumUploads: 1}, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []time.Duration{2500 * time.Second}, q.visibilities)
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	w := NewWorker(q, workingUploader(), nil, WorkerConfig{QueueName: "up", NumUploads: 3, VisibilitySec: 10}, nil)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Empty(t, q.deleted)
}

func TestRunOnce_SkippedJobIsStillDeleted(t *testing.T) {
	// no series mapping: deliberate skip, not a failure
	u := New(&fakeStore{}, &fakeOpencast{}, &fakeResolver{seriesID: ""}, nil, Config{}, nil)
	q := &fakeQueue{messages: []*queue.Message{queuedJob(t, "m1", testJob())}}
	w := NewWorker(q, u, nil, WorkerConfig{QueueName: "up", NumUploads: 1, VisibilitySec: 10}, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []string{"m1"}, q.deleted)
}

func TestRunOnce_FailureLeavesMessageAndAbortsBatch(t *testing.T) {
	u := New(&fakeStore{}, &fakeOpencast{ingestedErr: errors.New("boom")}, &fakeResolver{seriesID: "S1"}, nil, Config{}, nil)
	q := &fakeQueue{messages: []*queue.Message{
		queuedJob(t, "m1", testJob()),
		queuedJob(t, "m2", testJob()),
	}}
	w := NewWorker(q, u, nil, WorkerConfig{QueueName: "up", NumUploads: 2, VisibilitySec: 10}, nil)

	require.Error(t, w.RunOnce(context.Background()))
	require.Empty(t, q.deleted)
	// the second message was never attempted
	require.Len(t, q.messages, 1)
}

func TestRunOnce_OperatorOverridesApplied(t *testing.T) {
	job := testJob()
	resolver := &capturingResolver{seriesID: "S1"}
	store := &fakeStore{files: []storage.MediaFile{mp4(ViewSpeaker, "pfx/a.mp4")}}
	u := New(store, &fakeOpencast{workflowID: "wf", catalog: "<dc/>"}, resolver, nil, Config{}, nil)
	q := &fakeQueue{messages: []*queue.Message{queuedJob(t, "m1", job)}}
	w := NewWorker(q, u, nil, WorkerConfig{
		QueueName:        "up",
		NumUploads:       1,
		VisibilitySec:    10,
		IgnoreSchedule:   true,
		OverrideSeriesID: "FORCED",
	}, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.True(t, resolver.gotIgnoreSchedule)
	require.Equal(t, "FORCED", resolver.gotOverride)
}

type capturingResolver struct {
	seriesID          string
	gotIgnoreSchedule bool
	gotOverride       string
}

func (c *capturingResolver) Resolve(_ context.Context, _ string, _ time.Time, ignoreSchedule bool, override string) (string, error) {
	c.gotIgnoreSchedule = ignoreSchedule
	c.gotOverride = override
	return c.seriesID, nil
}
