package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

type fakeEmail struct {
	to, subject string
	cc          []string
}

func (f *fakeEmail) Send(ctx context.Context, to string, cc []string, subject, htmlBody string) error {
	f.to, f.subject, f.cc = to, subject, cc
	return nil
}

type fakeWebhook struct {
	url, method, secretKey string
	body                   []byte
}

func (f *fakeWebhook) Send(ctx context.Context, url, method string, headers map[string]string, secretKey string, body []byte) error {
	f.url, f.method, f.secretKey, f.body = url, method, secretKey, body
	return nil
}

type fakeFrameBuffer struct {
	frames []models.Frame
}

func (f *fakeFrameBuffer) Buffer(sourceID string, window time.Duration) []models.Frame {
	return f.frames
}

type fakeMediaStore struct {
	subject, kind string
	data          []byte
}

func (f *fakeMediaStore) Put(subject string, takenAt time.Time, kind string, data []byte) (string, error) {
	f.subject, f.kind, f.data = subject, kind, data
	return subject + "/" + kind, nil
}

type fakeProjector struct {
	payload CorrelatorPayload
}

func (f *fakeProjector) Project(p CorrelatorPayload) error {
	f.payload = p
	return nil
}

func TestDefaultExecutorEmailUsesConfigFields(t *testing.T) {
	email := &fakeEmail{}
	e := &DefaultExecutor{Email: email}
	pkt := Packet{SourceID: "cam1", Detections: []models.Detection{{ClassID: 1}}}

	err := e.Execute(context.Background(), "email", map[string]any{
		"to": "ops@example.com", "subject": "motion detected", "cc": []any{"a@example.com"},
	}, pkt)

	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", email.to)
	assert.Equal(t, "motion detected", email.subject)
	assert.Equal(t, []string{"a@example.com"}, email.cc)
}

func TestDefaultExecutorWebhookSignsAndEncodesDetections(t *testing.T) {
	webhook := &fakeWebhook{}
	e := &DefaultExecutor{Webhook: webhook}
	pkt := Packet{SourceID: "cam1", Detections: []models.Detection{{ClassID: 2, Confidence: 0.8}}}

	err := e.Execute(context.Background(), "webhook", map[string]any{
		"url": "https://example.com/hook", "method": "POST", "secretKey": "s3cr3t",
	}, pkt)

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", webhook.url)
	assert.Equal(t, "POST", webhook.method)
	assert.Equal(t, "s3cr3t", webhook.secretKey)
	assert.NotEmpty(t, webhook.body)
}

func TestDefaultExecutorRecordBuffersAndPersists(t *testing.T) {
	frames := &fakeFrameBuffer{frames: []models.Frame{{SourceID: "cam1", Sequence: 1}}}
	media := &fakeMediaStore{}
	e := &DefaultExecutor{Frames: frames, Media: media}
	pkt := Packet{SourceID: "cam1"}

	err := e.Execute(context.Background(), "record", map[string]any{"preBufferSec": float64(5)}, pkt)

	require.NoError(t, err)
	assert.Equal(t, "cam1", media.subject)
	assert.Equal(t, "clip", media.kind)
	assert.NotEmpty(t, media.data)
}

func TestDefaultExecutorRecordSkipsWhenNoFramesBuffered(t *testing.T) {
	frames := &fakeFrameBuffer{}
	media := &fakeMediaStore{}
	e := &DefaultExecutor{Frames: frames, Media: media}

	err := e.Execute(context.Background(), "record", map[string]any{}, Packet{SourceID: "cam1"})

	require.NoError(t, err)
	assert.Empty(t, media.subject)
}

func TestDefaultExecutorSnapshotPersistsFramePixels(t *testing.T) {
	media := &fakeMediaStore{}
	e := &DefaultExecutor{Media: media}
	pkt := Packet{SourceID: "cam1", Frame: &models.Frame{SourceID: "cam1", Pixels: []byte{1, 2, 3}}}

	err := e.Execute(context.Background(), "snapshot", map[string]any{}, pkt)

	require.NoError(t, err)
	assert.Equal(t, "snapshot", media.kind)
	assert.Equal(t, []byte{1, 2, 3}, media.data)
}

func TestDefaultExecutorAlertProjectsManualEvent(t *testing.T) {
	projector := &fakeProjector{}
	e := &DefaultExecutor{Notifier: projector}
	pkt := Packet{SourceID: "cam1"}

	err := e.Execute(context.Background(), "alert", map[string]any{"severity": "critical", "message": "operator triggered"}, pkt)

	require.NoError(t, err)
	assert.Equal(t, "cam1", projector.payload.DeviceID)
	assert.Equal(t, "manual_alert", projector.payload.Type)
	assert.Equal(t, "critical", projector.payload.Attributes["severity"])
}

func TestDefaultExecutorUnknownKindErrors(t *testing.T) {
	e := &DefaultExecutor{}
	err := e.Execute(context.Background(), "teleport", nil, Packet{})
	assert.Error(t, err)
}

func TestDefaultExecutorNilCollaboratorsAreNoOps(t *testing.T) {
	e := &DefaultExecutor{}
	for _, kind := range []string{"email", "webhook", "record", "snapshot", "alert", "log"} {
		assert.NoError(t, e.Execute(context.Background(), kind, map[string]any{}, Packet{SourceID: "cam1"}))
	}
}
