package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/internal/eventbus"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

type fakeRouter struct {
	frames chan models.Frame
}

func (f *fakeRouter) AddEdge(edgeKey string, cfg FrameRouterEdgeConfig) (<-chan models.Frame, func(), error) {
	return f.frames, func() {}, nil
}

type fakeHandle struct {
	detections []models.Detection
}

func (h *fakeHandle) Detect(ctx context.Context, frame models.Frame, config map[string]any) ([]models.Detection, error) {
	return h.detections, nil
}
func (h *fakeHandle) DetectAudio(ctx context.Context, audio models.AudioSample, config map[string]any) (models.AudioResult, error) {
	return models.AudioResult{}, nil
}
func (h *fakeHandle) Release() {}

type fakeModels struct {
	detections []models.Detection
}

func (m *fakeModels) Acquire(modelID string, config map[string]any) (ModelHandle, error) {
	return &fakeHandle{detections: m.detections}, nil
}

func TestInstanceStartRoutesFrameThroughModelToSink(t *testing.T) {
	router := &fakeRouter{frames: make(chan models.Frame, 4)}
	models_ := &fakeModels{detections: []models.Detection{{ClassID: 1, Confidence: 0.9}}}
	bus := eventbus.New(10)

	wf := models.Workflow{
		ID: "wf1",
		Nodes: []models.Node{
			{ID: "cam", Type: models.NodeCamera, Data: map[string]any{"cameraId": "c1"}},
			{ID: "m1", Type: models.NodeModel, Data: map[string]any{"modelId": "yolov8", "classes": []any{1}}},
			{ID: "dbg", Type: models.NodeDebug, Data: map[string]any{}},
		},
		Edges: []models.Edge{
			{ID: "e1", SourceNode: "cam", TargetNode: "m1", Kind: models.EdgeVideo},
			{ID: "e2", SourceNode: "m1", TargetNode: "dbg", Kind: models.EdgeDetections},
		},
	}

	inst := New(wf, Deps{Router: router, Models: models_, Bus: bus})
	require.NoError(t, inst.Start(context.Background()))
	defer inst.Stop()

	sub := bus.Subscribe(eventbus.Filter{WorkflowID: "wf1", NodeID: "dbg"})
	defer sub.Unsubscribe()

	router.frames <- models.Frame{SourceID: "c1", Sequence: 1, Timestamp: time.Now()}

	select {
	case e := <-sub.Events:
		assert.Equal(t, eventbus.Detection, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a detection to reach the debug sink")
	}

	assert.Equal(t, models.WorkflowRunning, inst.Status())
}

func TestInstanceStopIsIdempotentAndReleasesGoroutines(t *testing.T) {
	router := &fakeRouter{frames: make(chan models.Frame, 1)}
	models_ := &fakeModels{}
	wf := models.Workflow{
		ID:    "wf2",
		Nodes: []models.Node{{ID: "cam", Type: models.NodeCamera, Data: map[string]any{"cameraId": "c1"}}},
	}
	inst := New(wf, Deps{Router: router, Models: models_})
	require.NoError(t, inst.Start(context.Background()))
	inst.Stop()
	inst.Stop() // must not panic or block
	assert.Equal(t, models.WorkflowStopped, inst.Status())
}
