package workflow

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/internal/eventbus"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// pcmAt builds n samples of 16-bit signed little-endian PCM at a constant
// amplitude corresponding to the given 0-1 level.
func pcmAt(level float64, n int) []byte {
	amp := int16(level * 32767)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amp))
	}
	return buf
}

func newAudioVURuntime(cfg map[string]any) (*nodeRuntime, chan Packet) {
	inst := New(models.Workflow{}, Deps{})
	rt := newNodeRuntime(models.Node{ID: "vu1"}, cfg, audioVUNode, inst)
	out := make(chan Packet, 8)
	rt.out = append(rt.out, out)
	return rt, out
}

func TestAudioVURisingPolicyFiresOnlyOnUpwardCrossing(t *testing.T) {
	rt, out := newAudioVURuntime(map[string]any{"threshold": 0.5, "hysteresis": 0.05})
	ctx := context.Background()

	require.NoError(t, audioVUNode(ctx, rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.2, 100)}}))
	select {
	case <-out:
		t.Fatal("must not fire while level stays below threshold")
	default:
	}

	require.NoError(t, audioVUNode(ctx, rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.8, 100)}}))
	select {
	case <-out:
	default:
		t.Fatal("expected a trigger on the upward crossing")
	}

	require.NoError(t, audioVUNode(ctx, rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.8, 100)}}))
	select {
	case <-out:
		t.Fatal("must not re-fire while level stays above threshold under the rising policy")
	default:
	}
}

func TestAudioVUContinuousPolicyFiresEveryPacketAboveThreshold(t *testing.T) {
	rt, out := newAudioVURuntime(map[string]any{"threshold": 0.5, "hysteresis": 0.05, "edgePolicy": "continuous"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, audioVUNode(ctx, rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.9, 100)}}))
		select {
		case <-out:
		default:
			t.Fatalf("expected a continuous trigger on packet %d", i)
		}
	}
}

func TestAudioVUFallingPolicyFiresOnlyOnDownwardCrossing(t *testing.T) {
	rt, out := newAudioVURuntime(map[string]any{"threshold": 0.5, "hysteresis": 0.05, "edgePolicy": "falling"})
	ctx := context.Background()

	require.NoError(t, audioVUNode(ctx, rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.9, 100)}}))
	select {
	case <-out:
		t.Fatal("must not fire on the upward crossing under the falling policy")
	default:
	}

	require.NoError(t, audioVUNode(ctx, rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.1, 100)}}))
	select {
	case <-out:
	default:
		t.Fatal("expected a trigger on the downward crossing")
	}
}

func TestLinkCallAwaitsLinkOutReply(t *testing.T) {
	bus := eventbus.New(10)
	wf := models.Workflow{
		ID: "wf-link",
		Nodes: []models.Node{
			{ID: "caller", Type: models.NodeLinkCall, Data: map[string]any{"target": "sub1"}},
			{ID: "in1", Type: models.NodeLinkIn, Data: map[string]any{"name": "sub1"}},
			{ID: "out1", Type: models.NodeLinkOut, Data: map[string]any{"name": "sub1"}},
			{ID: "sink", Type: models.NodeDebug, Data: map[string]any{}},
		},
		Edges: []models.Edge{
			{ID: "e1", SourceNode: "in1", TargetNode: "out1", Kind: models.EdgeDetections},
			{ID: "e2", SourceNode: "caller", TargetNode: "sink", Kind: models.EdgeDetections},
		},
	}
	inst := New(wf, Deps{Bus: bus})
	require.NoError(t, inst.Start(context.Background()))
	defer inst.Stop()

	sub := bus.Subscribe(eventbus.Filter{WorkflowID: "wf-link", NodeID: "sink"})
	defer sub.Unsubscribe()

	inst.nodes["caller"].in <- Packet{Kind: models.EdgeDetections, SourceID: "src1"}

	select {
	case e := <-sub.Events:
		pkt, ok := e.Payload.(Packet)
		require.True(t, ok)
		assert.Equal(t, "src1", pkt.SourceID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected linkCall's awaited linkOut reply to reach the caller's downstream sink")
	}
}

type fakeAudioHandle struct {
	result models.AudioResult
}

func (h *fakeAudioHandle) Detect(ctx context.Context, frame models.Frame, config map[string]any) ([]models.Detection, error) {
	return nil, nil
}
func (h *fakeAudioHandle) DetectAudio(ctx context.Context, audio models.AudioSample, config map[string]any) (models.AudioResult, error) {
	return h.result, nil
}
func (h *fakeAudioHandle) Release() {}

type fakeAudioModels struct {
	result models.AudioResult
}

func (m *fakeAudioModels) Acquire(modelID string, config map[string]any) (ModelHandle, error) {
	return &fakeAudioHandle{result: m.result}, nil
}

func TestAudioAIEmitsTranscriptionShapeWhenEngineReturnsText(t *testing.T) {
	inst := New(models.Workflow{}, Deps{Models: &fakeAudioModels{result: models.AudioResult{
		Text: "open the gate", Language: "en", Confidence: 0.9, KeywordsDetected: []string{"gate"},
	}}})
	rt := newNodeRuntime(models.Node{ID: "ai1"}, map[string]any{"modelId": "whisper"}, audioAINode, inst)
	out := make(chan Packet, 4)
	rt.out = append(rt.out, out)

	require.NoError(t, audioAINode(context.Background(), rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.5, 10)}}))

	select {
	case p := <-out:
		assert.Equal(t, "audio_transcription", p.Event.Type)
		assert.Equal(t, "open the gate", p.Event.Attributes["text"])
	default:
		t.Fatal("expected an emitted transcription event")
	}
}

func TestAudioAIEmitsClassificationShapeWhenEngineReturnsSoundClass(t *testing.T) {
	inst := New(models.Workflow{}, Deps{Models: &fakeAudioModels{result: models.AudioResult{
		SoundClass: "glass_break", Confidence: 0.8,
	}}})
	rt := newNodeRuntime(models.Node{ID: "ai1"}, map[string]any{"modelId": "yamnet"}, audioAINode, inst)
	out := make(chan Packet, 4)
	rt.out = append(rt.out, out)

	require.NoError(t, audioAINode(context.Background(), rt, Packet{Kind: models.EdgeAudio, Audio: AudioChunk{PCM: pcmAt(0.5, 10)}}))

	select {
	case p := <-out:
		assert.Equal(t, "audio_classification", p.Event.Type)
		assert.Equal(t, "glass_break", p.Event.Attributes["sound_class"])
	default:
		t.Fatal("expected an emitted classification event")
	}
}

func TestLinkCallErrorsWhenTargetHasNoLinkIn(t *testing.T) {
	wf := models.Workflow{
		ID: "wf-link-missing",
		Nodes: []models.Node{
			{ID: "caller", Type: models.NodeLinkCall, Data: map[string]any{"target": "nowhere"}},
		},
	}
	inst := New(wf, Deps{})
	require.NoError(t, inst.Start(context.Background()))
	defer inst.Stop()

	err := linkCallNode(context.Background(), inst.nodes["caller"], Packet{Kind: models.EdgeDetections})
	assert.Error(t, err)
}
