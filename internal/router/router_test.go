package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// fakeSubscriber feeds a fixed slice of frames down one channel, standing in
// for the ingest Manager's per-subscriber broadcast channel.
type fakeSubscriber struct {
	frames []models.Frame
}

func (f *fakeSubscriber) Subscribe(sourceID, subscriberID string, queueDepth int) (<-chan models.Frame, func(), error) {
	ch := make(chan models.Frame, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch, func() {}, nil
}

func TestThrottleForwardsExpectedCount(t *testing.T) {
	// Scenario 1 (spec §8): 30 frames across 1.00s, target_fps=10 -> 10 forwarded.
	base := time.Now()
	frames := make([]models.Frame, 30)
	for i := range frames {
		frames[i] = models.Frame{
			SourceID:  "cam1",
			Sequence:  uint64(i + 1),
			Timestamp: base.Add(time.Duration(i) * (time.Second / 30)),
		}
	}
	fs := &fakeSubscriber{frames: frames}
	r := New(fs, logging.NewLogger(), nil)

	out, cancel, err := r.AddEdge("input1", EdgeConfig{
		SourceID:   "cam1",
		WorkflowID: "wf1",
		TargetFPS:  10,
		QueueDepth: 64,
	})
	require.NoError(t, err)
	defer cancel()

	var got []models.Frame
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case f, ok := <-out:
			if !ok {
				break drain
			}
			got = append(got, f)
		case <-timeout:
			break drain
		}
	}

	assert.GreaterOrEqual(t, len(got), 9)
	assert.LessOrEqual(t, len(got), 11)
}

func TestQueueBackpressureDropOldestKeepsNewest(t *testing.T) {
	base := time.Now()
	frames := make([]models.Frame, 5)
	for i := range frames {
		frames[i] = models.Frame{Sequence: uint64(i + 1), Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}
	fs := &fakeSubscriber{frames: frames}
	r := New(fs, logging.NewLogger(), nil)

	out, cancel, err := r.AddEdge("input1", EdgeConfig{
		SourceID:   "cam1",
		WorkflowID: "wf1",
		QueueDepth: 1,
		DropPolicy: models.DropOldest,
	})
	require.NoError(t, err)
	defer cancel()

	time.Sleep(100 * time.Millisecond) // let the pump drain the source channel

	var last models.Frame
	for {
		select {
		case f, ok := <-out:
			if !ok {
				goto done
			}
			last = f
		default:
			goto done
		}
	}
done:
	assert.EqualValues(t, 5, last.Sequence)
}
