package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

type fakeEngine struct {
	loads     *int32
	cleanups  *int32
	inFlight  int32
	maxInFlight int32
	mu        sync.Mutex
}

func (e *fakeEngine) Initialize(map[string]any) error {
	atomic.AddInt32(e.loads, 1)
	return nil
}

func (e *fakeEngine) Detect(ctx context.Context, f models.Frame, cfg map[string]any) ([]models.Detection, error) {
	cur := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	e.mu.Lock()
	if cur > e.maxInFlight {
		e.maxInFlight = cur
	}
	e.mu.Unlock()
	return nil, nil
}

func (e *fakeEngine) DetectAudio(ctx context.Context, a models.AudioSample, cfg map[string]any) (models.AudioResult, error) {
	return models.AudioResult{}, nil
}

func (e *fakeEngine) Cleanup() error {
	atomic.AddInt32(e.cleanups, 1)
	return nil
}

func TestAcquireSharesSingleLoadAcrossConcurrentCallers(t *testing.T) {
	var loads, cleanups int32
	engine := &fakeEngine{loads: &loads, cleanups: &cleanups}
	reg := New(func(modelID string) (Engine, bool, error) {
		return engine, true, nil
	}, nil, nil)

	var wg sync.WaitGroup
	handles := make([]*Handle, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := reg.Acquire("yolov8", nil)
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))

	for _, h := range handles {
		h.Release()
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&cleanups))
}

func TestNonThreadSafeEngineSerialisesDetectCalls(t *testing.T) {
	var loads, cleanups int32
	engine := &fakeEngine{loads: &loads, cleanups: &cleanups}
	reg := New(func(modelID string) (Engine, bool, error) {
		return engine, false, nil
	}, nil, nil)

	h, err := reg.Acquire("legacy-model", nil)
	require.NoError(t, err)
	defer h.Release()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Detect(context.Background(), models.Frame{}, nil)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, engine.maxInFlight)
}
