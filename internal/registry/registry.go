// Package registry implements the Model Registry (spec §4.3): lazy-loaded,
// reference-counted, shared inference engines behind a uniform detection
// contract. Calls to an engine that does not declare itself thread-safe are
// serialised through a per-engine mutex; there is no pool of engine
// instances.
package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Status is the model's deployability state, surfaced via the status API
// (spec §6).
type Status string

const (
	StatusReady          Status = "ready"
	StatusNeedsConfig    Status = "needs_config"
	StatusBeta           Status = "beta"
	StatusNotImplemented Status = "not_implemented"
)

// Engine is the uniform inference contract every model must satisfy (spec
// §4.3). Models and the preprocessing pipeline are opaque beyond this
// interface — the registry never assumes an implementation language.
type Engine interface {
	Initialize(config map[string]any) error
	Detect(ctx context.Context, frame models.Frame, config map[string]any) ([]models.Detection, error)
	// DetectAudio runs an audio-capable engine (transcription or sound
	// classification) over one buffered chunk. Engines with no audio
	// capability return an error; the registry does not distinguish that
	// from any other call failure.
	DetectAudio(ctx context.Context, audio models.AudioSample, config map[string]any) (models.AudioResult, error)
	Cleanup() error
}

// EngineFactory constructs a fresh Engine instance for modelID. ThreadSafe
// reports whether the registry may call Detect concurrently on one
// instance, or must serialise calls.
type EngineFactory func(modelID string) (engine Engine, threadSafe bool, err error)

// Descriptor is what the status API (spec §6) reports for one model.
type Descriptor struct {
	ModelID         string
	Status          Status
	Dependencies    []string
	DependenciesMet bool
	SetupSteps      []string
}

type handle struct {
	mu         sync.Mutex // guards non-thread-safe engines' Detect calls
	engine     Engine
	threadSafe bool
	refs       int
	descriptor Descriptor
}

// Registry holds singleton Engine instances keyed by model ID.
type Registry struct {
	logger  logging.Logger
	factory EngineFactory

	mu      sync.Mutex
	engines map[string]*handle
	sf      singleflight.Group

	descriptorsMu sync.RWMutex
	descriptors   map[string]Descriptor
}

// New creates a Registry. descriptors seeds the status API with models the
// runtime knows about before any workflow has acquired them.
func New(factory EngineFactory, logger logging.Logger, descriptors map[string]Descriptor) *Registry {
	d := make(map[string]Descriptor, len(descriptors))
	for k, v := range descriptors {
		d[k] = v
	}
	return &Registry{
		logger:      logger,
		factory:     factory,
		engines:     make(map[string]*handle),
		descriptors: d,
	}
}

// Acquire loads (on first use) or returns the shared engine for modelID,
// incrementing its reference count. Concurrent first-requests for the same
// model collapse into a single load via singleflight.
func (r *Registry) Acquire(modelID string, config map[string]any) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.engines[modelID]; ok {
		h.refs++
		r.mu.Unlock()
		return &Handle{registry: r, modelID: modelID, h: h}, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(modelID, func() (any, error) {
		r.mu.Lock()
		if h, ok := r.engines[modelID]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		engine, threadSafe, err := r.factory(modelID)
		if err != nil {
			return nil, fmt.Errorf("registry: load model %q: %w", modelID, err)
		}
		if err := engine.Initialize(config); err != nil {
			return nil, fmt.Errorf("registry: initialize model %q: %w", modelID, err)
		}
		h := &handle{engine: engine, threadSafe: threadSafe}
		r.mu.Lock()
		r.engines[modelID] = h
		r.mu.Unlock()
		r.setStatus(modelID, StatusReady)
		return h, nil
	})
	if err != nil {
		r.setStatus(modelID, StatusNotImplemented)
		return nil, err
	}
	h := v.(*handle)
	r.mu.Lock()
	h.refs++
	r.mu.Unlock()
	return &Handle{registry: r, modelID: modelID, h: h}, nil
}

// release decrements the refcount and unloads the engine once it reaches
// zero (spec §4.3: "engine is unloaded when the last workflow releases it").
func (r *Registry) release(modelID string, h *handle) {
	r.mu.Lock()
	h.refs--
	remaining := h.refs
	if remaining <= 0 {
		delete(r.engines, modelID)
	}
	r.mu.Unlock()
	if remaining <= 0 {
		if err := h.engine.Cleanup(); err != nil && r.logger != nil {
			r.logger.WithError(err).WithField("model_id", modelID).Warn("model cleanup failed")
		}
	}
}

func (r *Registry) setStatus(modelID string, status Status) {
	r.descriptorsMu.Lock()
	defer r.descriptorsMu.Unlock()
	d := r.descriptors[modelID]
	d.ModelID = modelID
	d.Status = status
	r.descriptors[modelID] = d
}

// Descriptors returns the status API view of every known model (spec §6).
func (r *Registry) Descriptors() []Descriptor {
	r.descriptorsMu.RLock()
	defer r.descriptorsMu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// Handle is a workflow's claim on a shared Engine. Detect serialises calls
// for engines that declared themselves non-thread-safe at load time.
type Handle struct {
	registry *Registry
	modelID  string
	h        *handle
}

// Detect runs the engine against frame, applying concurrency-safety rules
// declared at registration (spec §4.3).
func (hd *Handle) Detect(ctx context.Context, frame models.Frame, config map[string]any) ([]models.Detection, error) {
	if hd.h.threadSafe {
		return hd.h.engine.Detect(ctx, frame, config)
	}
	hd.h.mu.Lock()
	defer hd.h.mu.Unlock()
	return hd.h.engine.Detect(ctx, frame, config)
}

// DetectAudio runs the engine against one audio chunk, applying the same
// concurrency-safety rules as Detect.
func (hd *Handle) DetectAudio(ctx context.Context, audio models.AudioSample, config map[string]any) (models.AudioResult, error) {
	if hd.h.threadSafe {
		return hd.h.engine.DetectAudio(ctx, audio, config)
	}
	hd.h.mu.Lock()
	defer hd.h.mu.Unlock()
	return hd.h.engine.DetectAudio(ctx, audio, config)
}

// Release gives up this handle's reference on the underlying engine.
func (hd *Handle) Release() {
	hd.registry.release(hd.modelID, hd.h)
}
