// Package router implements the Frame Router (spec §4.2): it fans out each
// source's frames to every workflow subscribed to it, applying per-edge FPS
// throttling and bounded-queue backpressure independently per (source,
// workflow) pair.
package router

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// EdgeConfig describes how one workflow input node wants frames from one
// source delivered.
type EdgeConfig struct {
	SourceID   string
	WorkflowID string
	TargetFPS  float64
	QueueDepth int
	DropPolicy models.DropPolicy
}

// EdgeMetrics are the per-edge counters spec §4.2 requires.
type EdgeMetrics struct {
	FramesOffered         uint64
	FramesForwarded       uint64
	FramesDroppedThrottle uint64
	FramesDroppedQueue    uint64
	QueueDepth            int
}

// edge is the router's internal bookkeeping for one (source, workflow) pair.
type edge struct {
	cfg EdgeConfig

	mu             sync.Mutex
	lastForwarded  time.Time
	metrics        EdgeMetrics
	out            chan models.Frame
	sourceCancel   func()
	cancelled      bool
}

// Router fans out frames from sources to subscribed workflow edges.
type Router struct {
	logger logging.Logger
	subs   subscriber

	mu    sync.RWMutex
	edges map[string]*edge // key: source+"|"+workflow+"|"+target node id, see EdgeKey

	metrics *metricSet
}

// subscriber is the subset of *ingest.Manager the router depends on, kept
// as an interface so the router can be unit-tested without a real Source.
type subscriber interface {
	Subscribe(sourceID, subscriberID string, queueDepth int) (<-chan models.Frame, func(), error)
}

// New creates a Router reading frames via subs (normally *ingest.Manager).
func New(subs subscriber, logger logging.Logger, reg prometheus.Registerer) *Router {
	return &Router{
		logger:  logger,
		subs:    subs,
		edges:   make(map[string]*edge),
		metrics: newMetricSet(reg),
	}
}

// EdgeKey identifies one (source, workflow, target node) subscription.
func EdgeKey(sourceID, workflowID, targetNode string) string {
	return sourceID + "|" + workflowID + "|" + targetNode
}

// AddEdge subscribes a workflow input node to a source's frames, returning a
// channel the node worker drains asynchronously and a cancel func that stops
// and releases the edge (spec §4.2: "cancellation...drains and releases the
// queue; no frames delivered afterwards").
func (r *Router) AddEdge(targetNode string, cfg EdgeConfig) (<-chan models.Frame, func(), error) {
	key := EdgeKey(cfg.SourceID, cfg.WorkflowID, targetNode)
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 16
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = models.DropOldest
	}

	raw, unsubscribe, err := r.subs.Subscribe(cfg.SourceID, key, depth*4)
	if err != nil {
		return nil, nil, err
	}

	e := &edge{cfg: cfg, out: make(chan models.Frame, depth)}
	r.mu.Lock()
	r.edges[key] = e
	r.mu.Unlock()

	done := make(chan struct{})
	go r.pump(key, e, raw, done)

	cancel := func() {
		e.mu.Lock()
		if e.cancelled {
			e.mu.Unlock()
			return
		}
		e.cancelled = true
		e.mu.Unlock()
		unsubscribe()
		<-done
		r.mu.Lock()
		delete(r.edges, key)
		r.mu.Unlock()
		close(e.out)
	}
	return e.out, cancel, nil
}

// pump applies throttle and backpressure for one edge, preserving source
// order (spec §5: "per (source, workflow) edge: FIFO frame order preserved").
func (r *Router) pump(key string, e *edge, raw <-chan models.Frame, done chan struct{}) {
	defer close(done)
	minInterval := time.Duration(0)
	if e.cfg.TargetFPS > 0 {
		minInterval = time.Duration(float64(time.Second) / e.cfg.TargetFPS)
	}
	// throttleSlack absorbs nanosecond rounding in frame timestamps: a 30 fps
	// source stamps frame 3 at 99.999999ms, which still counts as a full
	// 100ms interval for a 10 fps edge.
	const throttleSlack = time.Millisecond
	for frame := range raw {
		e.mu.Lock()
		e.metrics.FramesOffered++
		r.metrics.offered.WithLabelValues(key).Inc()

		now := frame.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		if minInterval > 0 && !e.lastForwarded.IsZero() && now.Sub(e.lastForwarded) < minInterval-throttleSlack {
			e.metrics.FramesDroppedThrottle++
			r.metrics.droppedThrottle.WithLabelValues(key).Inc()
			e.mu.Unlock()
			continue
		}
		e.lastForwarded = now
		e.mu.Unlock()

		select {
		case e.out <- frame:
			e.mu.Lock()
			e.metrics.FramesForwarded++
			e.metrics.QueueDepth = len(e.out)
			r.metrics.forwarded.WithLabelValues(key).Inc()
			r.metrics.queueDepth.WithLabelValues(key).Set(float64(len(e.out)))
			e.mu.Unlock()
		default:
			r.applyDropPolicy(key, e, frame)
		}
	}
}

// applyDropPolicy handles a full output queue per the edge's configured
// policy: drop_oldest evicts the head to make room for frame, drop_new
// discards frame itself.
func (r *Router) applyDropPolicy(key string, e *edge, frame models.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.FramesDroppedQueue++
	r.metrics.droppedQueue.WithLabelValues(key).Inc()
	if e.cfg.DropPolicy == models.DropOldest {
		select {
		case <-e.out:
		default:
		}
		select {
		case e.out <- frame:
			e.metrics.FramesForwarded++
			r.metrics.forwarded.WithLabelValues(key).Inc()
		default:
		}
	}
	e.metrics.QueueDepth = len(e.out)
	r.metrics.queueDepth.WithLabelValues(key).Set(float64(len(e.out)))
}

// Metrics returns a snapshot of one edge's counters.
func (r *Router) Metrics(sourceID, workflowID, targetNode string) (EdgeMetrics, bool) {
	r.mu.RLock()
	e, ok := r.edges[EdgeKey(sourceID, workflowID, targetNode)]
	r.mu.RUnlock()
	if !ok {
		return EdgeMetrics{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics, true
}
