package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// errorWindow is the rolling window over which recoverable errors are
// counted towards the persistent-failure threshold (spec §4.5).
const errorWindow = 30 * time.Second

// errorThreshold is the count within errorWindow that promotes a node from
// "recoverable errors logged" to the terminal `error` node state.
const errorThreshold = 10

// nodeFn is one node type's processing step: consume everything ready on
// in, optionally emit on out. Returning an error counts as a recoverable
// failure for that invocation; the runtime decides whether it has become
// persistent.
type nodeFn func(ctx context.Context, rt *nodeRuntime, pkt Packet) error

// nodeRuntime is the live state backing one node worker goroutine.
type nodeRuntime struct {
	node   models.Node
	config map[string]any

	in  chan Packet
	out []chan Packet // one per outgoing edge, fanned out identically

	fps         int
	minInterval time.Duration
	lastEmit    time.Time

	mu        sync.Mutex
	errors    []time.Time
	state     string // "running", "error"
	lastError string

	fn nodeFn

	emit func(Packet) // pushes to all of out, non-blocking with drop-oldest semantics
	wf   *Instance

	// Per-node-type scratch state. Only the worker goroutine touches these
	// (run() processes one packet at a time), so no locking is needed.
	dwell        map[string]trackDwell
	brightness   []brightnessSample
	lastDayNight string
	vuAbove      bool
}

func newNodeRuntime(n models.Node, cfg map[string]any, fn nodeFn, wf *Instance) *nodeRuntime {
	fps := 0
	if v, ok := cfg["fps"]; ok {
		if f, ok := toFloat(v); ok {
			fps = int(f)
		}
	}
	rt := &nodeRuntime{
		node:   n,
		config: cfg,
		in:     make(chan Packet, 64),
		fps:    fps,
		state:  "running",
		fn:     fn,
		wf:     wf,
	}
	if fps > 0 {
		rt.minInterval = time.Second / time.Duration(fps)
	}
	rt.emit = func(p Packet) {
		p.Emitted = time.Now()
		for _, ch := range rt.out {
			select {
			case ch <- p:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- p:
				default:
				}
			}
		}
	}
	return rt
}

// project hands a detection-producing node's result to the Event
// Correlator (spec §4.7 data flow: "detections → C7"). A nil Correlator
// dependency (e.g. in unit tests exercising a node in isolation) makes this
// a no-op rather than a panic.
func (rt *nodeRuntime) project(sourceID, eventType string, confidence float64, observedAt time.Time, attrs map[string]any) {
	if rt.wf.deps.Correlator == nil {
		return
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	err := rt.wf.deps.Correlator.Project(CorrelatorPayload{
		DeviceID:   sourceID,
		Type:       eventType,
		Confidence: confidence,
		ObservedAt: observedAt,
		Attributes: attrs,
	})
	if err != nil {
		rt.recordError(fmt.Errorf("node %s: project event: %w", rt.node.ID, err))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// throttled reports whether the node's per-node FPS budget allows
// processing now, advancing lastEmit if so (spec §4.5 frame-driven
// scheduling).
func (rt *nodeRuntime) throttled() bool {
	if rt.minInterval == 0 {
		return false
	}
	now := time.Now()
	if now.Sub(rt.lastEmit) < rt.minInterval {
		return true
	}
	rt.lastEmit = now
	return false
}

// run is the node's worker loop: read packets, apply fn, track failure rate,
// and escalate to catch nodes / the instance on persistent failure.
func (rt *nodeRuntime) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-rt.in:
			if !ok {
				return
			}
			if pkt.Kind == models.EdgeVideo && rt.throttled() {
				continue
			}
			if err := rt.fn(ctx, rt, pkt); err != nil {
				rt.recordError(err)
			}
		}
	}
}

func (rt *nodeRuntime) recordError(err error) {
	rt.mu.Lock()
	now := time.Now()
	rt.errors = append(rt.errors, now)
	cutoff := now.Add(-errorWindow)
	kept := rt.errors[:0]
	for _, t := range rt.errors {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rt.errors = kept
	rt.lastError = err.Error()
	persistent := len(rt.errors) >= errorThreshold
	if persistent {
		rt.state = "error"
	}
	rt.mu.Unlock()

	rt.wf.onNodeError(rt.node.ID, err, persistent)
}
