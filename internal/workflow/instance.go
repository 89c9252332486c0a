package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WispAyr/overwatch-sub003/internal/eventbus"
	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// FrameSource subscribes a workflow's input nodes to the Frame Router.
type FrameSource interface {
	AddEdge(edgeKey string, cfg FrameRouterEdgeConfig) (<-chan models.Frame, func(), error)
}

// FrameRouterEdgeConfig mirrors router.EdgeConfig's fields the workflow
// engine needs to set, kept local to avoid a hard dependency on the
// router package's concrete type.
type FrameRouterEdgeConfig struct {
	SourceID   string
	WorkflowID string
	TargetFPS  int
	QueueDepth int
	DropPolicy models.DropPolicy
}

// ModelCaller is the subset of the Model Registry the engine needs.
type ModelCaller interface {
	Acquire(modelID string, config map[string]any) (ModelHandle, error)
}

// ModelHandle is an acquired, released-on-stop model reference.
type ModelHandle interface {
	Detect(ctx context.Context, frame models.Frame, config map[string]any) ([]models.Detection, error)
	// DetectAudio is the audio-capable counterpart of Detect, used by
	// audioAI nodes. Engines with no audio capability return an error.
	DetectAudio(ctx context.Context, audio models.AudioSample, config map[string]any) (models.AudioResult, error)
	Release()
}

// EventProjector is the Event Correlator's entry point from sink nodes.
type EventProjector interface {
	Project(p CorrelatorPayload) error
}

// CorrelatorPayload carries the minimal fields workflow sink nodes know
// about; internal/correlator.DetectionPayload is the concrete shape this
// adapts to at the wiring boundary in cmd/overwatch.
type CorrelatorPayload struct {
	DeviceID   string
	Type       string
	Confidence float64
	ObservedAt time.Time
	Location   *models.Geometry
	Attributes map[string]any
	Media      models.Media
}

// Deps bundles every cross-component collaborator a running Instance needs.
type Deps struct {
	Router     FrameSource
	Models     ModelCaller
	Bus        *eventbus.Bus
	Correlator EventProjector
	Logger     logging.Logger
	FailFast   bool

	// Executor runs action node side effects. A nil Executor leaves action
	// nodes as validated, harmless no-ops.
	Executor ActionExecutor
	// BrightnessFunc samples a frame's luminance for dayNightDetector nodes.
	// A nil BrightnessFunc leaves every sample at 0 (permanent "night").
	BrightnessFunc func(models.Frame) float64
}

// Instance is one deployed, running copy of a Workflow.
type Instance struct {
	wf   models.Workflow
	deps Deps

	cancel context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nodes   map[string]*nodeRuntime
	errLog  []models.NodeError
	status  models.WorkflowStatus
	catches map[string][]string     // catch node ID -> scoped node IDs ("*" = all)
	linkIns map[string]*nodeRuntime // linkIn name -> runtime, for linkCall dispatch

	// linkCallMu serialises "send to linkIn, then enqueue the reply
	// channel" across every linkCall node in this instance, so two
	// concurrent callers targeting the same name can never have their
	// sends and enqueues interleave into a mismatched pairing at dequeue
	// time. Deliberately a separate lock from mu: the send can block for
	// up to linkCallTimeout under backpressure, and holding mu for that
	// long would stall unrelated instance bookkeeping.
	linkCallMu sync.Mutex
	linkCalls  map[string][]chan Packet // linkOut name -> FIFO queue of pending callers' reply channels
}

// findLinkIn resolves a linkCall target name to its linkIn node's runtime.
func (inst *Instance) findLinkIn(name string) (*nodeRuntime, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rt, ok := inst.linkIns[name]
	return rt, ok
}

// enqueueLinkCall registers a fresh, buffered reply channel at the back of
// name's FIFO queue, for a linkOut reached under that name to deliver into.
func (inst *Instance) enqueueLinkCall(name string) chan Packet {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	ch := make(chan Packet, 1)
	inst.linkCalls[name] = append(inst.linkCalls[name], ch)
	return ch
}

// dispatchLinkCall sends pkt to linkIn and registers a reply channel for
// target as one atomic step (guarded by linkCallMu), so concurrent callers
// of the same target can't have their sends and enqueues interleave into a
// mismatched FIFO pairing. Returns the reply channel to await, or an error
// if linkIn never accepted pkt within timeout.
func (inst *Instance) dispatchLinkCall(target string, linkIn *nodeRuntime, pkt Packet, timeout time.Duration) (chan Packet, error) {
	inst.linkCallMu.Lock()
	defer inst.linkCallMu.Unlock()
	select {
	case linkIn.in <- pkt:
	case <-time.After(timeout):
		return nil, fmt.Errorf("target %q timed out", target)
	}
	return inst.enqueueLinkCall(target), nil
}

// dequeueLinkCall pops the oldest pending reply channel registered under
// name, if any.
func (inst *Instance) dequeueLinkCall(name string) (chan Packet, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	q := inst.linkCalls[name]
	if len(q) == 0 {
		return nil, false
	}
	ch := q[0]
	inst.linkCalls[name] = q[1:]
	return ch, true
}

// cancelLinkCall removes ch from name's FIFO queue without waiting for a
// reply, so an abandoned call (timed out or context-cancelled before
// linkIn ever accepted it) doesn't later absorb a different, unrelated
// call's linkOut delivery.
func (inst *Instance) cancelLinkCall(name string, ch chan Packet) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	q := inst.linkCalls[name]
	for i, c := range q {
		if c == ch {
			inst.linkCalls[name] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// New builds (but does not start) an Instance for wf.
func New(wf models.Workflow, deps Deps) *Instance {
	return &Instance{
		wf:        wf,
		deps:      deps,
		nodes:     make(map[string]*nodeRuntime),
		status:    models.WorkflowDraft,
		catches:   make(map[string][]string),
		linkIns:   make(map[string]*nodeRuntime),
		linkCalls: make(map[string][]chan Packet),
	}
}

// Start instantiates every node, wires edges, subscribes inputs, and begins
// processing (spec §4.5 lifecycle: start).
func (inst *Instance) Start(ctx context.Context) error {
	inst.mu.Lock()
	if inst.status == models.WorkflowRunning {
		inst.mu.Unlock()
		return fmt.Errorf("workflow %s already running", inst.wf.ID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	inst.cancel, inst.stop = runCtx, cancel
	inst.mu.Unlock()

	propagated := inst.propagatedConfigs()

	for _, n := range inst.wf.Nodes {
		cfg := mergeConfig(n.Data, propagated[n.ID])
		fn, ok := nodeImpls[n.Type]
		if !ok {
			continue // input nodes feed in via subscribeInputs; config nodes via propagatedConfigs
		}
		switch n.Type {
		case models.NodeAction:
			if inst.deps.Executor != nil {
				cfg["_executor"] = inst.deps.Executor
			}
		case models.NodeDayNightDetector:
			if inst.deps.BrightnessFunc != nil {
				cfg["_brightness_hook"] = inst.deps.BrightnessFunc
			}
		}
		rt := newNodeRuntime(n, cfg, fn, inst)
		inst.mu.Lock()
		inst.nodes[n.ID] = rt
		inst.mu.Unlock()
	}

	inst.wireEdges()
	inst.indexCatchScopes()
	inst.indexLinkIns()

	for _, rt := range inst.nodes {
		inst.wg.Add(1)
		go func(rt *nodeRuntime) {
			defer inst.wg.Done()
			rt.run(runCtx)
		}(rt)
	}

	if err := inst.subscribeInputs(); err != nil {
		inst.stop()
		return err
	}

	inst.mu.Lock()
	inst.status = models.WorkflowRunning
	inst.mu.Unlock()
	inst.publishLifecycle("workflow_started")
	return nil
}

// Stop cancels every node worker, unsubscribes inputs, and waits for
// teardown (spec §4.5 lifecycle: stop). Safe to call on an already-stopped
// instance.
func (inst *Instance) Stop() {
	inst.mu.Lock()
	if inst.status != models.WorkflowRunning {
		inst.mu.Unlock()
		return
	}
	stop := inst.stop
	inst.status = models.WorkflowStopped
	inst.mu.Unlock()

	stop()
	inst.wg.Wait()
	inst.publishLifecycle("workflow_stopped")
}

// Restart stops then starts the same version (spec §4.5 lifecycle: restart).
func (inst *Instance) Restart(ctx context.Context) error {
	inst.Stop()
	return inst.Start(ctx)
}

// Status returns the workflow's current lifecycle status.
func (inst *Instance) Status() models.WorkflowStatus {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.status
}

// RecentErrors returns up to the last 20 node errors (spec §7).
func (inst *Instance) RecentErrors() []models.NodeError {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]models.NodeError, len(inst.errLog))
	copy(out, inst.errLog)
	return out
}

func (inst *Instance) onNodeError(nodeID string, err error, persistent bool) {
	inst.mu.Lock()
	inst.errLog = append(inst.errLog, models.NodeError{NodeID: nodeID, Message: err.Error(), Timestamp: time.Now().Unix()})
	if len(inst.errLog) > 20 {
		inst.errLog = inst.errLog[len(inst.errLog)-20:]
	}
	failFast := inst.deps.FailFast
	inst.mu.Unlock()

	if inst.deps.Bus != nil {
		inst.deps.Bus.Publish(eventbus.Event{
			Type: eventbus.NodeError, WorkflowID: inst.wf.ID, NodeID: nodeID,
			Timestamp: time.Now(), Payload: err.Error(),
		})
	}
	inst.routeToCatchNodes(nodeID, err)

	if persistent {
		inst.mu.Lock()
		inst.status = models.WorkflowError
		inst.mu.Unlock()
		if failFast {
			go inst.Stop()
		}
	}
}

func (inst *Instance) routeToCatchNodes(nodeID string, err error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for catchID, scope := range inst.catches {
		matched := false
		for _, s := range scope {
			if s == "*" || s == nodeID {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		rt, ok := inst.nodes[catchID]
		if !ok {
			continue
		}
		select {
		case rt.in <- Packet{Kind: models.EdgeDetections, Event: &models.RawEvent{Type: "node_error", DeviceID: nodeID, Attributes: map[string]any{"message": err.Error()}}}:
		default:
		}
	}
}

func (inst *Instance) publishLifecycle(msg string) {
	if inst.deps.Bus == nil {
		return
	}
	inst.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.WorkflowLifecycle, WorkflowID: inst.wf.ID, Timestamp: time.Now(), Payload: msg,
	})
}

// propagatedConfigs resolves every `config` node's payload onto its sink
// nodes, merged in edge-order (spec §4.5: "config propagation").
func (inst *Instance) propagatedConfigs() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, e := range inst.wf.Edges {
		src := inst.findNode(e.SourceNode)
		if src == nil || src.Type != models.NodeConfig {
			continue
		}
		existing := out[e.TargetNode]
		payload, _ := src.Data["config"].(map[string]any)
		if payload == nil {
			payload = src.Data
		}
		out[e.TargetNode] = mergeConfig(existing, payload)
	}
	return out
}

func (inst *Instance) findNode(id string) *models.Node {
	for i := range inst.wf.Nodes {
		if inst.wf.Nodes[i].ID == id {
			return &inst.wf.Nodes[i]
		}
	}
	return nil
}

// wireEdges connects each non-input-sourced edge's source node output fan-out
// to the target node's input channel.
func (inst *Instance) wireEdges() {
	for _, e := range inst.wf.Edges {
		srcRT, srcIsNode := inst.nodes[e.SourceNode]
		dstRT, dstOK := inst.nodes[e.TargetNode]
		if !dstOK {
			continue
		}
		if srcIsNode {
			srcRT.out = append(srcRT.out, dstRT.in)
		}
		// Edges sourced from input nodes (camera/videoInput/youtube) are
		// wired directly to the Frame Router in subscribeInputs instead.
	}
}

func (inst *Instance) indexLinkIns() {
	for _, n := range inst.wf.Nodes {
		if n.Type != models.NodeLinkIn {
			continue
		}
		name, _ := n.Data["name"].(string)
		if rt, ok := inst.nodes[n.ID]; ok && name != "" {
			inst.linkIns[name] = rt
		}
	}
}

func (inst *Instance) indexCatchScopes() {
	for _, n := range inst.wf.Nodes {
		if n.Type != models.NodeCatch {
			continue
		}
		scope, _ := n.Data["nodeIds"].([]any)
		scopeStr, _ := n.Data["scope"].(string)
		var ids []string
		if scopeStr == "all" || len(scope) == 0 {
			ids = []string{"*"}
		} else {
			for _, s := range scope {
				if str, ok := s.(string); ok {
					ids = append(ids, str)
				}
			}
		}
		inst.catches[n.ID] = ids
	}
}

// subscribeInputs subscribes every camera/videoInput/youtube node to the
// Frame Router and fans its frames into every node wired to its output
// edges.
func (inst *Instance) subscribeInputs() error {
	for _, n := range inst.wf.Nodes {
		if n.Type != models.NodeCamera && n.Type != models.NodeVideoInput && n.Type != models.NodeYoutube {
			continue
		}
		sourceID, _ := n.Data["cameraId"].(string)
		if sourceID == "" {
			sourceID, _ = n.Data["videoInputId"].(string)
		}
		targetFPS := 0
		if fps, ok := toFloat(n.Data["fps"]); ok {
			targetFPS = int(fps)
		}
		frames, cancel, err := inst.deps.Router.AddEdge(inst.wf.ID+":"+n.ID, FrameRouterEdgeConfig{
			SourceID:   sourceID,
			WorkflowID: inst.wf.ID,
			TargetFPS:  targetFPS,
			QueueDepth: 64,
			DropPolicy: models.DropOldest,
		})
		if err != nil {
			return fmt.Errorf("subscribe input node %s: %w", n.ID, err)
		}

		targets := inst.downstreamOf(n.ID)
		inst.wg.Add(1)
		go func(frames <-chan models.Frame, cancel func(), targets []*nodeRuntime) {
			defer inst.wg.Done()
			defer cancel()
			for {
				select {
				case <-inst.cancel.Done():
					return
				case f, ok := <-frames:
					if !ok {
						return
					}
					pkt := Packet{Kind: models.EdgeVideo, Frame: &f, SourceID: f.SourceID}
					for _, rt := range targets {
						select {
						case rt.in <- pkt:
						default:
						}
					}
				}
			}
		}(frames, cancel, targets)
	}
	return nil
}

func (inst *Instance) downstreamOf(nodeID string) []*nodeRuntime {
	var out []*nodeRuntime
	for _, e := range inst.wf.Edges {
		if e.SourceNode == nodeID {
			if rt, ok := inst.nodes[e.TargetNode]; ok {
				out = append(out, rt)
			}
		}
	}
	return out
}
