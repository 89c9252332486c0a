package workflow

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/WispAyr/overwatch-sub003/internal/eventbus"
	"github.com/WispAyr/overwatch-sub003/pkg/geo"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// nodeImpls maps each closed-set node type that has an independent worker
// loop to its processing function. Input nodes (camera/videoInput/youtube)
// and config nodes are handled outside this table (see instance.go); they
// have no `in` channel to read from.
var nodeImpls = map[models.NodeType]nodeFn{
	models.NodeModel:            modelNode,
	models.NodeZone:             zoneNode,
	models.NodeDetectionFilter:  detectionFilterNode,
	models.NodeParkingViolation: parkingViolationNode,
	models.NodeDayNightDetector: dayNightDetectorNode,
	models.NodeAudioExtractor:   audioExtractorNode,
	models.NodeAudioAI:          audioAINode,
	models.NodeAudioVU:          audioVUNode,
	models.NodeAction:           actionNode,
	models.NodeLinkIn:           passthroughNode,
	models.NodeLinkOut:          linkOutNode,
	models.NodeLinkCall:         linkCallNode,
	models.NodeCatch:            passthroughNode,
	models.NodeDataPreview:      sinkNode,
	models.NodeDebug:            sinkNode,
}

// modelNode calls the acquired model and drops detections failing the
// class/confidence predicate (spec §4.5).
func modelNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeVideo || pkt.Frame == nil {
		return nil
	}
	modelID, _ := rt.config["modelId"].(string)
	if modelID == "" {
		return fmt.Errorf("model node %s: missing modelId", rt.node.ID)
	}
	handle, err := rt.wf.deps.Models.Acquire(modelID, rt.config)
	if err != nil {
		return fmt.Errorf("model node %s: acquire %s: %w", rt.node.ID, modelID, err)
	}
	defer handle.Release()

	fps := rt.fps
	if fps == 0 {
		fps = 30
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Second/time.Duration(fps))
	defer cancel()

	detections, err := handle.Detect(callCtx, *pkt.Frame, rt.config)
	if err != nil {
		return fmt.Errorf("model node %s: detect: %w", rt.node.ID, err)
	}

	classes, _ := rt.config["classes"].([]any)
	minConf := 0.0
	if v, ok := toFloat(rt.config["confidence"]); ok {
		minConf = v
	}
	filtered := make([]models.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence < minConf {
			continue
		}
		if len(classes) > 0 && !classContains(classes, d.ClassID) {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return nil
	}
	rt.emit(Packet{Kind: models.EdgeDetections, Detections: filtered, SourceID: pkt.Frame.SourceID})
	return nil
}

func classContains(classes []any, classID int) bool {
	for _, c := range classes {
		if f, ok := toFloat(c); ok && int(f) == classID {
			return true
		}
	}
	return false
}

// zoneNode classifies detections by polygon containment of their bbox
// center (spec §4.5).
func zoneNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeDetections {
		return nil
	}
	polyRaw, _ := rt.config["polygon"].([]any)
	poly := make(geo.Polygon, 0, len(polyRaw))
	for _, p := range polyRaw {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		x, _ := toFloat(pair[0])
		y, _ := toFloat(pair[1])
		poly = append(poly, geo.Point{x, y})
	}
	if !poly.Valid() {
		return fmt.Errorf("zone node %s: invalid polygon", rt.node.ID)
	}
	filterType, _ := rt.config["filterType"].(string)

	var out []models.Detection
	for _, d := range pkt.Detections {
		inside := poly.Contains(geo.Point{d.BBox.CenterX(), d.BBox.CenterY()})
		if (filterType == "include" && inside) || (filterType == "exclude" && !inside) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil
	}
	label, _ := rt.config["label"].(string)
	eventType := "zone_" + filterType
	if label != "" {
		eventType = label
	}
	rt.project(pkt.SourceID, eventType, maxConfidence(out), time.Now(), map[string]any{"count": len(out)})
	rt.emit(Packet{Kind: models.EdgeDetections, Detections: out, SourceID: pkt.SourceID})
	return nil
}

// maxConfidence returns the highest confidence among a set of detections,
// used as a single event's confidence when several detections matched at
// once.
func maxConfidence(dets []models.Detection) float64 {
	var max float64
	for _, d := range dets {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}

// detectionFilterNode applies count/class/confidence predicates, all of
// which must pass (spec §4.5).
func detectionFilterNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeDetections {
		return nil
	}
	classes, _ := rt.config["classes"].([]any)
	minConf, _ := toFloat(rt.config["minConfidence"])

	var matched []models.Detection
	for _, d := range pkt.Detections {
		if d.Confidence < minConf {
			continue
		}
		if len(classes) > 0 && !classContains(classes, d.ClassID) {
			continue
		}
		matched = append(matched, d)
	}

	count := len(matched)
	minCount, hasMin := toFloat(rt.config["minCount"])
	maxCount, hasMax := toFloat(rt.config["maxCount"])
	if hasMin && float64(count) < minCount {
		return nil
	}
	if hasMax && maxCount > 0 && float64(count) > maxCount {
		return nil
	}
	if count == 0 {
		return nil
	}
	rt.project(pkt.SourceID, "detection_filter", maxConfidence(matched), time.Now(), map[string]any{"count": count})
	rt.emit(Packet{Kind: models.EdgeDetections, Detections: matched, SourceID: pkt.SourceID})
	return nil
}

// trackDwell is the per-track_id dwell-timer state a parkingViolation node
// keeps across packets. missed counts consecutive frames the track was
// absent; a gap of up to maxMissedFrames is treated as a detector hiccup
// rather than a true exit, so the dwell timer survives it.
type trackDwell struct {
	enteredAt time.Time
	missed    int
}

// maxMissedFrames bounds how many consecutive frames a track_id may go
// unseen before parkingViolationNode treats it as having exited its zone,
// resetting its dwell timer (spec §4.5 "resets on exit"; a brief detector
// hiccup of a frame or two is not an exit).
const maxMissedFrames = 2

// parkingViolationNode tracks per-object dwell time inside the node's zone
// and emits once dwell exceeds threshold (spec §4.5). Requires track_id on
// detections (set upstream by a tracking-capable model).
func parkingViolationNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeDetections {
		return nil
	}
	thresholdSec, _ := toFloat(rt.config["dwellSec"])
	if thresholdSec == 0 {
		thresholdSec = 60
	}
	if rt.dwell == nil {
		rt.dwell = map[string]trackDwell{}
	}
	state := rt.dwell

	seen := map[string]bool{}
	now := time.Now()
	var violations []models.Detection
	for _, d := range pkt.Detections {
		if d.TrackID == "" {
			continue
		}
		seen[d.TrackID] = true
		dw, ok := state[d.TrackID]
		if !ok {
			state[d.TrackID] = trackDwell{enteredAt: now}
			continue
		}
		dw.missed = 0
		state[d.TrackID] = dw
		if now.Sub(dw.enteredAt).Seconds() >= thresholdSec {
			violations = append(violations, d)
		}
	}
	for id, dw := range state {
		if seen[id] {
			continue
		}
		dw.missed++
		if dw.missed > maxMissedFrames {
			delete(state, id)
			continue
		}
		state[id] = dw
	}
	if len(violations) == 0 {
		return nil
	}
	rt.project(pkt.SourceID, "parking_violation", maxConfidence(violations), now, map[string]any{"count": len(violations)})
	rt.emit(Packet{Kind: models.EdgeDetections, Detections: violations, SourceID: pkt.SourceID})
	return nil
}

// brightnessSample is one rolling-window measurement for a dayNightDetector
// node's classifier.
type brightnessSample struct {
	at    time.Time
	level float64
}

// dayNightDetectorNode computes a rolling brightness average and emits a
// state-change event on day/dusk/night transitions, with hysteresis to
// avoid flapping at the boundary (spec §4.5). It has no separate ir state.
func dayNightDetectorNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeVideo || pkt.Frame == nil {
		return nil
	}
	level, ok := rt.config["_brightness_hook"].(func(models.Frame) float64)
	var brightness float64
	if ok && level != nil {
		brightness = level(*pkt.Frame)
	}

	windowSec, _ := toFloat(rt.config["windowSec"])
	if windowSec == 0 {
		windowSec = 30
	}
	now := time.Now()
	samples := append(rt.brightness, brightnessSample{at: now, level: brightness})
	cutoff := now.Add(-time.Duration(windowSec) * time.Second)
	kept := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	rt.brightness = kept

	var sum float64
	for _, s := range kept {
		sum += s.level
	}
	avg := sum / float64(len(kept))

	dayThresh, _ := toFloat(rt.config["dayThreshold"])
	nightThresh, _ := toFloat(rt.config["nightThreshold"])
	if dayThresh == 0 {
		dayThresh = 0.5
	}
	if nightThresh == 0 {
		nightThresh = 0.15
	}
	const hysteresis = 0.05

	prev := rt.lastDayNight
	next := prev
	switch {
	case avg >= dayThresh+hysteresis:
		next = "day"
	case avg <= nightThresh-hysteresis:
		next = "night"
	case avg >= nightThresh && avg < dayThresh:
		next = "dusk"
	}
	if next == "" {
		next = "day"
	}
	if next != prev {
		rt.lastDayNight = next
		rt.project(pkt.Frame.SourceID, "day_night_transition", 1, now, map[string]any{"state": next, "brightness": avg})
		rt.emit(Packet{Kind: models.EdgeDetections, Event: &models.RawEvent{
			Type: "day_night_transition", ObservedAt: now,
			Attributes: map[string]any{"state": next, "brightness": avg},
		}, SourceID: pkt.Frame.SourceID})
	}
	return nil
}

// audioExtractorNode forwards each packet of the source's audio sidechannel
// as one chunk, tagged with the configured sample rate and channel count
// (spec §4.5). Packets are not accumulated into bufferSec-long chunks; the
// chunk length is whatever the ingest layer delivers. Video packets are
// ignored; the audio
// sidechannel is injected by the ingest layer as Packet{Kind: EdgeAudio}.
func audioExtractorNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeAudio {
		return nil
	}
	sampleRate, _ := rt.config["sampleRate"].(string)
	channels := 1
	if v, ok := toFloat(rt.config["channels"]); ok {
		channels = int(v)
	}
	rt.emit(Packet{Kind: models.EdgeAudio, Audio: AudioChunk{
		SampleRate: sampleRate, Channels: channels, PCM: pkt.Audio.PCM, StartedAt: time.Now(),
	}, SourceID: pkt.SourceID})
	return nil
}

// audioAINode runs a transcription/classification engine over audio chunks
// via the model registry, keyed by the node's configured modelId. The
// engine's result is either a transcription (text/language/keywords) or a
// sound classification (sound_class); audioAINode emits whichever shape
// DetectAudio actually returned rather than assuming one (spec §4.5).
func audioAINode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeAudio {
		return nil
	}
	modelID, _ := rt.config["modelId"].(string)
	if modelID == "" {
		return fmt.Errorf("audioAI node %s: missing modelId", rt.node.ID)
	}
	handle, err := rt.wf.deps.Models.Acquire(modelID, rt.config)
	if err != nil {
		return fmt.Errorf("audioAI node %s: acquire %s: %w", rt.node.ID, modelID, err)
	}
	defer handle.Release()

	result, err := handle.DetectAudio(ctx, models.AudioSample{
		SampleRate: pkt.Audio.SampleRate,
		Channels:   pkt.Audio.Channels,
		PCM:        pkt.Audio.PCM,
	}, rt.config)
	if err != nil {
		return fmt.Errorf("audioAI node %s: detect audio: %w", rt.node.ID, err)
	}

	minConf, _ := toFloat(rt.config["confidence"])
	if result.Confidence < minConf {
		return nil
	}

	eventType := "audio_classification"
	attrs := map[string]any{"confidence": result.Confidence}
	if result.SoundClass != "" {
		attrs["sound_class"] = result.SoundClass
	}
	if result.Text != "" || result.Language != "" || len(result.KeywordsDetected) > 0 {
		eventType = "audio_transcription"
		attrs["text"] = result.Text
		attrs["language"] = result.Language
		attrs["keywords_detected"] = result.KeywordsDetected
	}

	now := time.Now()
	rt.project(pkt.SourceID, eventType, result.Confidence, now, attrs)
	rt.emit(Packet{Kind: models.EdgeAudioData, Event: &models.RawEvent{
		Type: eventType, ObservedAt: now, Attributes: attrs,
	}, SourceID: pkt.SourceID})
	return nil
}

// audioLevel computes RMS level (0-1) over a chunk of 16-bit signed
// little-endian PCM samples, the wire format audioExtractorNode forwards.
func audioLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		f := float64(s) / 32768
		sumSq += f * f
	}
	return math.Sqrt(sumSq / float64(n))
}

// defaultVUHysteresis is the fallback margin (on the 0-1 level scale) around
// threshold when a workflow's audioVU config omits one.
const defaultVUHysteresis = 0.05

// audioVUNode computes level and emits trigger events when level crosses
// threshold, gated by hysteresis and the configured edge policy: "rising"
// fires only when level crosses up through threshold, "falling" only when
// it crosses back down, "continuous" fires on every packet level remains
// above threshold (spec §4.5). Mirrors dayNightDetectorNode's
// hysteresis-band pattern: while the level sits inside the band, the node
// holds its previous above/below state rather than flapping.
func audioVUNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if pkt.Kind != models.EdgeAudio {
		return nil
	}
	threshold, _ := toFloat(rt.config["threshold"])
	hysteresis, hasHysteresis := toFloat(rt.config["hysteresis"])
	if !hasHysteresis {
		hysteresis = defaultVUHysteresis
	}
	edgePolicy, _ := rt.config["edgePolicy"].(string)
	if edgePolicy == "" {
		edgePolicy = "rising"
	}

	level := audioLevel(pkt.Audio.PCM)
	wasAbove := rt.vuAbove
	isAbove := wasAbove
	switch {
	case level >= threshold+hysteresis:
		isAbove = true
	case level <= threshold-hysteresis:
		isAbove = false
	}
	rt.vuAbove = isAbove

	var fire bool
	switch edgePolicy {
	case "falling":
		fire = wasAbove && !isAbove
	case "continuous":
		fire = isAbove
	default: // "rising"
		fire = !wasAbove && isAbove
	}
	if !fire {
		return nil
	}

	now := time.Now()
	attrs := map[string]any{"level": level, "edge": edgePolicy}
	rt.project(pkt.SourceID, "audio_vu_trigger", level, now, attrs)
	rt.emit(Packet{Kind: models.EdgeAudioData, Event: &models.RawEvent{
		Type: "audio_vu_trigger", ObservedAt: now, Attributes: attrs,
	}, SourceID: pkt.SourceID})
	return nil
}

// passthroughNode implements linkIn/catch: forward whatever arrives
// unchanged. linkCall (see linkCallNode) is the node that actually suspends
// and invokes a subflow; linkOut (see linkOutNode) is its reply side.
func passthroughNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	rt.emit(pkt)
	return nil
}

const linkCallTimeout = 10 * time.Second

// linkCallNode suspends the calling branch: it forwards pkt to the named
// linkIn node, then blocks on a reply channel it registers with the
// instance's FIFO queue for that name, until the matching linkOut node
// delivers the subflow's result (spec §4.5: "suspends the calling branch
// ... awaits its linkOut, and returns results to the caller").
//
// Pairing is FIFO rather than correlation-ID based: a Packet's fields don't
// survive arbitrary node transformations inside the subflow (most node
// functions build a fresh Packet populating only what they care about), so
// there is no field to stamp a call ID onto and expect it to come back.
// Instead each call enqueues a reply channel under the target's name, in
// the same order its packet was handed to linkIn (Instance.dispatchLinkCall
// makes send-then-enqueue atomic across concurrent callers of one target),
// and the subflow's linkOut dequeues the oldest one on delivery. This only
// requires that deliveries happen in the order calls were issued, which
// per-node single-worker-goroutine processing guarantees for any subflow
// with no internal fan-out back into itself.
func linkCallNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	target, _ := rt.config["target"].(string)
	linkIn, ok := rt.wf.findLinkIn(target)
	if !ok {
		return fmt.Errorf("linkCall node %s: target %q has no linkIn", rt.node.ID, target)
	}

	reply, err := rt.wf.dispatchLinkCall(target, linkIn, pkt, linkCallTimeout)
	if err != nil {
		return fmt.Errorf("linkCall node %s: %w", rt.node.ID, err)
	}

	select {
	case result := <-reply:
		rt.emit(result)
		return nil
	case <-time.After(linkCallTimeout):
		rt.wf.cancelLinkCall(target, reply)
		return fmt.Errorf("linkCall node %s: target %q did not return a linkOut within timeout", rt.node.ID, target)
	case <-ctx.Done():
		rt.wf.cancelLinkCall(target, reply)
		return ctx.Err()
	}
}

// linkOutNode is linkCall's reply side: whoever issued the oldest pending
// call against this linkOut's name receives pkt directly on its reply
// channel. With no pending call (a linkOut reached outside any linkCall, or
// reached by a second packet after the caller already gave up), it falls
// back to behaving like any other node and forwards to its own output
// edges.
func linkOutNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	name, _ := rt.config["name"].(string)
	if name != "" {
		if reply, ok := rt.wf.dequeueLinkCall(name); ok {
			reply <- pkt
			return nil
		}
	}
	rt.emit(pkt)
	return nil
}

// sinkNode implements dataPreview/debug: forward payloads to the Event Bus
// for observability (spec §4.5).
func sinkNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	if rt.wf.deps.Bus == nil {
		return nil
	}
	rt.wf.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.Detection, WorkflowID: rt.wf.wf.ID, NodeID: rt.node.ID,
		Timestamp: time.Now(), Payload: pkt,
	})
	return nil
}
