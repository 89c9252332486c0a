// Package workflow implements the Workflow Engine (spec §4.5): one scheduler
// per running workflow, one long-lived worker goroutine per node, wired
// together by the edges the Graph Validator has already approved.
package workflow

import (
	"time"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Packet is the envelope carried over every edge. Exactly one payload field
// is populated, matching the edge's Kind (spec §4.1's five wire types plus
// the observability-only debug/config kinds).
type Packet struct {
	Kind       models.EdgeKind
	Frame      *models.Frame
	Detections []models.Detection
	Audio      AudioChunk
	Event      *models.RawEvent
	Config     map[string]any
	Emitted    time.Time

	// SourceID identifies the camera/videoInput/youtube node the packet's
	// data ultimately came from. Carried forward unchanged by nodes that
	// transform detections, so a correlator projection downstream still
	// knows which device to enrich against.
	SourceID string
}

// AudioChunk is one buffered segment from an audioExtractor node.
type AudioChunk struct {
	SampleRate string
	Channels   int
	PCM        []byte
	StartedAt  time.Time
}
