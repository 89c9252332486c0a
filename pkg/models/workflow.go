package models

// NodeType is the closed set of processing-unit kinds a workflow graph may
// contain (spec §4.5). The Graph Validator rejects any other value.
type NodeType string

const (
	NodeCamera           NodeType = "camera"
	NodeVideoInput       NodeType = "videoInput"
	NodeYoutube          NodeType = "youtube"
	NodeModel            NodeType = "model"
	NodeZone             NodeType = "zone"
	NodeDetectionFilter  NodeType = "detectionFilter"
	NodeParkingViolation NodeType = "parkingViolation"
	NodeDayNightDetector NodeType = "dayNightDetector"
	NodeAudioExtractor   NodeType = "audioExtractor"
	NodeAudioAI          NodeType = "audioAI"
	NodeAudioVU          NodeType = "audioVU"
	NodeAction           NodeType = "action"
	NodeLinkIn           NodeType = "linkIn"
	NodeLinkOut          NodeType = "linkOut"
	NodeLinkCall         NodeType = "linkCall"
	NodeCatch            NodeType = "catch"
	NodeConfig           NodeType = "config"
	NodeDataPreview      NodeType = "dataPreview"
	NodeDebug            NodeType = "debug"
)

// EdgeKind is the closed set of payload types an edge may carry.
type EdgeKind string

const (
	EdgeVideo      EdgeKind = "video"
	EdgeDetections EdgeKind = "detections"
	EdgeAudio      EdgeKind = "audio"
	EdgeAudioData  EdgeKind = "audio_data"
	EdgeConfig     EdgeKind = "config"
	EdgeDebug      EdgeKind = "debug"
)

// WorkflowStatus is the lifecycle position of a deployed workflow.
type WorkflowStatus string

const (
	WorkflowDraft   WorkflowStatus = "draft"
	WorkflowRunning WorkflowStatus = "running"
	WorkflowStopped WorkflowStatus = "stopped"
	WorkflowError   WorkflowStatus = "error"
)

// Position is a node's location on the graph editor canvas. Carried through
// purely so export/round-trip preserves it; the runtime never interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one processing unit inside a Workflow graph.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
}

// Edge connects one node's output port to another node's input port.
type Edge struct {
	ID           string   `json:"id"`
	SourceNode   string   `json:"source"`
	SourcePort   string   `json:"sourceHandle"`
	TargetNode   string   `json:"target"`
	TargetPort   string   `json:"targetHandle"`
	Kind         EdgeKind `json:"-"`
}

// Workflow is an immutable, versioned, user-authored processing graph.
// Editing a deployed workflow produces a new Version; the running instance
// always holds a snapshot of exactly one version (copy-on-deploy, spec §5).
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Version       int            `json:"version"`
	SchemaVersion string         `json:"schema_version"`
	SiteID        string         `json:"site_id,omitempty"`
	IsMaster      bool           `json:"is_master"`
	Nodes         []Node         `json:"nodes"`
	Edges         []Edge         `json:"edges"`
	Status        WorkflowStatus `json:"status"`
}

// NodeError is one entry in a node's rolling error log, surfaced on
// workflow status (spec §7: "last 20 node errors").
type NodeError struct {
	NodeID    string `json:"node_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
