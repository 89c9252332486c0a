// Package graph implements the Graph Validator (spec §4.4): a pure function
// that checks a Workflow's schema, referential integrity, port
// compatibility, cycles, and link integrity before it may be deployed.
package graph

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/WispAyr/overwatch-sub003/pkg/geo"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

var validate = validator.New()

// CameraConfig is the schema for camera/videoInput/youtube input nodes.
// CameraID and VideoInputID are mutually-filling: camera nodes populate
// cameraId, videoInput nodes populate videoInputId (see
// Instance.subscribeInputs), and at least one must be present.
type CameraConfig struct {
	CameraID     string `mapstructure:"cameraId" validate:"required_without=VideoInputID"`
	VideoInputID string `mapstructure:"videoInputId" validate:"required_without=CameraID"`
	FPS          int    `mapstructure:"fps" validate:"omitempty,min=1,max=30"`
	Quality      string `mapstructure:"quality" validate:"omitempty,oneof=low med high"`
	SkipSimilar  bool   `mapstructure:"skipSimilar"`
}

// ModelConfig is the schema for model nodes.
type ModelConfig struct {
	ModelID       string  `mapstructure:"modelId" validate:"required"`
	Confidence    float64 `mapstructure:"confidence" validate:"min=0,max=1"`
	Classes       []int   `mapstructure:"classes" validate:"required,min=1"`
	IOU           float64 `mapstructure:"iou" validate:"omitempty,min=0,max=1"`
	MaxDetections int     `mapstructure:"maxDetections" validate:"omitempty,min=1"`
	FPS           int     `mapstructure:"fps" validate:"omitempty,min=1"`
	BatchSize     int     `mapstructure:"batchSize" validate:"omitempty,min=1"`
}

// ZoneConfig is the schema for zone nodes.
type ZoneConfig struct {
	Polygon     geo.Polygon `mapstructure:"polygon" validate:"required,min=3"`
	FilterType  string      `mapstructure:"filterType" validate:"required,oneof=include exclude"`
	Label       string      `mapstructure:"label"`
	CooldownSec int         `mapstructure:"cooldownSec" validate:"omitempty,min=0"`
	DwellSec    int         `mapstructure:"dwellSec" validate:"omitempty,min=0"`
}

// DetectionFilterScope is the Open Question resolution from spec §9: the
// config must declare how the count predicate accumulates.
type DetectionFilterScope string

const (
	ScopePerFrame DetectionFilterScope = "per_frame"
)

// DetectionFilterConfig is the schema for detectionFilter nodes. Scope has
// no default: an omitted value is a schema error (spec §9).
type DetectionFilterConfig struct {
	Scope         string  `mapstructure:"scope" validate:"required"`
	MinCount      int     `mapstructure:"minCount" validate:"omitempty,min=0"`
	MaxCount      int     `mapstructure:"maxCount" validate:"omitempty,min=0"`
	Classes       []int   `mapstructure:"classes"`
	MinConfidence float64 `mapstructure:"minConfidence" validate:"omitempty,min=0,max=1"`
	WindowMS      int     `mapstructure:"windowMs" validate:"omitempty,min=1"`
}

// ActionKind is the closed set of action node behaviors (spec §4.5/§6).
type ActionKind string

const (
	ActionEmail    ActionKind = "email"
	ActionWebhook  ActionKind = "webhook"
	ActionRecord   ActionKind = "record"
	ActionAlert    ActionKind = "alert"
	ActionSnapshot ActionKind = "snapshot"
	ActionLog      ActionKind = "log"
)

// EmailActionConfig is the schema for action(email).
type EmailActionConfig struct {
	To                 string   `mapstructure:"to" validate:"required,email"`
	CC                 []string `mapstructure:"cc" validate:"dive,email"`
	Subject            string   `mapstructure:"subject"`
	IncludeSnapshot    bool     `mapstructure:"includeSnapshot"`
	IncludeDetections  bool     `mapstructure:"includeDetections"`
}

// WebhookActionConfig is the schema for action(webhook).
type WebhookActionConfig struct {
	URL        string            `mapstructure:"url" validate:"required,url"`
	Method     string            `mapstructure:"method" validate:"omitempty,oneof=POST PUT"`
	Headers    map[string]string `mapstructure:"headers"`
	TimeoutSec int               `mapstructure:"timeoutSec" validate:"omitempty,min=1,max=60"`
	Retries    int               `mapstructure:"retries" validate:"omitempty,min=0,max=5"`
	SecretKey  string            `mapstructure:"secretKey"`
}

// RecordActionConfig is the schema for action(record).
type RecordActionConfig struct {
	DurationSec   int    `mapstructure:"durationSec" validate:"omitempty,min=1,max=300"`
	PreBufferSec  int    `mapstructure:"preBufferSec" validate:"omitempty,min=0,max=60"`
	PostBufferSec int    `mapstructure:"postBufferSec" validate:"omitempty,min=0,max=60"`
	Format        string `mapstructure:"format" validate:"omitempty,oneof=mp4 mkv"`
	Quality       string `mapstructure:"quality" validate:"omitempty,oneof=low med high"`
}

// AlertActionConfig is the schema for action(alert).
type AlertActionConfig struct {
	Severity string   `mapstructure:"severity" validate:"required,oneof=info warning critical"`
	Notify   []string `mapstructure:"notify"`
	Message  string   `mapstructure:"message"`
}

// SnapshotActionConfig is the schema for action(snapshot).
type SnapshotActionConfig struct {
	DrawBoxes bool   `mapstructure:"drawBoxes"`
	DrawZones bool   `mapstructure:"drawZones"`
	Format    string `mapstructure:"format" validate:"omitempty,oneof=jpg png"`
	Quality   int    `mapstructure:"quality" validate:"omitempty,min=1,max=100"`
}

// AudioExtractorConfig is the schema for audioExtractor nodes.
type AudioExtractorConfig struct {
	SampleRate string `mapstructure:"sampleRate" validate:"omitempty,oneof=8k 16k 22.05k 44.1k 48k"`
	Channels   int    `mapstructure:"channels" validate:"omitempty,oneof=1 2"`
	BufferSec  int    `mapstructure:"bufferSec" validate:"omitempty,min=1,max=60"`
}

// AudioAIConfig is the schema for audioAI nodes.
type AudioAIConfig struct {
	ModelID    string   `mapstructure:"modelId" validate:"required"`
	Language   string   `mapstructure:"language"`
	Keywords   []string `mapstructure:"keywords"`
	Confidence float64  `mapstructure:"confidence" validate:"omitempty,min=0,max=1"`
	BufferSec  float64  `mapstructure:"bufferSec" validate:"omitempty,min=0"`
}

// AudioVUConfig is the schema for audioVU nodes.
type AudioVUConfig struct {
	Threshold  float64 `mapstructure:"threshold" validate:"required,min=0,max=1"`
	Hysteresis float64 `mapstructure:"hysteresis" validate:"omitempty,min=0,max=1"`
	EdgePolicy string  `mapstructure:"edgePolicy" validate:"omitempty,oneof=rising falling continuous"`
}

// LinkConfig is the schema for linkIn/linkOut nodes.
type LinkConfig struct {
	Name string `mapstructure:"name" validate:"required"`
}

// LinkCallConfig is the schema for linkCall nodes.
type LinkCallConfig struct {
	Target string         `mapstructure:"target" validate:"required"`
	Params map[string]any `mapstructure:"params"`
}

// CatchConfig is the schema for catch nodes.
type CatchConfig struct {
	Scope   string   `mapstructure:"scope" validate:"required,oneof=all specific"`
	NodeIDs []string `mapstructure:"nodeIds"`
}

// structForType returns a zero value of the config struct owning node type
// typ's schema, or nil if typ carries no validated config (dataPreview,
// debug, config, camera-family beyond CameraConfig).
func structForType(typ models.NodeType) any {
	switch typ {
	case models.NodeCamera, models.NodeVideoInput, models.NodeYoutube:
		return &CameraConfig{}
	case models.NodeModel:
		return &ModelConfig{}
	case models.NodeZone:
		return &ZoneConfig{}
	case models.NodeDetectionFilter:
		return &DetectionFilterConfig{}
	case models.NodeAudioExtractor:
		return &AudioExtractorConfig{}
	case models.NodeAudioAI:
		return &AudioAIConfig{}
	case models.NodeAudioVU:
		return &AudioVUConfig{}
	case models.NodeLinkIn, models.NodeLinkOut:
		return &LinkConfig{}
	case models.NodeLinkCall:
		return &LinkCallConfig{}
	case models.NodeCatch:
		return &CatchConfig{}
	default:
		return nil
	}
}

// validateStruct runs go-playground/validator against a populated config
// struct and formats a stable error message.
func validateStruct(nodeID string, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	return nil
}
