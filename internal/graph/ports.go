package graph

import "github.com/WispAyr/overwatch-sub003/pkg/models"

// port identifies one named input or config port on a node type.
type port struct {
	Type models.NodeType
	Name string
}

// portRule is one row of the static registry (spec §6): edges carrying Kind
// may only terminate on the listed (type, port) pairs. Port names are
// matched exactly; there is no wildcard, so each audio node's config port
// is listed on its own.
type portRule struct {
	Kind    models.EdgeKind
	Targets []port
}

// registry is the fixed port-compatibility table. Any edge whose Kind/target
// pair is absent here is rejected by Validate.
var registry = []portRule{
	{
		Kind: models.EdgeVideo,
		Targets: []port{
			{models.NodeModel, "input"},
			{models.NodeAudioExtractor, "input"},
			{models.NodeDayNightDetector, "input"},
			{models.NodeParkingViolation, "input"},
			{models.NodeDataPreview, "videoPreview"},
		},
	},
	{
		Kind: models.EdgeDetections,
		Targets: []port{
			{models.NodeZone, "input"},
			{models.NodeDetectionFilter, "input"},
			{models.NodeAction, "input"},
			{models.NodeDebug, "debug"},
			{models.NodeDataPreview, "dataPreview"},
		},
	},
	{
		Kind: models.EdgeAudio,
		Targets: []port{
			{models.NodeAudioAI, "input"},
			{models.NodeAudioVU, "input"},
		},
	},
	{
		Kind: models.EdgeAudioData,
		Targets: []port{
			{models.NodeAction, "input"},
			{models.NodeDebug, "debug"},
			{models.NodeDataPreview, "dataPreview"},
		},
	},
	{
		Kind: models.EdgeConfig,
		Targets: []port{
			{models.NodeModel, "config"},
			{models.NodeAction, "config"},
			{models.NodeZone, "config"},
			{models.NodeAudioExtractor, "config"},
			{models.NodeAudioAI, "config"},
			{models.NodeAudioVU, "config"},
		},
	},
}

// portAllowed reports whether an edge of kind may terminate on (targetType,
// targetPort).
func portAllowed(kind models.EdgeKind, targetType models.NodeType, targetPort string) bool {
	for _, rule := range registry {
		if rule.Kind != kind {
			continue
		}
		for _, p := range rule.Targets {
			if p.Type == targetType && p.Name == targetPort {
				return true
			}
		}
	}
	return false
}

// outputKindFor returns the EdgeKind a node type emits from its primary
// output port, used to infer an edge's Kind when the caller did not set one
// explicitly (the editor UI always does; imported/hand-built graphs may not).
func outputKindFor(typ models.NodeType) (models.EdgeKind, bool) {
	switch typ {
	case models.NodeCamera, models.NodeVideoInput, models.NodeYoutube:
		return models.EdgeVideo, true
	case models.NodeModel:
		return models.EdgeDetections, true
	case models.NodeZone, models.NodeDetectionFilter:
		return models.EdgeDetections, true
	case models.NodeAudioExtractor:
		return models.EdgeAudio, true
	case models.NodeAudioAI, models.NodeAudioVU:
		return models.EdgeAudioData, true
	case models.NodeConfig:
		return models.EdgeConfig, true
	case models.NodeCatch, models.NodeLinkOut:
		return models.EdgeDetections, true
	default:
		return "", false
	}
}
