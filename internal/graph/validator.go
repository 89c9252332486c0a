package graph

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Result is the outcome of validating a Workflow: errors block deploy,
// warnings do not (spec §4.4).
type Result struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the workflow may be deployed.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Validate runs every check from spec §4.4 in order: schema, ID uniqueness,
// edge referential integrity, port compatibility, cycle detection, dangling
// nodes, link integrity. Later checks still run even if earlier ones fail,
// so a single Validate call surfaces every problem at once.
func Validate(wf models.Workflow) Result {
	var res Result

	nodesByID := make(map[string]models.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if _, dup := nodesByID[n.ID]; dup {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		nodesByID[n.ID] = n
	}

	validateSchema(wf.Nodes, &res)

	adj := make(map[string][]string, len(nodesByID))
	reachableIn := make(map[string]map[string]bool) // nodeID -> set of kinds reaching it
	linkOutNames := make(map[string]bool)
	linkInNames := make(map[string]bool)
	linkCallTargets := make(map[string]bool)

	edgeIDs := make(map[string]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		if edgeIDs[e.ID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edgeIDs[e.ID] = true
	}

	for _, e := range wf.Edges {
		src, srcOK := nodesByID[e.SourceNode]
		dst, dstOK := nodesByID[e.TargetNode]
		if !srcOK {
			res.Errors = append(res.Errors, fmt.Sprintf("edge %q: unknown source node %q", e.ID, e.SourceNode))
			continue
		}
		if !dstOK {
			res.Errors = append(res.Errors, fmt.Sprintf("edge %q: unknown target node %q", e.ID, e.TargetNode))
			continue
		}

		kind := e.Kind
		if kind == "" {
			if k, ok := outputKindFor(src.Type); ok {
				kind = k
			}
		}
		if kind != "" && !portAllowed(kind, dst.Type, e.TargetPort) {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"edge %q: %s(%s) cannot target %s.%s", e.ID, src.Type, kind, dst.Type, e.TargetPort))
		}

		if !isLinkNode(src.Type) && !isLinkNode(dst.Type) {
			adj[e.SourceNode] = append(adj[e.SourceNode], e.TargetNode)
		}

		if reachableIn[e.TargetNode] == nil {
			reachableIn[e.TargetNode] = make(map[string]bool)
		}
		reachableIn[e.TargetNode][e.SourceNode] = true
		if reachableIn[e.SourceNode] == nil {
			reachableIn[e.SourceNode] = make(map[string]bool)
		}

		switch dst.Type {
		case models.NodeLinkOut:
			if name, ok := dst.Data["name"].(string); ok {
				linkOutNames[name] = true
			}
		}
	}

	for _, n := range nodesByID {
		switch n.Type {
		case models.NodeLinkIn:
			if name, ok := n.Data["name"].(string); ok {
				linkInNames[name] = true
			}
		case models.NodeLinkCall:
			if target, ok := n.Data["target"].(string); ok {
				linkCallTargets[target] = true
			}
		}
	}

	if ce := detectCycle(nodesByID, adj); ce != nil {
		res.Errors = append(res.Errors, ce.Error())
	}

	for _, n := range nodesByID {
		if isLinkNode(n.Type) || n.Type == models.NodeConfig {
			continue
		}
		hasIn := len(reachableIn[n.ID]) > 0
		isOutput := n.Type == models.NodeAction || n.Type == models.NodeDataPreview || n.Type == models.NodeDebug
		if !hasIn && !isInputNode(n.Type) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("node %q (%s) has no incoming edge", n.ID, n.Type))
		}
		_ = isOutput
	}

	for name := range linkCallTargets {
		if !linkInNames[name] {
			res.Errors = append(res.Errors, fmt.Sprintf("linkCall target %q has no matching linkIn", name))
		}
	}
	for name := range linkOutNames {
		if !linkInNames[name] && !linkCallTargets[name] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("linkOut %q is never consumed by a linkIn or linkCall", name))
		}
	}

	return res
}

func isInputNode(typ models.NodeType) bool {
	switch typ {
	case models.NodeCamera, models.NodeVideoInput, models.NodeYoutube, models.NodeConfig, models.NodeLinkIn:
		return true
	default:
		return false
	}
}

// validateSchema checks each node's Data against the config struct its type
// declares (spec §6's per-type field table), plus the detectionFilter scope
// open question: scope is required and must be a recognised value.
func validateSchema(nodes []models.Node, res *Result) {
	for _, n := range nodes {
		if n.Type == models.NodeAction {
			validateActionConfig(n, res)
			continue
		}
		target := structForType(n.Type)
		if target == nil {
			continue
		}
		if err := decodeStrict(n.Data, target); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("node %s: decode config: %v", n.ID, err))
			continue
		}
		if err := validateStruct(n.ID, target); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		if n.Type == models.NodeDetectionFilter {
			cfg := target.(*DetectionFilterConfig)
			if cfg.Scope != string(ScopePerFrame) && !isWindowScope(cfg.Scope) {
				res.Errors = append(res.Errors, fmt.Sprintf(
					"node %s: detectionFilter scope must be %q or %q, got %q", n.ID, ScopePerFrame, "window(ms)", cfg.Scope))
			}
		}
		if n.Type == models.NodeZone {
			cfg := target.(*ZoneConfig)
			if !cfg.Polygon.Valid() {
				res.Errors = append(res.Errors, fmt.Sprintf("node %s: zone polygon is degenerate", n.ID))
			}
		}
	}
}

// validateActionConfig dispatches an action node's Data to the config
// struct matching its declared kind (spec §6: action nodes fan out by a
// `kind` field rather than by node type alone).
func validateActionConfig(n models.Node, res *Result) {
	kindVal, _ := n.Data["kind"].(string)
	var target any
	switch ActionKind(kindVal) {
	case ActionEmail:
		target = &EmailActionConfig{}
	case ActionWebhook:
		target = &WebhookActionConfig{}
	case ActionRecord:
		target = &RecordActionConfig{}
	case ActionAlert:
		target = &AlertActionConfig{}
	case ActionSnapshot:
		target = &SnapshotActionConfig{}
	case ActionLog:
		return // no structured config
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("node %s: unknown action kind %q", n.ID, kindVal))
		return
	}
	// "kind" selects which struct target is, not a field of any of them;
	// strip it before the strict decode so it isn't reported as unused.
	data := make(map[string]any, len(n.Data))
	for k, v := range n.Data {
		if k != "kind" {
			data[k] = v
		}
	}
	if err := decodeStrict(data, target); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("node %s: decode action config: %v", n.ID, err))
		return
	}
	if err := validateStruct(n.ID, target); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
}

// decodeStrict decodes input onto target with ErrorUnused set, so a node's
// Data carrying a key its type's schema does not declare is a validation
// error rather than a silently ignored field (spec §6: "fixed keys and
// types; unknown keys rejected").
func decodeStrict(input map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// isWindowScope reports whether s has the form "window(<positive-ms>)", the
// second allowed detectionFilter scope value (spec §9 open question).
func isWindowScope(s string) bool {
	const prefix, suffix = "window(", ")"
	if len(s) <= len(prefix)+len(suffix) {
		return false
	}
	if s[:len(prefix)] != prefix || s[len(s)-len(suffix):] != suffix {
		return false
	}
	inner := s[len(prefix) : len(s)-len(suffix)]
	if inner == "" {
		return false
	}
	for _, c := range inner {
		if c < '0' || c > '9' {
			return false
		}
	}
	return inner != "0"
}
