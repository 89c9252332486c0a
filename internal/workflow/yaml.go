package workflow

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// canonicalWorkflow is the stable-key-order shape Workflow is rendered into
// before marshalling, so two exports of the same graph are byte-identical
// regardless of map iteration order (spec §4.5: "canonical YAML
// representation (stable key order)").
type canonicalWorkflow struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	Version       int             `yaml:"version"`
	SchemaVersion string          `yaml:"schema_version"`
	Nodes         []canonicalNode `yaml:"nodes"`
	Edges         []canonicalEdge `yaml:"edges"`
}

type canonicalNode struct {
	ID   string         `yaml:"id"`
	Type string         `yaml:"type"`
	Data map[string]any `yaml:"data,omitempty"`
}

type canonicalEdge struct {
	ID         string `yaml:"id"`
	Source     string `yaml:"source"`
	SourcePort string `yaml:"source_port"`
	Target     string `yaml:"target"`
	TargetPort string `yaml:"target_port"`
	Kind       string `yaml:"kind,omitempty"`
}

// Export renders wf to its canonical YAML form: nodes and edges sorted by
// ID so the output is stable across runs.
func Export(wf models.Workflow) (string, error) {
	c := canonicalWorkflow{
		ID: wf.ID, Name: wf.Name, Version: wf.Version, SchemaVersion: wf.SchemaVersion,
	}
	for _, n := range wf.Nodes {
		c.Nodes = append(c.Nodes, canonicalNode{ID: n.ID, Type: string(n.Type), Data: n.Data})
	}
	for _, e := range wf.Edges {
		c.Edges = append(c.Edges, canonicalEdge{
			ID: e.ID, Source: e.SourceNode, SourcePort: e.SourcePort,
			Target: e.TargetNode, TargetPort: e.TargetPort, Kind: string(e.Kind),
		})
	}
	sort.Slice(c.Nodes, func(i, j int) bool { return c.Nodes[i].ID < c.Nodes[j].ID })
	sort.Slice(c.Edges, func(i, j int) bool { return c.Edges[i].ID < c.Edges[j].ID })

	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("export workflow %s: %w", wf.ID, err)
	}
	return string(out), nil
}

// DiffEntry is one added/removed/modified item in a workflow-level diff.
type DiffEntry struct {
	Kind   string // "node" or "edge"
	ID     string
	Change string // "added", "removed", "modified"
}

// Diff compares two workflows by node and edge ID: node/edge sets
// added, removed, or modified (spec §4.5: "presented before deploy").
func Diff(before, after models.Workflow) ([]DiffEntry, error) {
	var entries []DiffEntry

	beforeNodes := map[string]models.Node{}
	for _, n := range before.Nodes {
		beforeNodes[n.ID] = n
	}
	afterNodes := map[string]models.Node{}
	for _, n := range after.Nodes {
		afterNodes[n.ID] = n
	}
	for id, n := range afterNodes {
		if old, ok := beforeNodes[id]; !ok {
			entries = append(entries, DiffEntry{Kind: "node", ID: id, Change: "added"})
		} else if !nodeEqual(old, n) {
			entries = append(entries, DiffEntry{Kind: "node", ID: id, Change: "modified"})
		}
	}
	for id := range beforeNodes {
		if _, ok := afterNodes[id]; !ok {
			entries = append(entries, DiffEntry{Kind: "node", ID: id, Change: "removed"})
		}
	}

	beforeEdges := map[string]models.Edge{}
	for _, e := range before.Edges {
		beforeEdges[e.ID] = e
	}
	afterEdges := map[string]models.Edge{}
	for _, e := range after.Edges {
		afterEdges[e.ID] = e
	}
	for id, e := range afterEdges {
		if old, ok := beforeEdges[id]; !ok {
			entries = append(entries, DiffEntry{Kind: "edge", ID: id, Change: "added"})
		} else if old != e {
			entries = append(entries, DiffEntry{Kind: "edge", ID: id, Change: "modified"})
		}
	}
	for id := range beforeEdges {
		if _, ok := afterEdges[id]; !ok {
			entries = append(entries, DiffEntry{Kind: "edge", ID: id, Change: "removed"})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func nodeEqual(a, b models.Node) bool {
	if a.Type != b.Type || len(a.Data) != len(b.Data) {
		return false
	}
	for k, v := range a.Data {
		if bv, ok := b.Data[k]; !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
