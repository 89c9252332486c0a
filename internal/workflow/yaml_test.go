package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

func sampleWorkflow() models.Workflow {
	return models.Workflow{
		ID: "wf1", Name: "demo", Version: 1, SchemaVersion: "1",
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeCamera, Data: map[string]any{"cameraId": "c1"}},
			{ID: "n2", Type: models.NodeModel, Data: map[string]any{"modelId": "m1"}},
		},
		Edges: []models.Edge{
			{ID: "e1", SourceNode: "n1", TargetNode: "n2", Kind: models.EdgeVideo},
		},
	}
}

func TestExportRendersWorkflowAndNodeIDs(t *testing.T) {
	wf := sampleWorkflow()
	out, err := Export(wf)
	require.NoError(t, err)
	assert.Contains(t, out, "id: wf1")
	assert.Contains(t, out, "id: n1")
	assert.Contains(t, out, "id: n2")
}

func TestDiffDetectsAddedRemovedModified(t *testing.T) {
	before := sampleWorkflow()
	after := sampleWorkflow()
	after.Nodes = append(after.Nodes, models.Node{ID: "n3", Type: models.NodeAction, Data: map[string]any{"kind": "log"}})
	after.Nodes[1].Data = map[string]any{"modelId": "m2"}

	entries, err := Diff(before, after)
	require.NoError(t, err)

	var added, modified bool
	for _, e := range entries {
		if e.ID == "n3" && e.Change == "added" {
			added = true
		}
		if e.ID == "n2" && e.Change == "modified" {
			modified = true
		}
	}
	assert.True(t, added)
	assert.True(t, modified)
}

func TestDiffOfIdenticalWorkflowsIsEmpty(t *testing.T) {
	wf := sampleWorkflow()
	entries, err := Diff(wf, wf)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
