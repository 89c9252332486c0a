package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/internal/graph"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

type fakeWorkflowStore struct {
	saved []models.Workflow
}

func (s *fakeWorkflowStore) SaveWorkflow(wf models.Workflow) error {
	s.saved = append(s.saved, wf)
	return nil
}

func validWorkflow(id string, version int) models.Workflow {
	return models.Workflow{
		ID:      id,
		Version: version,
		Nodes: []models.Node{
			{ID: "cam", Type: models.NodeCamera, Data: map[string]any{"cameraId": "c1"}},
		},
	}
}

func TestEngineDeployPersistsAndStarts(t *testing.T) {
	store := &fakeWorkflowStore{}
	e := NewEngine(Deps{Router: &fakeRouter{frames: make(chan models.Frame, 1)}, Models: &fakeModels{}}, store, nil)

	res, err := e.Deploy(context.Background(), validWorkflow("wf1", 1))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Len(t, store.saved, 1)

	status, err := e.Status("wf1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunning, status.State)
	assert.Equal(t, 1, status.Version)
}

func TestEngineDeployRejectsInvalidGraphWithoutPersistingOrTouchingRunningInstance(t *testing.T) {
	store := &fakeWorkflowStore{}
	e := NewEngine(Deps{Router: &fakeRouter{frames: make(chan models.Frame, 1)}, Models: &fakeModels{}}, store, nil)

	_, err := e.Deploy(context.Background(), validWorkflow("wf1", 1))
	require.NoError(t, err)

	bad := models.Workflow{ID: "wf1", Version: 2} // no nodes at all is still schema-valid; force a failure via an empty zone polygon instead
	bad.Nodes = []models.Node{
		{ID: "a", Type: models.NodeZone, Data: map[string]any{"polygon": []any{}, "filterType": "include"}},
	}
	res, err := e.Deploy(context.Background(), bad)
	require.Error(t, err)
	assert.False(t, res.OK())
	assert.Len(t, store.saved, 1, "invalid deploy must not persist")

	status, statusErr := e.Status("wf1")
	require.NoError(t, statusErr)
	assert.Equal(t, models.WorkflowRunning, status.State, "previous running instance must survive a rejected deploy")
	assert.Equal(t, 1, status.Version)
}

func TestEngineDeployNewVersionStopsPreviousInstance(t *testing.T) {
	store := &fakeWorkflowStore{}
	e := NewEngine(Deps{Router: &fakeRouter{frames: make(chan models.Frame, 1)}, Models: &fakeModels{}}, store, nil)

	_, err := e.Deploy(context.Background(), validWorkflow("wf1", 1))
	require.NoError(t, err)

	_, err = e.Deploy(context.Background(), validWorkflow("wf1", 2))
	require.NoError(t, err)

	status, err := e.Status("wf1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Version)
	assert.Equal(t, models.WorkflowRunning, status.State)
}

func TestEngineStartStopRestartUnknownWorkflowReturnsErrNotDeployed(t *testing.T) {
	e := NewEngine(Deps{}, nil, nil)
	_, err := e.Status("missing")
	assert.True(t, errors.Is(err, ErrNotDeployed))
	assert.True(t, errors.Is(e.Start(context.Background(), "missing"), ErrNotDeployed))
	assert.True(t, errors.Is(e.Stop("missing"), ErrNotDeployed))
	assert.True(t, errors.Is(e.Restart(context.Background(), "missing"), ErrNotDeployed))
}

func TestEngineUsesCustomValidator(t *testing.T) {
	calls := 0
	stub := func(wf models.Workflow) graph.Result {
		calls++
		return graph.Result{Errors: []string{"forced failure"}}
	}
	e := NewEngine(Deps{Router: &fakeRouter{frames: make(chan models.Frame, 1)}, Models: &fakeModels{}}, nil, stub)
	_, err := e.Deploy(context.Background(), validWorkflow("wf1", 1))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
