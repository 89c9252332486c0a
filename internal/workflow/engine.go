package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/WispAyr/overwatch-sub003/internal/graph"
	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Store persists deployed workflow versions (spec §4.9: "workflows(id,
// version)"). A nil Store is valid for tests; Deploy simply skips persistence.
type Store interface {
	SaveWorkflow(wf models.Workflow) error
}

// Validator runs the Graph Validator (spec §4.4) ahead of deploy. Declared
// as a function type rather than importing graph.Validate directly so
// tests can substitute a stub.
type Validator func(wf models.Workflow) graph.Result

// Engine owns every deployed workflow's current Instance and dispatches the
// spec §4.5 lifecycle operations (deploy/start/stop/restart) by workflow ID.
// Exactly one Instance runs per workflow ID at a time — deploying a new
// version stops the previous instance before starting the new one
// (copy-on-deploy, spec §5: "running instance holds an immutable snapshot").
type Engine struct {
	deps      Deps
	store     Store
	validate  Validator
	logger    logging.Logger

	mu        sync.Mutex
	instances map[string]*Instance
	deployed  map[string]models.Workflow
}

// NewEngine builds an Engine. validate defaults to graph.Validate if nil.
func NewEngine(deps Deps, store Store, validate Validator) *Engine {
	if validate == nil {
		validate = graph.Validate
	}
	return &Engine{
		deps:      deps,
		store:     store,
		validate:  validate,
		logger:    deps.Logger,
		instances: make(map[string]*Instance),
		deployed:  make(map[string]models.Workflow),
	}
}

// Deploy validates wf, persists it, stops any previously running instance
// for this workflow ID, and starts the new version (spec §4.5: "deploy(workflow):
// validate → persist version → if previous instance running, stop → start").
// A failed validation never touches the running instance or the store.
func (e *Engine) Deploy(ctx context.Context, wf models.Workflow) (graph.Result, error) {
	result := e.validate(wf)
	if !result.OK() {
		return result, fmt.Errorf("graph: workflow %s version %d failed validation", wf.ID, wf.Version)
	}

	if e.store != nil {
		if err := e.store.SaveWorkflow(wf); err != nil {
			return result, fmt.Errorf("persist workflow %s version %d: %w", wf.ID, wf.Version, err)
		}
	}

	e.mu.Lock()
	prev := e.instances[wf.ID]
	e.mu.Unlock()
	if prev != nil && prev.Status() == models.WorkflowRunning {
		prev.Stop()
	}

	inst := New(wf, e.deps)
	if err := inst.Start(ctx); err != nil {
		return result, fmt.Errorf("start workflow %s version %d: %w", wf.ID, wf.Version, err)
	}

	e.mu.Lock()
	e.instances[wf.ID] = inst
	e.deployed[wf.ID] = wf
	e.mu.Unlock()
	return result, nil
}

func (e *Engine) lookup(id string) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotDeployed)
	}
	return inst, nil
}

// Start (re)starts the currently deployed version of workflow id.
func (e *Engine) Start(ctx context.Context, id string) error {
	inst, err := e.lookup(id)
	if err != nil {
		return err
	}
	return inst.Start(ctx)
}

// Stop tears down the running instance of workflow id, if any.
func (e *Engine) Stop(id string) error {
	inst, err := e.lookup(id)
	if err != nil {
		return err
	}
	inst.Stop()
	return nil
}

// Restart stops then starts the same deployed version (spec §4.5: restart).
func (e *Engine) Restart(ctx context.Context, id string) error {
	inst, err := e.lookup(id)
	if err != nil {
		return err
	}
	return inst.Restart(ctx)
}

// Status reports a deployed workflow's current lifecycle state plus its
// recent node error log (spec §7: "workflow status surfaces error with the
// last error message and last 20 node errors").
type Status struct {
	WorkflowID string
	State      models.WorkflowStatus
	Version    int
	Errors     []models.NodeError
}

// Status returns the current status of workflow id.
func (e *Engine) Status(id string) (Status, error) {
	inst, err := e.lookup(id)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	version := e.deployed[id].Version
	e.mu.Unlock()
	return Status{
		WorkflowID: id,
		State:      inst.Status(),
		Version:    version,
		Errors:     inst.RecentErrors(),
	}, nil
}

// Deployed returns the currently deployed version of workflow id, if any.
func (e *Engine) Deployed(id string) (models.Workflow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.deployed[id]
	return wf, ok
}

// ErrNotDeployed is returned by Start/Stop/Restart/Status for a workflow ID
// that has never been deployed through this Engine.
var ErrNotDeployed = fmt.Errorf("workflow not deployed")
