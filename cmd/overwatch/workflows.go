package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// loadWorkflowDir reads every *.json file in dir as a workflow document
// (spec §6's workflow JSON schema). There is no HTTP API to deploy
// workflows at runtime (spec §1 non-goal), so a directory of documents is
// this runtime's equivalent of the persisted workflows table's seed data: a
// deployment manages its workflow set by editing files and restarting, or
// a future operator surface can write into the same directory.
func loadWorkflowDir(dir string) ([]models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load workflows from %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	workflows := make([]models.Workflow, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflow file %s: %w", path, err)
		}
		var wf models.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}
