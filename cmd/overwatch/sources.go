package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// loadSourceDir reads every *.json file in dir as a SourceConfig (spec
// §4.1), the Stream Ingestor's equivalent seed data to loadWorkflowDir.
func loadSourceDir(dir string) ([]models.SourceConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load sources from %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	sources := make([]models.SourceConfig, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source file %s: %w", path, err)
		}
		var cfg models.SourceConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse source file %s: %w", path, err)
		}
		sources = append(sources, cfg)
	}
	return sources, nil
}
