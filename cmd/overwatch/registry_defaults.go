package main

import (
	"fmt"

	"github.com/WispAyr/overwatch-sub003/internal/registry"
)

// unimplementedEngineFactory is the Model Registry's pluggable inference
// boundary (spec §1: "no concrete AI model implementation"). A real
// deployment supplies its own registry.EngineFactory binding model IDs to
// whatever inference runtime it uses; every model starts out reported as
// not_implemented via defaultModelDescriptors until one is wired in.
func unimplementedEngineFactory(modelID string) (registry.Engine, bool, error) {
	return nil, false, fmt.Errorf("overwatch: no engine factory configured for model %q", modelID)
}

// defaultModelDescriptors seeds the status API (spec §6) with the model IDs
// this deployment expects workflows to reference, all reported
// not_implemented until unimplementedEngineFactory is replaced.
func defaultModelDescriptors() map[string]registry.Descriptor {
	return map[string]registry.Descriptor{}
}
