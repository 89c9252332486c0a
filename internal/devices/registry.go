// Package devices supplies the Event Correlator's device directory (spec
// §4.7: tenant/site/area/health/location per device ID). A federated
// fleet/asset service is explicitly out of scope (spec §1: "no federation
// transport"); this is a local reference source loaded once from a JSON
// file, swappable for a real lookup behind the same correlator.DeviceRegistry
// interface without touching the correlator itself.
package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/WispAyr/overwatch-sub003/internal/correlator"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Record is one device's enrichment data as stored in the devices file.
type Record struct {
	Tenant      string           `json:"tenant"`
	Site        string           `json:"site"`
	Area        string           `json:"area"`
	HealthScore float64          `json:"health_score"`
	Location    *models.Geometry `json:"location,omitempty"`
}

// Registry is an in-memory, concurrency-safe device directory.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry creates an empty Registry; every Lookup misses until
// populated via Set or Load.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Load reads a devices file (a JSON object keyed by device ID) into a new
// Registry. A missing path is not an error — it yields an empty registry,
// matching the correlator's documented fallback of HealthScore 0.5 for
// unknown devices.
func Load(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("devices: read %s: %w", path, err)
	}
	var raw map[string]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("devices: parse %s: %w", path, err)
	}
	r.mu.Lock()
	r.records = raw
	r.mu.Unlock()
	return r, nil
}

// Set registers or replaces one device's record.
func (r *Registry) Set(deviceID string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[deviceID] = rec
}

// Lookup implements correlator.DeviceRegistry.
func (r *Registry) Lookup(deviceID string) (correlator.DeviceInfo, bool) {
	r.mu.RLock()
	rec, ok := r.records[deviceID]
	r.mu.RUnlock()
	if !ok {
		return correlator.DeviceInfo{}, false
	}
	health := rec.HealthScore
	if health == 0 {
		health = 1
	}
	return correlator.DeviceInfo{
		Tenant:      rec.Tenant,
		Site:        rec.Site,
		Area:        rec.Area,
		HealthScore: health,
		Location:    rec.Location,
	}, true
}
