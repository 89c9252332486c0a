// Package assets implements the Event Correlator's nearest-asset lookup
// (spec §4.7 enrichment tag "nearest_asset_m"), bucketing known assets by
// H3 cell so a lookup only compares candidates in the point's own
// neighborhood instead of scanning every asset (pkg/geo).
package assets

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/WispAyr/overwatch-sub003/pkg/geo"
)

// Asset is one named point of interest (a gate, a fence line, a till) an
// event can be enriched against.
type Asset struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Index is a concurrency-safe, H3-bucketed asset set.
type Index struct {
	mu       sync.RWMutex
	byBucket map[geo.Bucket][]Asset
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{byBucket: make(map[geo.Bucket][]Asset)}
}

// Load reads a JSON array of Asset from path into a new Index. A missing
// path yields an empty index rather than an error.
func Load(path string) (*Index, error) {
	idx := NewIndex()
	if path == "" {
		return idx, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("assets: read %s: %w", path, err)
	}
	var list []Asset
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("assets: parse %s: %w", path, err)
	}
	for _, a := range list {
		idx.Add(a)
	}
	return idx, nil
}

// Add buckets one asset by its coordinates. Invalid lat/lon is silently
// dropped; this index is enrichment, not a source of validation errors.
func (idx *Index) Add(a Asset) {
	b, ok := geo.BucketFor(a.Lat, a.Lon)
	if !ok {
		return
	}
	idx.mu.Lock()
	idx.byBucket[b] = append(idx.byBucket[b], a)
	idx.mu.Unlock()
}

// NearestAsset implements correlator.AssetIndex. p follows the same
// (lat, lon) convention the correlator already constructs it with.
func (idx *Index) NearestAsset(p geo.Point) (string, float64, bool) {
	lat, lon := p[0], p[1]
	b, ok := geo.BucketFor(lat, lon)
	if !ok {
		return "", 0, false
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := idx.byBucket[b]
	if len(candidates) == 0 {
		for _, nb := range geo.NeighborBuckets(b) {
			candidates = append(candidates, idx.byBucket[nb]...)
		}
	}

	bestName := ""
	bestDist := math.Inf(1)
	for _, a := range candidates {
		d := geo.HaversineMeters(lat, lon, a.Lat, a.Lon)
		if d < bestDist {
			bestDist = d
			bestName = a.Name
		}
	}
	if bestName == "" {
		return "", 0, false
	}
	return bestName, bestDist, true
}
