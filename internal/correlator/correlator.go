// Package correlator implements the Event Correlator (spec §4.7): it turns
// sink-node detection payloads into enriched RawEvents, deduplicates them by
// group_key within a rolling window, and scores a unified confidence before
// handing the result to the Alarm Manager.
package correlator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WispAyr/overwatch-sub003/pkg/geo"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

const defaultWindow = 30 * time.Second

// DeviceInfo is what the device registry returns for enrichment.
type DeviceInfo struct {
	Tenant      string
	Site        string
	Area        string
	HealthScore float64 // 0..1, 1 = perfectly healthy
	Location    *models.Geometry
}

// DeviceRegistry resolves a device ID to its tenant/site/area/health/location.
type DeviceRegistry interface {
	Lookup(deviceID string) (DeviceInfo, bool)
}

// AssetIndex resolves the nearest known asset to a point, for enrichment tags.
type AssetIndex interface {
	NearestAsset(p geo.Point) (name string, distanceMeters float64, ok bool)
}

// FPRates supplies historical false-positive rates per (device, type) pair,
// used in the unified confidence score.
type FPRates interface {
	Rate(deviceID, eventType string) float64 // 0..1, 0 = never a false positive
}

// ScoreWeights controls the unified-confidence weighted combination (spec
// §4.7: "Scoring parameters are configuration").
type ScoreWeights struct {
	EventConfidence float64
	DeviceHealth    float64
	HistoricalFP    float64
}

// DefaultScoreWeights sums to 1.0.
var DefaultScoreWeights = ScoreWeights{EventConfidence: 0.6, DeviceHealth: 0.25, HistoricalFP: 0.15}

// AlarmSink is the downstream consumer of correlated events (the Alarm
// Manager), kept as an interface so the correlator is testable standalone.
type AlarmSink interface {
	Ingest(e models.RawEvent, score float64) (*models.Alarm, error)
}

// DedupWindow admits a group_key arrival and reports whether it is the
// first one seen within the window. It is the seam that lets the dedup
// table live in-process (a single Overwatch instance) or in Redis (shared
// across a horizontally scaled deployment so every instance agrees on
// which arrival opened the window).
type DedupWindow interface {
	Admit(groupKey string, window time.Duration) (isNew bool, err error)
}

// inMemoryDedup is the default single-process DedupWindow: a plain map
// guarded by a mutex, expiry checked on read.
type inMemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // group_key -> window expiry
}

func newInMemoryDedup() *inMemoryDedup {
	return &inMemoryDedup{seen: make(map[string]time.Time)}
}

func (d *inMemoryDedup) Admit(groupKey string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	expiry, ok := d.seen[groupKey]
	isNew := !ok || now.After(expiry)
	d.seen[groupKey] = now.Add(window)
	return isNew, nil
}

// Correlator holds the windowed dedup table and enrichment dependencies.
type Correlator struct {
	devices DeviceRegistry
	assets  AssetIndex
	fp      FPRates
	weights ScoreWeights
	window  time.Duration
	sink    AlarmSink
	dedup   DedupWindow
}

// New creates a Correlator backed by an in-process dedup window. window
// <= 0 uses the spec default of 30s. Use NewWithDedup to share the window
// across multiple Overwatch instances via Redis.
func New(devices DeviceRegistry, assets AssetIndex, fp FPRates, sink AlarmSink, weights ScoreWeights, window time.Duration) *Correlator {
	return NewWithDedup(devices, assets, fp, sink, weights, window, newInMemoryDedup())
}

// NewWithDedup creates a Correlator using the given DedupWindow, e.g. a
// Redis-backed one shared by every instance behind the same Frame Router
// fan-out.
func NewWithDedup(devices DeviceRegistry, assets AssetIndex, fp FPRates, sink AlarmSink, weights ScoreWeights, window time.Duration, dedup DedupWindow) *Correlator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Correlator{
		devices: devices,
		assets:  assets,
		fp:      fp,
		weights: weights,
		window:  window,
		sink:    sink,
		dedup:   dedup,
	}
}

// DetectionPayload is what a sink node (zone/detectionFilter/action output,
// parkingViolation, dayNightDetector, audioAI/VU) hands the correlator.
type DetectionPayload struct {
	DeviceID   string
	Type       string
	Confidence float64
	ObservedAt time.Time
	Location   *models.Geometry
	Attributes map[string]any
	Media      models.Media
}

// Project builds a RawEvent from a detection payload, enriching it with
// tenant/site/area and nearest-asset tags from the device registry/asset
// index, then merges it into the dedup window and forwards the result
// (first arrival or window-collapsed) to the alarm sink.
func (c *Correlator) Project(p DetectionPayload) (*models.Alarm, bool, error) {
	info, ok := c.devices.Lookup(p.DeviceID)
	if !ok {
		info = DeviceInfo{HealthScore: 0.5}
	}

	e := models.RawEvent{
		ID:         uuid.NewString(),
		Tenant:     info.Tenant,
		Site:       info.Site,
		Area:       info.Area,
		Type:       p.Type,
		ObservedAt: p.ObservedAt,
		IngestedAt: time.Now(),
		DeviceID:   p.DeviceID,
		Location:   p.Location,
		Attributes: p.Attributes,
		Media:      p.Media,
	}
	if info.Location != nil && p.Location == nil {
		e.Location = info.Location
	}

	if c.assets != nil && e.Location != nil {
		if name, dist, ok := c.assets.NearestAsset(geo.Point{e.Location.Lat, e.Location.Lon}); ok {
			e.Tags = append(e.Tags, name)
			if e.Attributes == nil {
				e.Attributes = make(map[string]any)
			}
			e.Attributes["nearest_asset_m"] = dist
		}
	}

	groupKey := e.GroupKey()
	isNew, err := c.dedup.Admit(groupKey, c.window)
	if err != nil {
		return nil, false, fmt.Errorf("correlator: dedup window: %w", err)
	}

	score := c.score(p.Confidence, info.HealthScore, p.DeviceID, p.Type)

	a, err := c.sink.Ingest(e, score)
	return a, isNew, err
}

func (c *Correlator) score(eventConfidence, deviceHealth float64, deviceID, eventType string) float64 {
	fpRate := 0.0
	if c.fp != nil {
		fpRate = c.fp.Rate(deviceID, eventType)
	}
	s := c.weights.EventConfidence*eventConfidence +
		c.weights.DeviceHealth*deviceHealth +
		c.weights.HistoricalFP*(1-fpRate)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
