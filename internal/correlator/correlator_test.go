package correlator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

type fakeDevices struct{ info DeviceInfo }

func (f fakeDevices) Lookup(string) (DeviceInfo, bool) { return f.info, true }

type fakeSink struct {
	calls []models.RawEvent
}

func (f *fakeSink) Ingest(e models.RawEvent, score float64) (*models.Alarm, error) {
	f.calls = append(f.calls, e)
	return &models.Alarm{ID: "a1", GroupKey: e.GroupKey()}, nil
}

func TestProjectEnrichesTenantSiteArea(t *testing.T) {
	devices := fakeDevices{info: DeviceInfo{Tenant: "t1", Site: "s1", Area: "lobby", HealthScore: 1}}
	sink := &fakeSink{}
	c := New(devices, nil, nil, sink, DefaultScoreWeights, 0)

	_, isNew, err := c.Project(DetectionPayload{DeviceID: "d1", Type: "intrusion", Confidence: 0.9, ObservedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, isNew)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "t1", sink.calls[0].Tenant)
	assert.Equal(t, "lobby", sink.calls[0].Area)
}

func TestProjectDedupsWithinWindow(t *testing.T) {
	devices := fakeDevices{info: DeviceInfo{Tenant: "t1", Site: "s1", Area: "lobby", HealthScore: 1}}
	sink := &fakeSink{}
	c := New(devices, nil, nil, sink, DefaultScoreWeights, time.Minute)

	_, first, err := c.Project(DetectionPayload{DeviceID: "d1", Type: "intrusion", Confidence: 0.5, ObservedAt: time.Now()})
	require.NoError(t, err)
	_, second, err := c.Project(DetectionPayload{DeviceID: "d1", Type: "intrusion", Confidence: 0.5, ObservedAt: time.Now()})
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestScoreWithOnlyEventConfidenceWeighted(t *testing.T) {
	devices := fakeDevices{info: DeviceInfo{HealthScore: 0.5}}
	sink := &fakeSink{}
	c := New(devices, nil, nil, sink, ScoreWeights{EventConfidence: 1, DeviceHealth: 0, HistoricalFP: 0}, 0)
	score := c.score(0.8, 0.5, "d1", "t")
	assert.InDelta(t, 0.8, score, 1e-9)
}
