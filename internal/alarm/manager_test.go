package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

func TestIngestCreatesThenMergesByGroupKey(t *testing.T) {
	m := New(nil, nil, nil)
	e1 := models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Area: "a1", Type: "intrusion"}
	e2 := models.RawEvent{ID: "ev2", Tenant: "t1", Site: "s1", Area: "a1", Type: "intrusion"}

	a1, err := m.Ingest(e1, 0.5)
	require.NoError(t, err)
	a2, err := m.Ingest(e2, 0.5)
	require.NoError(t, err)

	assert.Equal(t, a1.ID, a2.ID)
	assert.Equal(t, []string{"ev1", "ev2"}, a2.CorrelatedEventIDs)
}

func TestIngestAutoEscalatesOnHighScore(t *testing.T) {
	m := New(nil, nil, nil)
	e := models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "weapon"}
	a, err := m.Ingest(e, 0.9)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, a.Severity)
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	m := New(nil, nil, nil)
	e := models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}
	a, err := m.Ingest(e, 0.1)
	require.NoError(t, err)

	_, err = m.Transition(a.ID, models.StateClosed, "op1", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionValidPathReachesClosed(t *testing.T) {
	m := New(nil, nil, nil)
	e := models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}
	a, err := m.Ingest(e, 0.1)
	require.NoError(t, err)

	for _, to := range []models.AlarmState{
		models.StateTriage, models.StateActive, models.StateContained, models.StateResolved, models.StateClosed,
	} {
		a, err = m.Transition(a.ID, to, "op1", "")
		require.NoError(t, err)
	}
	assert.Equal(t, models.StateClosed, a.State)
	assert.Len(t, a.History, 6) // created + 5 transitions
}

func TestAcknowledgeOnAlreadyTriageIsIdempotent(t *testing.T) {
	m := New(nil, nil, nil)
	e := models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}
	a, err := m.Ingest(e, 0.1)
	require.NoError(t, err)

	a, err = m.Acknowledge(a.ID, "op1")
	require.NoError(t, err)
	assert.Equal(t, models.StateTriage, a.State)
	historyLen := len(a.History)

	a, err = m.Acknowledge(a.ID, "op1")
	require.NoError(t, err)
	assert.Equal(t, models.StateTriage, a.State)
	assert.Len(t, a.History, historyLen+1)
}

func TestAddWatcherRejectsDuplicate(t *testing.T) {
	m := New(nil, nil, nil)
	e := models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}
	a, _ := m.Ingest(e, 0.1)

	_, err := m.AddWatcher(a.ID, "alice", "op1")
	require.NoError(t, err)
	_, err = m.AddWatcher(a.ID, "alice", "op1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBulkTransitionReportsPerIDIndependently(t *testing.T) {
	m := New(nil, nil, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		a, _ := m.Ingest(models.RawEvent{ID: "ev", Tenant: "t1", Site: "s1", Area: string(rune('a' + i)), Type: "x"}, 0.1)
		ids = append(ids, a.ID)
	}
	ids = append(ids, "does-not-exist")

	results := m.BulkTransition(ids, models.StateTriage, "op1", "")
	require.Len(t, results, 4)
	for _, r := range results[:3] {
		assert.NoError(t, r.Error)
	}
	assert.ErrorIs(t, results[3].Error, ErrNotFound)
}

func TestSnoozeThenWakeReturnsToTriage(t *testing.T) {
	m := New(nil, nil, nil)
	a, _ := m.Ingest(models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}, 0.1)
	a, err := m.Transition(a.ID, models.StateTriage, "op1", "")
	require.NoError(t, err)

	a, err = m.Snooze(a.ID, 10*time.Millisecond, "op1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSnoozed, a.State)

	m.WakeSnoozed(time.Now().Add(time.Second))
	a, err = m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateTriage, a.State)
}
