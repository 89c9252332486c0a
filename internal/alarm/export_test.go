package alarm

import (
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

func TestExportJSONIncludesMatchedAlarmsOnly(t *testing.T) {
	m := New(nil, nil, nil)
	_, _ = m.Ingest(models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}, 0.1)
	_, _ = m.Ingest(models.RawEvent{ID: "ev2", Tenant: "t2", Site: "s1", Type: "x"}, 0.1)

	r, err := m.Export(Filter{Tenant: "t1"}, ExportJSON)
	require.NoError(t, err)

	var decoded []*models.Alarm
	require.NoError(t, json.NewDecoder(r).Decode(&decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "t1", decoded[0].Tenant)
}

func TestExportCSVHasHeaderAndOneRowPerAlarm(t *testing.T) {
	m := New(nil, nil, nil)
	a1, _ := m.Ingest(models.RawEvent{ID: "ev1", Tenant: "t1", Site: "s1", Type: "x"}, 0.1)
	a2, _ := m.Ingest(models.RawEvent{ID: "ev2", Tenant: "t1", Site: "s2", Type: "x"}, 0.1)

	r, err := m.Export(Filter{Tenant: "t1"}, ExportCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 alarms
	assert.Equal(t, csvHeader, rows[0])

	ids := []string{rows[1][0], rows[2][0]}
	assert.ElementsMatch(t, []string{a1.ID, a2.ID}, ids)
}

func TestExportUnknownFormatErrors(t *testing.T) {
	m := New(nil, nil, nil)
	_, err := m.Export(Filter{}, ExportFormat("xml"))
	assert.Error(t, err)
}
