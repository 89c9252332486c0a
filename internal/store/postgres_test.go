package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

func TestSaveWorkflowUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStore(db, nil)

	mock.ExpectExec("INSERT INTO workflows").
		WithArgs("wf1", 1, "v1", "cam graph", nil, false, "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.SaveWorkflow(models.Workflow{
		ID: "wf1", Version: 1, SchemaVersion: "v1", Name: "cam graph", Status: models.WorkflowRunning,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkflowUnmarshalsDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStore(db, nil)

	doc := `{"id":"wf1","version":2,"name":"n"}`
	mock.ExpectQuery("SELECT document FROM workflows").
		WithArgs("wf1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(doc))

	wf, err := s.GetWorkflow("wf1", 2)
	require.NoError(t, err)
	assert.Equal(t, "wf1", wf.ID)
	assert.Equal(t, 2, wf.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAlarmUpsertsAndAppendsOnlyNewHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStore(db, nil)

	a := &models.Alarm{
		ID: "a1", GroupKey: "t1:s1:a:x", Tenant: "t1", Site: "s1",
		Severity: models.SeverityMinor, State: models.StateNew,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		CorrelatedEventIDs: []string{"ev1"},
		History:            []models.HistoryEntry{{Action: "created", Timestamp: time.Now(), ToState: models.StateNew}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alarms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO alarm_history").WithArgs(
		"a1", 0, "created", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "NEW", sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveAlarm(a))
	require.NoError(t, mock.ExpectationsWereMet())

	// A second save with one new history entry must only insert that one row.
	a.History = append(a.History, models.HistoryEntry{Action: "transition", Timestamp: time.Now(), FromState: models.StateNew, ToState: models.StateTriage})
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alarms").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO alarm_history").WithArgs(
		"a1", 1, "transition", sqlmock.AnyArg(), sqlmock.AnyArg(), "NEW", "TRIAGE", sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveAlarm(a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAlarmsUnmarshalsEachRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStore(db, nil)

	mock.ExpectQuery("SELECT document FROM alarms").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).
			AddRow(`{"id":"a1","group_key":"k1"}`).
			AddRow(`{"id":"a2","group_key":"k2"}`))

	alarms, err := s.LoadAlarms()
	require.NoError(t, err)
	require.Len(t, alarms, 2)
	assert.Equal(t, "a1", alarms[0].ID)
	assert.Equal(t, "a2", alarms[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSnapshotInsertsIndexRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStore(db, nil)

	mock.ExpectExec("INSERT INTO snapshots_index").
		WithArgs("a1", sqlmock.AnyArg(), "a1/key", "snapshot").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.RecordSnapshot("a1", time.Now(), "a1/key", "snapshot"))
	require.NoError(t, mock.ExpectationsWereMet())
}
