// Package store implements the Persistence Layer (spec §4.9): workflows
// (versioned), alarms, alarm history, raw/correlated events, and the
// snapshot object-store index. Alarm and workflow writes go through
// Postgres synchronously, preserving ordering with in-memory history (spec
// §4.9: "writes are synchronous for alarm mutations"); events are batched
// asynchronously to ClickHouse (events.go).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sync"

	_ "github.com/lib/pq"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// ErrNoRows mirrors sql.ErrNoRows so callers don't need a database/sql import.
var ErrNoRows = sql.ErrNoRows

// Config holds Postgres connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane pool sizing for a single-process deployment.
func DefaultConfig() Config {
	return Config{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}
}

// Connect opens and pings a Postgres connection pool.
func Connect(cfg Config, logger logging.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: database URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if logger != nil {
		logger.WithFields(logging.Fields{
			"max_open_conns": cfg.MaxOpenConns,
			"max_idle_conns": cfg.MaxIdleConns,
		}).Info("persistence layer connected to postgres")
	}
	return db, nil
}

// Schema is the DDL for every table this store owns. Migrations beyond this
// single baseline are out of scope for the core runtime (spec §1).
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id             TEXT NOT NULL,
	version        INT NOT NULL,
	schema_version TEXT NOT NULL,
	name           TEXT NOT NULL,
	site_id        TEXT,
	is_master      BOOLEAN NOT NULL DEFAULT false,
	status         TEXT NOT NULL,
	document       JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, version)
);

CREATE TABLE IF NOT EXISTS workflow_events (
	id          BIGSERIAL PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	detail      TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_events_workflow_id_idx ON workflow_events (workflow_id);

CREATE TABLE IF NOT EXISTS alarms (
	id                   TEXT PRIMARY KEY,
	group_key            TEXT NOT NULL,
	tenant               TEXT NOT NULL,
	site                 TEXT NOT NULL,
	severity             TEXT NOT NULL,
	state                TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	sla_deadline         TIMESTAMPTZ,
	confidence           DOUBLE PRECISION NOT NULL,
	correlated_event_ids JSONB NOT NULL,
	assignee             TEXT,
	runbook_id           TEXT,
	escalation_policy    TEXT,
	watchers             JSONB,
	notes                JSONB,
	document             JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS alarms_tenant_idx ON alarms (tenant);
CREATE INDEX IF NOT EXISTS alarms_site_idx ON alarms (site);
CREATE INDEX IF NOT EXISTS alarms_group_key_idx ON alarms (group_key);
CREATE INDEX IF NOT EXISTS alarms_state_idx ON alarms (state);

CREATE TABLE IF NOT EXISTS alarm_history (
	id         BIGSERIAL PRIMARY KEY,
	alarm_id   TEXT NOT NULL,
	seq        INT NOT NULL,
	action     TEXT NOT NULL,
	actor      TEXT,
	note       TEXT,
	from_state TEXT,
	to_state   TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	UNIQUE (alarm_id, seq)
);
CREATE INDEX IF NOT EXISTS alarm_history_alarm_id_idx ON alarm_history (alarm_id);

CREATE TABLE IF NOT EXISTS snapshots_index (
	alarm_id  TEXT NOT NULL,
	taken_at  TIMESTAMPTZ NOT NULL,
	key       TEXT NOT NULL,
	kind      TEXT NOT NULL,
	PRIMARY KEY (alarm_id, taken_at, kind)
);
`

// PostgresStore is the synchronous-write half of the Persistence Layer:
// workflows, alarms, and alarm history.
type PostgresStore struct {
	db     *sql.DB
	logger logging.Logger

	historyMu   sync.Mutex
	historyLens map[string]int
}

// NewPostgresStore wraps an open *sql.DB. Migrate (Schema) is left to the
// caller so tests can run against an unmigrated sqlmock connection.
func NewPostgresStore(db *sql.DB, logger logging.Logger) *PostgresStore {
	return &PostgresStore{
		db:          db,
		logger:      logger,
		historyLens: make(map[string]int),
	}
}

// SaveWorkflow upserts one immutable (id, version) workflow document (spec
// §4.9: "workflows(id,version)"). Re-saving the same (id, version) is a
// no-op content-wise since a deployed version never changes.
func (s *PostgresStore) SaveWorkflow(wf models.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("store: marshal workflow %s: %w", wf.ID, err)
	}
	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO workflows (id, version, schema_version, name, site_id, is_master, status, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, version) DO UPDATE SET status = EXCLUDED.status, document = EXCLUDED.document
	`, wf.ID, wf.Version, wf.SchemaVersion, wf.Name, nullableString(wf.SiteID), wf.IsMaster, string(wf.Status), doc)
	if err != nil {
		return fmt.Errorf("store: save workflow %s v%d: %w", wf.ID, wf.Version, err)
	}
	return nil
}

// GetWorkflow loads one specific version of a workflow.
func (s *PostgresStore) GetWorkflow(id string, version int) (models.Workflow, error) {
	var doc []byte
	err := s.db.QueryRowContext(context.Background(),
		`SELECT document FROM workflows WHERE id = $1 AND version = $2`, id, version,
	).Scan(&doc)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("store: get workflow %s v%d: %w", id, version, err)
	}
	var wf models.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return models.Workflow{}, fmt.Errorf("store: unmarshal workflow %s v%d: %w", id, version, err)
	}
	return wf, nil
}

// LatestWorkflow loads the highest-versioned document for id.
func (s *PostgresStore) LatestWorkflow(id string) (models.Workflow, error) {
	var doc []byte
	err := s.db.QueryRowContext(context.Background(),
		`SELECT document FROM workflows WHERE id = $1 ORDER BY version DESC LIMIT 1`, id,
	).Scan(&doc)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("store: latest workflow %s: %w", id, err)
	}
	var wf models.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return models.Workflow{}, fmt.Errorf("store: unmarshal workflow %s: %w", id, err)
	}
	return wf, nil
}

// RecordWorkflowEvent appends one row to workflow_events, bridging Event Bus
// WORKFLOW_LIFECYCLE/NODE_* notifications into durable storage.
func (s *PostgresStore) RecordWorkflowEvent(workflowID, eventType, detail string, at time.Time) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO workflow_events (workflow_id, event_type, detail, occurred_at) VALUES ($1, $2, $3, $4)`,
		workflowID, eventType, nullableString(detail), at,
	)
	if err != nil {
		return fmt.Errorf("store: record workflow event %s/%s: %w", workflowID, eventType, err)
	}
	return nil
}

// SaveAlarm upserts the alarm row and appends any history entries not yet
// persisted, tracked by a per-ID watermark (spec §4.9: "synchronous for
// alarm mutations, to preserve ordering with history"). It satisfies
// alarm.Store.
func (s *PostgresStore) SaveAlarm(a *models.Alarm) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save alarm %s: %w", a.ID, err)
	}
	defer tx.Rollback()

	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("store: marshal alarm %s: %w", a.ID, err)
	}
	correlated, _ := json.Marshal(a.CorrelatedEventIDs)
	watchers, _ := json.Marshal(a.Watchers)
	notes, _ := json.Marshal(a.Notes)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alarms (id, group_key, tenant, site, severity, state, created_at, updated_at,
			sla_deadline, confidence, correlated_event_ids, assignee, runbook_id, escalation_policy,
			watchers, notes, document)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			group_key = EXCLUDED.group_key, severity = EXCLUDED.severity, state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at, sla_deadline = EXCLUDED.sla_deadline,
			confidence = EXCLUDED.confidence, correlated_event_ids = EXCLUDED.correlated_event_ids,
			assignee = EXCLUDED.assignee, runbook_id = EXCLUDED.runbook_id,
			escalation_policy = EXCLUDED.escalation_policy, watchers = EXCLUDED.watchers,
			notes = EXCLUDED.notes, document = EXCLUDED.document
	`, a.ID, a.GroupKey, a.Tenant, a.Site, string(a.Severity), string(a.State), a.CreatedAt, a.UpdatedAt,
		nullableTime(a.SLADeadline), a.Confidence, correlated, nullableString(a.Assignee),
		nullableString(a.RunbookID), nullableString(a.EscalationPolicy), watchers, notes, doc)
	if err != nil {
		return fmt.Errorf("store: upsert alarm %s: %w", a.ID, err)
	}

	s.historyMu.Lock()
	from := s.historyLens[a.ID]
	s.historyMu.Unlock()

	for i := from; i < len(a.History); i++ {
		h := a.History[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO alarm_history (alarm_id, seq, action, actor, note, from_state, to_state, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (alarm_id, seq) DO NOTHING
		`, a.ID, i, h.Action, nullableString(h.Actor), nullableString(h.Note),
			nullableString(string(h.FromState)), nullableString(string(h.ToState)), h.Timestamp)
		if err != nil {
			return fmt.Errorf("store: append alarm history %s#%d: %w", a.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save alarm %s: %w", a.ID, err)
	}

	s.historyMu.Lock()
	s.historyLens[a.ID] = len(a.History)
	s.historyMu.Unlock()
	return nil
}

// LoadAlarms rehydrates every persisted alarm (document column) plus its
// full history, for process restart. Used once at startup before the Alarm
// Manager accepts new events.
func (s *PostgresStore) LoadAlarms() ([]*models.Alarm, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM alarms`)
	if err != nil {
		return nil, fmt.Errorf("store: load alarms: %w", err)
	}
	defer rows.Close()

	var out []*models.Alarm
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan alarm: %w", err)
		}
		var a models.Alarm
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("store: unmarshal alarm: %w", err)
		}
		out = append(out, &a)

		s.historyMu.Lock()
		s.historyLens[a.ID] = len(a.History)
		s.historyMu.Unlock()
	}
	return out, rows.Err()
}

// AlarmHistory returns the persisted history rows for one alarm, ordered by
// sequence — used by the alarm API's `include: {history}` (spec §6).
func (s *PostgresStore) AlarmHistory(alarmID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT action, actor, note, from_state, to_state, occurred_at
		FROM alarm_history WHERE alarm_id = $1 ORDER BY seq ASC
	`, alarmID)
	if err != nil {
		return nil, fmt.Errorf("store: alarm history %s: %w", alarmID, err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		var actor, note, from, to sql.NullString
		if err := rows.Scan(&h.Action, &actor, &note, &from, &to, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan alarm history %s: %w", alarmID, err)
		}
		h.Actor = actor.String
		h.Note = note.String
		h.FromState = models.AlarmState(from.String)
		h.ToState = models.AlarmState(to.String)
		out = append(out, h)
	}
	return out, rows.Err()
}

// RecordSnapshot indexes one snapshot or recording artifact against its
// alarm, keyed by the abstract SnapshotStore key (spec §6: "a snapshots
// object store keyed by {alarm_id, timestamp}").
func (s *PostgresStore) RecordSnapshot(alarmID string, takenAt time.Time, key, kind string) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO snapshots_index (alarm_id, taken_at, key, kind) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (alarm_id, taken_at, kind) DO NOTHING`,
		alarmID, takenAt, key, kind,
	)
	if err != nil {
		return fmt.Errorf("store: record snapshot %s/%s: %w", alarmID, key, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
