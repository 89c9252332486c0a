// Package alarm implements the Alarm Manager (spec §4.8): the alarm state
// machine, SLA timers, history, and the full mutator/query/bulk-op surface,
// with all mutation for a given alarm ID serialised through a per-alarm
// mutex — the same per-handle locking idiom the Model Registry uses for
// non-thread-safe engines.
package alarm

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// SLAPolicy maps severity to its per-state time budgets (spec §4.8).
type SLAPolicy map[models.Severity]models.SLATimers

// DefaultSLAPolicy is a reasonable starting policy; deployments are expected
// to override it via configuration.
var DefaultSLAPolicy = SLAPolicy{
	models.SeverityCritical: {TriageMS: 5 * 60 * 1000, ActiveMS: 30 * 60 * 1000, ContainedMS: 60 * 60 * 1000},
	models.SeverityMajor:    {TriageMS: 15 * 60 * 1000, ActiveMS: 60 * 60 * 1000, ContainedMS: 2 * 60 * 60 * 1000},
	models.SeverityMinor:    {TriageMS: 60 * 60 * 1000, ActiveMS: 4 * 60 * 60 * 1000, ContainedMS: 8 * 60 * 60 * 1000},
	models.SeverityInfo:     {TriageMS: 24 * 60 * 60 * 1000, ActiveMS: 24 * 60 * 60 * 1000, ContainedMS: 24 * 60 * 60 * 1000},
}

// escalationThreshold is the correlator confidence above which severity is
// auto-escalated to critical (spec §4.8).
const escalationThreshold = 0.85

type entry struct {
	mu    sync.Mutex
	alarm *models.Alarm
}

// Store persists alarm mutations. The Manager calls it synchronously inside
// the per-alarm lock so persistence ordering matches history ordering (spec
// §4.9). A nil Store is valid for tests and in-memory-only use.
type Store interface {
	SaveAlarm(a *models.Alarm) error
}

// Manager owns every Alarm and serialises mutation per alarm ID.
type Manager struct {
	logger logging.Logger
	store  Store
	policy SLAPolicy

	mu         sync.RWMutex
	byID       map[string]*entry
	byGroupKey map[string]string // group_key -> alarm ID, only while non-terminal
}

// New creates a Manager. A nil policy falls back to DefaultSLAPolicy.
func New(store Store, logger logging.Logger, policy SLAPolicy) *Manager {
	if policy == nil {
		policy = DefaultSLAPolicy
	}
	return &Manager{
		logger:     logger,
		store:      store,
		policy:     policy,
		byID:       make(map[string]*entry),
		byGroupKey: make(map[string]string),
	}
}

func (m *Manager) slaDeadline(now time.Time, sev models.Severity, state models.AlarmState) time.Time {
	timers, ok := m.policy[sev]
	if !ok {
		return time.Time{}
	}
	var ms int64
	switch state {
	case models.StateTriage:
		ms = timers.TriageMS
	case models.StateActive:
		ms = timers.ActiveMS
	case models.StateContained:
		ms = timers.ContainedMS
	default:
		return time.Time{}
	}
	return now.Add(time.Duration(ms) * time.Millisecond)
}

func severityFromEvent(e models.RawEvent) models.Severity {
	if conf, ok := e.Attributes["confidence"].(float64); ok && conf >= escalationThreshold {
		return models.SeverityCritical
	}
	return models.SeverityMinor
}

// Ingest applies the correlator's event/score pairing: look up an open
// alarm by group_key; if none, create one; otherwise append the event. In
// both cases a score at or above escalationThreshold auto-escalates the
// alarm to critical (spec §4.7/§4.8).
func (m *Manager) Ingest(e models.RawEvent, score float64) (*models.Alarm, error) {
	groupKey := e.GroupKey()

	m.mu.Lock()
	id, ok := m.byGroupKey[groupKey]
	var ent *entry
	if ok {
		ent = m.byID[id]
	}
	if !ok {
		id = uuid.NewString()
		now := time.Now()
		sev := severityFromEvent(e)
		a := &models.Alarm{
			ID:                 id,
			GroupKey:           groupKey,
			Tenant:             e.Tenant,
			Site:               e.Site,
			Severity:           sev,
			State:              models.StateNew,
			CreatedAt:          now,
			UpdatedAt:          now,
			Confidence:         score,
			CorrelatedEventIDs: []string{e.ID},
		}
		ent = &entry{alarm: a}
		m.byID[id] = ent
		m.byGroupKey[groupKey] = id
		m.mu.Unlock()

		ent.mu.Lock()
		m.appendHistory(a, "created", "system", "", models.StateNew)
		if score >= escalationThreshold && a.Severity != models.SeverityCritical {
			from := a.Severity
			a.Severity = models.SeverityCritical
			m.appendHistory(a, "auto_escalated", "system", fmt.Sprintf("score=%.2f from=%s", score, from), a.State)
		}
		m.persist(a)
		out := a.Clone()
		ent.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	ent.mu.Lock()
	defer ent.mu.Unlock()
	a := ent.alarm
	if isTerminal(a.State) {
		m.mu.Lock()
		delete(m.byGroupKey, groupKey)
		m.mu.Unlock()
		return m.Ingest(e, score)
	}
	a.CorrelatedEventIDs = append(a.CorrelatedEventIDs, e.ID)
	a.UpdatedAt = time.Now()
	if score >= escalationThreshold && a.Severity != models.SeverityCritical {
		from := a.Severity
		a.Severity = models.SeverityCritical
		m.appendHistory(a, "auto_escalated", "system", fmt.Sprintf("score=%.2f from=%s", score, from), a.State)
	}
	m.persist(a)
	return a.Clone(), nil
}

func (m *Manager) appendHistory(a *models.Alarm, action, actor, note string, state models.AlarmState) {
	a.History = append(a.History, models.HistoryEntry{
		Action:    action,
		Actor:     actor,
		Timestamp: time.Now(),
		Note:      note,
		ToState:   state,
	})
}

func (m *Manager) persist(a *models.Alarm) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAlarm(a.Clone()); err != nil && m.logger != nil {
		m.logger.WithError(err).WithField("alarm_id", a.ID).Warn("alarm persist failed")
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	ent, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return ent, nil
}

// Get returns a snapshot of one alarm.
func (m *Manager) Get(id string) (*models.Alarm, error) {
	ent, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.alarm.Clone(), nil
}

// mutate performs the common work shared by every mutator: lock the
// alarm, apply fn, record history, persist, unlock.
func (m *Manager) mutate(id string, fn func(a *models.Alarm) (action, note string, toState models.AlarmState, err error)) (*models.Alarm, error) {
	ent, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	a := ent.alarm
	action, note, toState, err := fn(a)
	if err != nil {
		return nil, err
	}
	a.UpdatedAt = time.Now()
	if action != "" {
		m.appendHistory(a, action, "", note, toState)
	}
	m.persist(a)
	return a.Clone(), nil
}

// Transition moves an alarm to toState if the state machine permits it.
func (m *Manager) Transition(id string, to models.AlarmState, actor, note string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		if !isValidTransition(a.State, to) {
			return "", "", "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, to)
		}
		from := a.State
		if to == models.StateSnoozed {
			a.PrevActiveState = from
		}
		a.State = to
		h := models.HistoryEntry{Action: "transition", Actor: actor, Timestamp: time.Now(), Note: note, FromState: from, ToState: to}
		a.History = append(a.History, h)
		if to == models.StateTriage || to == models.StateActive || to == models.StateContained {
			a.SLADeadline = m.slaDeadline(time.Now(), a.Severity, to)
		} else {
			a.SLADeadline = time.Time{}
		}
		return "", "", "", nil
	})
}

// Acknowledge moves NEW/SNOOZED into TRIAGE (spec §4.8: acknowledge -> TRIAGE).
// Acknowledging an alarm already in TRIAGE is idempotent: the transition
// table has no TRIAGE -> TRIAGE entry, but spec §8 requires this succeed
// with the state unchanged and one extra history entry recorded, so the
// same-state case is handled here rather than falling through to Transition.
func (m *Manager) Acknowledge(id, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		if a.State == models.StateTriage {
			h := models.HistoryEntry{Action: "transition", Actor: actor, Timestamp: time.Now(), FromState: a.State, ToState: a.State}
			a.History = append(a.History, h)
			return "", "", "", nil
		}
		if !isValidTransition(a.State, models.StateTriage) {
			return "", "", "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, models.StateTriage)
		}
		from := a.State
		a.State = models.StateTriage
		h := models.HistoryEntry{Action: "transition", Actor: actor, Timestamp: time.Now(), FromState: from, ToState: models.StateTriage}
		a.History = append(a.History, h)
		a.SLADeadline = m.slaDeadline(time.Now(), a.Severity, models.StateTriage)
		return "", "", "", nil
	})
}

// Assign sets the alarm's assignee without a state change.
func (m *Manager) Assign(id, assignee, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		a.Assignee = assignee
		return "assign", assignee, a.State, nil
	})
}

// AddNote appends a free-text note.
func (m *Manager) AddNote(id, text, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		a.Notes = append(a.Notes, text)
		return "add_note", text, a.State, nil
	})
}

// UpdateSeverity sets severity explicitly (outside auto-escalation).
func (m *Manager) UpdateSeverity(id string, sev models.Severity, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		from := a.Severity
		a.Severity = sev
		return "update_severity", fmt.Sprintf("%s -> %s", from, sev), a.State, nil
	})
}

// SetRunbook attaches or clears a runbook reference.
func (m *Manager) SetRunbook(id string, runbookID *string, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		if runbookID == nil {
			a.RunbookID = ""
		} else {
			a.RunbookID = *runbookID
		}
		return "set_runbook", a.RunbookID, a.State, nil
	})
}

// SetEscalationPolicy attaches or clears an escalation policy reference.
func (m *Manager) SetEscalationPolicy(id string, policy *string, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		if policy == nil {
			a.EscalationPolicy = ""
		} else {
			a.EscalationPolicy = *policy
		}
		return "set_escalation_policy", a.EscalationPolicy, a.State, nil
	})
}

// AddWatcher registers watcher, failing with ErrConflict if already present.
func (m *Manager) AddWatcher(id, watcher, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		for _, w := range a.Watchers {
			if w == watcher {
				return "", "", "", ErrConflict
			}
		}
		a.Watchers = append(a.Watchers, watcher)
		return "add_watcher", watcher, a.State, nil
	})
}

// RemoveWatcher removes watcher, failing with ErrNotFound if absent.
func (m *Manager) RemoveWatcher(id, watcher, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		idx := -1
		for i, w := range a.Watchers {
			if w == watcher {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", "", "", ErrNotFound
		}
		a.Watchers = append(a.Watchers[:idx], a.Watchers[idx+1:]...)
		return "remove_watcher", watcher, a.State, nil
	})
}

// Snooze moves the alarm to SNOOZED until duration elapses, at which point
// an external timer driver (see WakeSnoozed) returns it to TRIAGE.
func (m *Manager) Snooze(id string, duration time.Duration, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		if !isValidTransition(a.State, models.StateSnoozed) {
			return "", "", "", fmt.Errorf("%w: %s -> SNOOZED", ErrInvalidTransition, a.State)
		}
		until := time.Now().Add(duration)
		a.PrevActiveState = a.State
		a.State = models.StateSnoozed
		a.SnoozedUntil = &until
		h := models.HistoryEntry{Action: "snooze", Actor: actor, Timestamp: time.Now(), FromState: a.PrevActiveState, ToState: models.StateSnoozed}
		a.History = append(a.History, h)
		return "", "", "", nil
	})
}

// Suppress moves the alarm to the terminal SUPPRESSED state with a reason.
func (m *Manager) Suppress(id, reason, actor string) (*models.Alarm, error) {
	return m.mutate(id, func(a *models.Alarm) (string, string, models.AlarmState, error) {
		if !isValidTransition(a.State, models.StateSuppressed) {
			return "", "", "", fmt.Errorf("%w: %s -> SUPPRESSED", ErrInvalidTransition, a.State)
		}
		from := a.State
		a.State = models.StateSuppressed
		h := models.HistoryEntry{Action: "suppress", Actor: actor, Timestamp: time.Now(), Note: reason, FromState: from, ToState: models.StateSuppressed}
		a.History = append(a.History, h)
		return "", "", "", nil
	})
}

// WakeSnoozed scans for alarms whose snooze has expired and returns them to
// TRIAGE, per spec §4.8 ("SNOOZED auto-returns to TRIAGE on timer expiry").
// Called periodically by a ticker in cmd/overwatch.
func (m *Manager) WakeSnoozed(now time.Time) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		ent, err := m.lookup(id)
		if err != nil {
			continue
		}
		ent.mu.Lock()
		a := ent.alarm
		if a.State == models.StateSnoozed && a.SnoozedUntil != nil && !now.Before(*a.SnoozedUntil) {
			from := a.State
			a.State = models.StateTriage
			a.SnoozedUntil = nil
			a.SLADeadline = m.slaDeadline(now, a.Severity, models.StateTriage)
			m.appendHistory(a, "snooze_expired", "system", "", models.StateTriage)
			a.UpdatedAt = now
			m.persist(a)
			_ = from
		}
		ent.mu.Unlock()
	}
}

// BulkResult is one alarm's outcome within a bulk operation.
type BulkResult struct {
	ID    string
	Error error
}

// BulkTransition applies Transition to every ID independently: one alarm's
// failure does not affect the others (spec §4.8: "atomicity is per-alarm").
func (m *Manager) BulkTransition(ids []string, to models.AlarmState, actor, note string) []BulkResult {
	results := make([]BulkResult, len(ids))
	for i, id := range ids {
		_, err := m.Transition(id, to, actor, note)
		results[i] = BulkResult{ID: id, Error: err}
	}
	return results
}
