package alarm

import (
	"sort"
	"strings"
	"time"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Filter is the alarm query predicate (spec §4.8).
type Filter struct {
	States      []models.AlarmState
	Severities  []models.Severity
	Assignee    string
	Tenant      string
	Site        string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Search      string
}

func (f Filter) matches(a *models.Alarm) bool {
	if len(f.States) > 0 && !containsState(f.States, a.State) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, a.Severity) {
		return false
	}
	if f.Assignee != "" && f.Assignee != a.Assignee {
		return false
	}
	if f.Tenant != "" && f.Tenant != a.Tenant {
		return false
	}
	if f.Site != "" && f.Site != a.Site {
		return false
	}
	if !f.CreatedFrom.IsZero() && a.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && a.CreatedAt.After(f.CreatedTo) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(a.GroupKey), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func containsState(list []models.AlarmState, s models.AlarmState) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []models.Severity, s models.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Pagination bounds a List call; Limit <= 0 means "no limit".
type Pagination struct {
	Offset int
	Limit  int
}

// List returns alarms matching filter, newest-created-first, paginated.
func (m *Manager) List(f Filter, p Pagination) ([]*models.Alarm, int) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.byID))
	for _, ent := range m.byID {
		entries = append(entries, ent)
	}
	m.mu.RUnlock()

	matched := make([]*models.Alarm, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		a := ent.alarm
		if f.matches(a) {
			matched = append(matched, a.Clone())
		}
		ent.mu.Unlock()
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)

	if p.Offset > 0 {
		if p.Offset >= len(matched) {
			return nil, total
		}
		matched = matched[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(matched) {
		matched = matched[:p.Limit]
	}
	return matched, total
}
