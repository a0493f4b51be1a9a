// Package alerts raises operator alerts when health signals from playback,
// payouts and imports cross a threshold.
package alerts

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when resolving an unknown alert
var ErrNotFound = errors.New("alert not found")

// Level represents the severity of an alert
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Type is the signal an alert watches
type Type string

const (
	TypePlayerErrorSpike   Type = "player_error_spike"
	TypePayoutFailures     Type = "payout_failures"
	TypeStaleManualPayouts Type = "stale_manual_payouts"
	TypeImportFailures     Type = "import_failures"
)

// Alert represents a triggered alert
type Alert struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	Level      Level                  `json:"level"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	IsResolved bool                   `json:"is_resolved"`
	RuleID     string                 `json:"rule_id"`
}

// Rule defines the threshold that triggers an alert. Cooldown keeps a rule
// from firing again while the condition persists.
type Rule struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Type          Type          `json:"type"`
	Enabled       bool          `json:"enabled"`
	Level         Level         `json:"level"`
	Condition     string        `json:"condition"`
	Threshold     float64       `json:"threshold"`
	Cooldown      time.Duration `json:"cooldown"`
	LastTriggered *time.Time    `json:"last_triggered,omitempty"`
}

// Manager stores alerts and rules in memory
type Manager struct {
	mu        sync.RWMutex
	alerts    map[string]*Alert
	rules     map[string]*Rule
	maxAlerts int
	seq       int
	now       func() time.Time
}

// NewManager creates an empty manager that keeps at most maxAlerts alerts
func NewManager(maxAlerts int) *Manager {
	if maxAlerts <= 0 {
		maxAlerts = 1000
	}
	return &Manager{
		alerts:    make(map[string]*Alert),
		rules:     make(map[string]*Rule),
		maxAlerts: maxAlerts,
		now:       time.Now,
	}
}

// Trigger raises an alert for ruleID unless the rule is unknown, disabled
// or still cooling down from its last alert.
func (m *Manager) Trigger(ruleID, message string, details map[string]interface{}) (*Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[ruleID]
	if !ok || !rule.Enabled {
		return nil, false
	}
	now := m.now()
	if rule.LastTriggered != nil && now.Sub(*rule.LastTriggered) < rule.Cooldown {
		return nil, false
	}
	rule.LastTriggered = &now

	m.seq++
	alert := &Alert{
		ID:        fmt.Sprintf("alert_%d_%d", now.UnixNano(), m.seq),
		Type:      rule.Type,
		Level:     rule.Level,
		Message:   fmt.Sprintf("[%s] %s", rule.Name, message),
		Details:   details,
		Timestamp: now,
		RuleID:    rule.ID,
	}
	m.alerts[alert.ID] = alert

	if len(m.alerts) > m.maxAlerts {
		m.prune()
	}
	copied := *alert
	return &copied, true
}

// Resolve marks an alert as resolved
func (m *Manager) Resolve(alertID string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrNotFound
	}
	if !alert.IsResolved {
		now := m.now()
		alert.ResolvedAt = &now
		alert.IsResolved = true
	}
	copied := *alert
	return &copied, nil
}

// ResolveRule resolves every open alert raised by ruleID
func (m *Manager) ResolveRule(ruleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, alert := range m.alerts {
		if alert.RuleID == ruleID && !alert.IsResolved {
			alert.ResolvedAt = &now
			alert.IsResolved = true
			n++
		}
	}
	return n
}

// Active returns unresolved alerts, newest first
func (m *Manager) Active() []*Alert {
	return m.list(func(a *Alert) bool { return !a.IsResolved })
}

// All returns every stored alert, newest first
func (m *Manager) All() []*Alert {
	return m.list(func(*Alert) bool { return true })
}

func (m *Manager) list(keep func(*Alert) bool) []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if keep(alert) {
			copied := *alert
			out = append(out, &copied)
		}
	}
	slices.SortFunc(out, func(a, b *Alert) int { return b.Timestamp.Compare(a.Timestamp) })
	return out
}

// AddRule registers rule, keyed by its type when it has no ID
func (m *Manager) AddRule(rule *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == "" {
		rule.ID = fmt.Sprintf("rule_%s", rule.Type)
	}
	m.rules[rule.ID] = rule
}

// Rules returns a snapshot of every rule ordered by ID
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		rules = append(rules, *rule)
	}
	slices.SortFunc(rules, func(a, b Rule) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return rules
}

// prune drops resolved alerts first, then the oldest open ones
func (m *Manager) prune() {
	alerts := make([]*Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		alerts = append(alerts, alert)
	}
	slices.SortFunc(alerts, func(a, b *Alert) int {
		if a.IsResolved != b.IsResolved {
			if a.IsResolved {
				return -1
			}
			return 1
		}
		return a.Timestamp.Compare(b.Timestamp)
	})

	for _, alert := range alerts[:len(alerts)-m.maxAlerts] {
		delete(m.alerts, alert.ID)
	}
}

// Stats summarizes open alerts by level
type Stats struct {
	Total    int `json:"total_alerts"`
	Active   int `json:"active_alerts"`
	Critical int `json:"critical_count"`
	Warning  int `json:"warning_count"`
	Info     int `json:"info_count"`
	Rules    int `json:"total_rules"`
}

// Stats returns alert statistics
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Total: len(m.alerts), Rules: len(m.rules)}
	for _, alert := range m.alerts {
		if alert.IsResolved {
			continue
		}
		s.Active++
		switch alert.Level {
		case LevelCritical:
			s.Critical++
		case LevelWarning:
			s.Warning++
		case LevelInfo:
			s.Info++
		}
	}
	return s
}
