package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Signals is one reading of the health counters rules are checked against
type Signals struct {
	PlayerErrors       int64 `json:"player_errors"`
	FailedPayouts      int64 `json:"failed_payouts"`
	StaleManualPayouts int64 `json:"stale_manual_payouts"`
	FailedImports      int64 `json:"failed_imports"`
}

// SignalSource reads Signals for the window ending now
type SignalSource interface {
	Signals(ctx context.Context, window time.Duration) (*Signals, error)
}

// DBSource computes signals from the database
type DBSource struct {
	db         *gorm.DB
	staleAfter time.Duration
	now        func() time.Time
}

// NewDBSource reads signals from db. Manual payouts left untouched longer
// than staleAfter count as stale.
func NewDBSource(db *gorm.DB, staleAfter time.Duration) *DBSource {
	if staleAfter <= 0 {
		staleAfter = 72 * time.Hour
	}
	return &DBSource{db: db, staleAfter: staleAfter, now: func() time.Time { return time.Now().UTC() }}
}

// Signals counts error-severity player reports, failed payouts and failed
// imports seen inside window
func (s *DBSource) Signals(ctx context.Context, window time.Duration) (*Signals, error) {
	now := s.now()
	since := now.Add(-window)
	db := s.db.WithContext(ctx)
	var out Signals

	if err := db.Model(&models.PlayerErrorLog{}).
		Where("severity = ? AND last_seen >= ?", "error", since).
		Select("COALESCE(SUM(occurrences), 0)").
		Scan(&out.PlayerErrors).Error; err != nil {
		return nil, fmt.Errorf("player errors: %w", err)
	}
	if err := db.Model(&models.Payout{}).
		Where("status = ? AND updated_at >= ?", models.PayoutFailed, since).
		Count(&out.FailedPayouts).Error; err != nil {
		return nil, fmt.Errorf("failed payouts: %w", err)
	}
	if err := db.Model(&models.Payout{}).
		Where("status = ? AND updated_at < ?", models.PayoutAwaitingManual, now.Add(-s.staleAfter)).
		Count(&out.StaleManualPayouts).Error; err != nil {
		return nil, fmt.Errorf("stale manual payouts: %w", err)
	}
	if err := db.Model(&models.ImportJob{}).
		Where("status = ? AND updated_at >= ?", models.ImportFailed, since).
		Count(&out.FailedImports).Error; err != nil {
		return nil, fmt.Errorf("failed imports: %w", err)
	}
	return &out, nil
}

// Evaluator checks rules against a SignalSource
type Evaluator struct {
	manager *Manager
	source  SignalSource
	window  time.Duration
}

// NewEvaluator creates an evaluator reading window-sized slices of signals
func NewEvaluator(manager *Manager, source SignalSource, window time.Duration) *Evaluator {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Evaluator{manager: manager, source: source, window: window}
}

// Manager returns the manager alerts are raised on
func (e *Evaluator) Manager() *Manager {
	return e.manager
}

// Evaluate reads signals once and raises an alert for every rule over its
// threshold. Rules back under threshold have their open alerts resolved.
// Returns the number of alerts raised.
func (e *Evaluator) Evaluate(ctx context.Context) (int, error) {
	signals, err := e.source.Signals(ctx, e.window)
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, rule := range e.manager.Rules() {
		if !rule.Enabled {
			continue
		}
		value, ok := signalValue(rule.Type, signals)
		if !ok {
			continue
		}
		if value < rule.Threshold {
			e.manager.ResolveRule(rule.ID)
			continue
		}
		details := map[string]interface{}{
			"value":     value,
			"threshold": rule.Threshold,
			"window":    e.window.String(),
		}
		if alert, fired := e.manager.Trigger(rule.ID, rule.Condition, details); fired {
			raised++
			logger.Log.Warn("Alert raised",
				zap.String("rule", rule.Name),
				zap.String("level", string(alert.Level)),
				zap.Float64("value", value),
			)
		}
	}
	return raised, nil
}

func signalValue(t Type, s *Signals) (float64, bool) {
	switch t {
	case TypePlayerErrorSpike:
		return float64(s.PlayerErrors), true
	case TypePayoutFailures:
		return float64(s.FailedPayouts), true
	case TypeStaleManualPayouts:
		return float64(s.StaleManualPayouts), true
	case TypeImportFailures:
		return float64(s.FailedImports), true
	}
	return 0, false
}

// DefaultRules registers the stock rule set on m
func DefaultRules(m *Manager) {
	rules := []*Rule{
		{
			Name:      "Player Error Spike",
			Type:      TypePlayerErrorSpike,
			Enabled:   true,
			Level:     LevelCritical,
			Condition: "player errors >= 100 in window",
			Threshold: 100,
			Cooldown:  15 * time.Minute,
		},
		{
			Name:      "Payout Failures",
			Type:      TypePayoutFailures,
			Enabled:   true,
			Level:     LevelCritical,
			Condition: "failed payouts >= 1 in window",
			Threshold: 1,
			Cooldown:  time.Hour,
		},
		{
			Name:      "Stale Manual Payouts",
			Type:      TypeStaleManualPayouts,
			Enabled:   true,
			Level:     LevelWarning,
			Condition: "manual payouts waiting longer than allowed",
			Threshold: 1,
			Cooldown:  6 * time.Hour,
		},
		{
			Name:      "Import Failures",
			Type:      TypeImportFailures,
			Enabled:   true,
			Level:     LevelWarning,
			Condition: "failed imports >= 5 in window",
			Threshold: 5,
			Cooldown:  30 * time.Minute,
		},
	}
	for _, rule := range rules {
		m.AddRule(rule)
	}
}
