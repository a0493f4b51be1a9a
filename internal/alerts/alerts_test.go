package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
)

type fixedSource struct {
	signals Signals
	err     error
}

func (f *fixedSource) Signals(context.Context, time.Duration) (*Signals, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.signals
	return &s, nil
}

func newTestManager(now *time.Time) *Manager {
	m := NewManager(0)
	m.now = func() time.Time { return *now }
	DefaultRules(m)
	return m
}

func TestTriggerRespectsCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(&now)
	ruleID := "rule_" + string(TypePayoutFailures)

	alert, fired := m.Trigger(ruleID, "payouts failing", nil)
	require.True(t, fired)
	assert.Equal(t, LevelCritical, alert.Level)
	assert.Contains(t, alert.Message, "[Payout Failures]")

	now = now.Add(30 * time.Minute)
	_, fired = m.Trigger(ruleID, "payouts failing", nil)
	assert.False(t, fired, "inside the one hour cooldown")

	now = now.Add(31 * time.Minute)
	_, fired = m.Trigger(ruleID, "payouts failing", nil)
	assert.True(t, fired)

	_, fired = m.Trigger("rule_unknown", "x", nil)
	assert.False(t, fired)
}

func TestResolve(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	alert, _ := m.Trigger("rule_"+string(TypeImportFailures), "imports failing", nil)

	resolved, err := m.Resolve(alert.ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	assert.Empty(t, m.Active())
	assert.Len(t, m.All(), 1)

	_, err = m.Resolve("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneKeepsNewestOpenAlerts(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(3)
	m.now = func() time.Time { return now }
	m.AddRule(&Rule{ID: "r", Name: "R", Type: TypeImportFailures, Enabled: true, Level: LevelInfo})

	var ids []string
	for i := 0; i < 5; i++ {
		alert, fired := m.Trigger("r", "tick", nil)
		require.True(t, fired)
		ids = append(ids, alert.ID)
		now = now.Add(time.Second)
	}

	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[2], all[2].ID)
}

func TestEvaluateRaisesAndResolves(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now)
	source := &fixedSource{signals: Signals{PlayerErrors: 250, FailedImports: 2}}
	e := NewEvaluator(m, source, time.Minute)

	raised, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, raised)
	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TypePlayerErrorSpike, active[0].Type)
	assert.Equal(t, float64(250), active[0].Details["value"])

	// Still over threshold but cooling down
	raised, err = e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, raised)

	source.signals.PlayerErrors = 3
	_, err = e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.Active())

	assert.Equal(t, Stats{Total: 1, Rules: 4}, m.Stats())
}

func TestEvaluateSourceError(t *testing.T) {
	now := time.Now()
	e := NewEvaluator(newTestManager(&now), &fixedSource{err: errors.New("db down")}, 0)
	_, err := e.Evaluate(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestDBSourceSignals(t *testing.T) {
	db := testutil.NewTestDB(t)
	creator := testutil.CreateUser(t, db, "maker", models.RoleCreator)
	video := testutil.CreateVideo(t, db, creator)
	now := time.Now().UTC()

	logs := []models.PlayerErrorLog{
		{VideoID: video.ID, Source: "page", Severity: "error", Message: "a", Occurrences: 7, FirstSeen: now, LastSeen: now},
		{VideoID: video.ID, Source: "page", Severity: "warning", Message: "b", Occurrences: 50, FirstSeen: now, LastSeen: now},
		{VideoID: video.ID, Source: "embed", Severity: "error", Message: "c", Occurrences: 9, FirstSeen: now.Add(-2 * time.Hour), LastSeen: now.Add(-2 * time.Hour)},
	}
	require.NoError(t, db.Create(&logs).Error)

	src := NewDBSource(db, time.Hour)
	src.now = func() time.Time { return now }
	signals, err := src.Signals(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(7), signals.PlayerErrors)
	assert.Zero(t, signals.FailedPayouts)
	assert.Zero(t, signals.StaleManualPayouts)
	assert.Zero(t, signals.FailedImports)
}
