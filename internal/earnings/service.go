// Package earnings rolls creator revenue up into monthly periods. Open
// periods are recalculated on a schedule; finalized periods are frozen and
// feed payouts.
package earnings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zfogg/vidlayer/internal/config"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// ErrPeriodLocked is returned when recalculating a finalized or paid period
	ErrPeriodLocked = errors.New("earnings period is finalized")
	// ErrInvalidRange is returned when start is not before end
	ErrInvalidRange = errors.New("period start must be before period end")
)

// Service calculates and finalizes earnings periods
type Service struct {
	db  *gorm.DB
	cfg config.EarningsConfig
	now func() time.Time
}

// NewService creates the earnings service
func NewService(db *gorm.DB, cfg config.EarningsConfig) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Service{db: db, cfg: cfg, now: time.Now}
}

// MonthBounds returns the UTC calendar month containing t as [start, end)
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// PreviousMonth returns the bounds of the month before the one containing t
func PreviousMonth(t time.Time) (time.Time, time.Time) {
	start, _ := MonthBounds(t)
	return MonthBounds(start.AddDate(0, 0, -1))
}

// Breakdown is the computed revenue for one creator over one window
type Breakdown struct {
	Views                     int64 `json:"views"`
	Responses                 int64 `json:"responses"`
	ViewEarningsCents         int64 `json:"view_earnings_cents"`
	EngagementEarningsCents   int64 `json:"engagement_earnings_cents"`
	SubscriptionEarningsCents int64 `json:"subscription_earnings_cents"`
	AdEarningsCents           int64 `json:"ad_earnings_cents"`
	AffiliateEarningsCents    int64 `json:"affiliate_earnings_cents"`
	TotalCents                int64 `json:"total_cents"`
}

func (b *Breakdown) applyTo(p *models.EarningsPeriod) {
	p.Views = b.Views
	p.Responses = b.Responses
	p.ViewEarningsCents = b.ViewEarningsCents
	p.EngagementEarningsCents = b.EngagementEarningsCents
	p.SubscriptionEarningsCents = b.SubscriptionEarningsCents
	p.AdEarningsCents = b.AdEarningsCents
	p.AffiliateEarningsCents = b.AffiliateEarningsCents
	p.SumComponents()
}

// perThousand computes floor(count × rate / 1000)
func perThousand(count, rateCents int64) int64 {
	return decimal.NewFromInt(count).
		Mul(decimal.NewFromInt(rateCents)).
		Div(decimal.NewFromInt(1000)).
		Floor().IntPart()
}

// share computes floor(amount × fraction)
func share(amount decimal.Decimal, fraction float64) int64 {
	return amount.Mul(decimal.NewFromFloat(fraction)).Floor().IntPart()
}

// compute tallies the revenue inputs. periodID scopes which affiliate
// commissions count: those already attached to the period plus approved
// ones not attached anywhere yet.
func (s *Service) compute(ctx context.Context, tx *gorm.DB, creatorID string, start, end time.Time, periodID string) (*Breakdown, error) {
	db := tx.WithContext(ctx)
	b := &Breakdown{}

	if err := db.Model(&models.VideoView{}).
		Where("creator_id = ? AND counted = ? AND created_at >= ? AND created_at < ?", creatorID, true, start, end).
		Count(&b.Views).Error; err != nil {
		return nil, fmt.Errorf("count views: %w", err)
	}
	if err := db.Model(&models.ElementResponse{}).
		Where("creator_id = ? AND created_at >= ? AND created_at < ?", creatorID, start, end).
		Count(&b.Responses).Error; err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}

	var paymentCents int64
	if err := db.Model(&models.SubscriptionPayment{}).
		Where("creator_id = ? AND paid_at >= ? AND paid_at < ?", creatorID, start, end).
		Select("COALESCE(SUM(amount_cents), 0)").Scan(&paymentCents).Error; err != nil {
		return nil, fmt.Errorf("sum subscription payments: %w", err)
	}

	var adMillicents int64
	if err := db.Model(&models.AdImpression{}).
		Where("creator_id = ? AND created_at >= ? AND created_at < ?", creatorID, start, end).
		Select("COALESCE(SUM(cost_millicents), 0)").Scan(&adMillicents).Error; err != nil {
		return nil, fmt.Errorf("sum ad impressions: %w", err)
	}

	commissions := db.Model(&models.AffiliateCommission{}).
		Where("referrer_id = ? AND status = ? AND created_at < ?", creatorID, models.CommissionApproved, end)
	if periodID == "" {
		commissions = commissions.Where("earnings_period_id IS NULL")
	} else {
		commissions = commissions.Where("earnings_period_id IS NULL OR earnings_period_id = ?", periodID)
	}
	if err := commissions.Select("COALESCE(SUM(amount_cents), 0)").Scan(&b.AffiliateEarningsCents).Error; err != nil {
		return nil, fmt.Errorf("sum affiliate commissions: %w", err)
	}

	b.ViewEarningsCents = perThousand(b.Views, s.cfg.ViewRatePerThousandCents)
	b.EngagementEarningsCents = perThousand(b.Responses, s.cfg.EngagementRatePerThousandCents)
	b.SubscriptionEarningsCents = share(decimal.NewFromInt(paymentCents), 1-s.cfg.SubscriptionPlatformFee)
	b.AdEarningsCents = share(decimal.New(adMillicents, -3), s.cfg.AdRevenueShare)
	b.TotalCents = b.ViewEarningsCents + b.EngagementEarningsCents + b.SubscriptionEarningsCents +
		b.AdEarningsCents + b.AffiliateEarningsCents
	return b, nil
}

// CalculatePeriod recomputes a creator's period for [start, end) and stores
// it, creating the period on first use. Finalized and paid periods are
// refused with ErrPeriodLocked.
func (s *Service) CalculatePeriod(ctx context.Context, creatorID string, start, end time.Time) (period *models.EarningsPeriod, err error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}

	ctx, span := telemetry.GetBusinessEvents().TraceEarningsCalculation(ctx, telemetry.EarningsRunAttrs{
		CreatorID:   creatorID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	began := time.Now()
	defer func() {
		telemetry.EndSpan(span, err)
		status := "ok"
		switch {
		case errors.Is(err, ErrPeriodLocked):
			status = "locked"
		case err != nil:
			status = "error"
		}
		metrics.Get().EarningsCalculationsTotal.WithLabelValues(status).Inc()
		metrics.Get().EarningsCalculationDuration.Observe(time.Since(began).Seconds())
	}()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.findOrCreate(ctx, tx, creatorID, start, end)
		if err != nil {
			return err
		}
		if p.IsLocked() {
			return ErrPeriodLocked
		}

		breakdown, err := s.compute(ctx, tx, creatorID, start, end, p.ID)
		if err != nil {
			return err
		}

		// Claim the counted commissions so they are not paid twice
		if err := tx.Model(&models.AffiliateCommission{}).
			Where("referrer_id = ? AND status = ? AND created_at < ? AND earnings_period_id IS NULL",
				creatorID, models.CommissionApproved, end).
			Update("earnings_period_id", p.ID).Error; err != nil {
			return fmt.Errorf("attach commissions: %w", err)
		}

		breakdown.applyTo(p)
		calculatedAt := s.now().UTC()
		p.CalculatedAt = &calculatedAt
		p.PeriodEnd = end

		result := tx.Model(p).Where("status = ?", models.EarningsOpen).Select(
			"views", "responses", "view_earnings_cents", "engagement_earnings_cents",
			"subscription_earnings_cents", "ad_earnings_cents", "affiliate_earnings_cents",
			"total_cents", "calculated_at", "period_end",
		).Updates(p)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrPeriodLocked
		}
		period = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Debug("Earnings period calculated",
		logger.WithCreatorID(creatorID),
		zap.Time("period_start", start),
		logger.WithCents("total_cents", period.TotalCents),
	)
	return period, nil
}

func (s *Service) findOrCreate(ctx context.Context, tx *gorm.DB, creatorID string, start, end time.Time) (*models.EarningsPeriod, error) {
	var p models.EarningsPeriod
	err := tx.WithContext(ctx).Where("creator_id = ? AND period_start = ?", creatorID, start).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	p = models.EarningsPeriod{
		CreatorID:   creatorID,
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      models.EarningsOpen,
		Currency:    s.cfg.Currency,
	}
	if err := tx.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create earnings period: %w", err)
	}
	return &p, nil
}

// RunSummary reports a CalculateAll or FinalizeAll run
type RunSummary struct {
	Creators int `json:"creators"`
	Updated  int `json:"updated"`
	Locked   int `json:"locked"`
	Failed   int `json:"failed"`
}

// ActiveCreators lists everyone with revenue activity in [start, end).
// Referrers count while they hold unclaimed approved commissions or
// commissions already claimed by their period starting at start.
func (s *Service) ActiveCreators(ctx context.Context, start, end time.Time) ([]string, error) {
	db := s.db.WithContext(ctx)
	seen := map[string]bool{}
	var ids []string
	collect := func(query *gorm.DB, column string) error {
		var found []string
		if err := query.Distinct(column).Pluck(column, &found).Error; err != nil {
			return err
		}
		for _, id := range found {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return nil
	}

	queries := []struct {
		query  *gorm.DB
		column string
	}{
		{db.Model(&models.VideoView{}).Where("counted = ? AND created_at >= ? AND created_at < ?", true, start, end), "creator_id"},
		{db.Model(&models.ElementResponse{}).Where("created_at >= ? AND created_at < ?", start, end), "creator_id"},
		{db.Model(&models.SubscriptionPayment{}).Where("paid_at >= ? AND paid_at < ?", start, end), "creator_id"},
		{db.Model(&models.AdImpression{}).Where("created_at >= ? AND created_at < ?", start, end), "creator_id"},
		{db.Model(&models.AffiliateCommission{}).
			Where("status = ? AND created_at < ?", models.CommissionApproved, end).
			Where("earnings_period_id IS NULL OR earnings_period_id IN (?)",
				db.Model(&models.EarningsPeriod{}).Select("id").Where("period_start = ?", start)), "referrer_id"},
	}
	for _, q := range queries {
		if err := collect(q.query, q.column); err != nil {
			return nil, fmt.Errorf("list active creators: %w", err)
		}
	}
	return ids, nil
}

// CalculateAll recalculates [start, end) for every active creator with at
// most cfg.Workers calculations in flight. Per-creator failures are logged
// and counted; only cancellation aborts the run.
func (s *Service) CalculateAll(ctx context.Context, start, end time.Time) (*RunSummary, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}
	creators, err := s.ActiveCreators(ctx, start, end)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Creators: len(creators)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, creatorID := range creators {
		creatorID := creatorID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := s.CalculatePeriod(gctx, creatorID, start, end)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Updated++
			case errors.Is(err, ErrPeriodLocked):
				summary.Locked++
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				summary.Failed++
				logger.Log.Error("Earnings calculation failed", logger.WithCreatorID(creatorID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	logger.Log.Info("Earnings run complete",
		zap.Time("period_start", start),
		zap.Int("creators", summary.Creators),
		zap.Int("updated", summary.Updated),
		zap.Int("locked", summary.Locked),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// Finalize recalculates an open period one last time and freezes it.
// Finalizing an already finalized period is a no-op.
func (s *Service) Finalize(ctx context.Context, periodID string) (*models.EarningsPeriod, error) {
	p, err := s.Get(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p.IsLocked() {
		return p, nil
	}
	if p.PeriodEnd.After(s.now()) {
		return nil, apierrors.BadRequest("a period can only be finalized after it ends")
	}

	if _, err := s.CalculatePeriod(ctx, p.CreatorID, p.PeriodStart, p.PeriodEnd); err != nil && !errors.Is(err, ErrPeriodLocked) {
		return nil, err
	}

	finalizedAt := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.EarningsPeriod{}).
		Where("id = ? AND status = ?", p.ID, models.EarningsOpen).
		Updates(map[string]interface{}{
			"status":       models.EarningsFinalized,
			"finalized_at": finalizedAt,
		}).Error; err != nil {
		return nil, err
	}

	logger.Log.Info("Earnings period finalized", logger.WithCreatorID(p.CreatorID), zap.String("period_id", p.ID))
	return s.Get(ctx, p.ID)
}

// FinalizeAll finalizes every open period that ended at or before before
func (s *Service) FinalizeAll(ctx context.Context, before time.Time) (*RunSummary, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.EarningsPeriod{}).
		Where("status = ? AND period_end <= ?", models.EarningsOpen, before.UTC()).
		Order("period_start").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	summary := &RunSummary{Creators: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, err := s.Finalize(ctx, id); err != nil {
			summary.Failed++
			logger.Log.Error("Failed to finalize earnings period", zap.String("period_id", id), zap.Error(err))
			continue
		}
		summary.Updated++
	}
	return summary, nil
}

// Get loads a period by ID
func (s *Service) Get(ctx context.Context, periodID string) (*models.EarningsPeriod, error) {
	var p models.EarningsPeriod
	err := s.db.WithContext(ctx).First(&p, "id = ?", periodID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("earnings period")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPeriods returns a creator's periods, newest first. status filters
// when non-empty.
func (s *Service) ListPeriods(ctx context.Context, creatorID string, status models.EarningsStatus, limit, offset int) ([]models.EarningsPeriod, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.EarningsPeriod{}).Where("creator_id = ?", creatorID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var periods []models.EarningsPeriod
	err := query.Order("period_start DESC").Limit(limit).Offset(offset).Find(&periods).Error
	return periods, total, err
}

// Estimate is the live, unsaved tally for the current month
type Estimate struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Currency    string    `json:"currency"`
	Breakdown
}

// CurrentEstimate computes the running month without writing anything
func (s *Service) CurrentEstimate(ctx context.Context, creatorID string) (*Estimate, error) {
	start, end := MonthBounds(s.now())

	periodID := ""
	var existing models.EarningsPeriod
	err := s.db.WithContext(ctx).Select("id").
		Where("creator_id = ? AND period_start = ?", creatorID, start).
		First(&existing).Error
	if err == nil {
		periodID = existing.ID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	b, err := s.compute(ctx, s.db, creatorID, start, end, periodID)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		PeriodStart: start,
		PeriodEnd:   end,
		Currency:    strings.ToLower(s.cfg.Currency),
		Breakdown:   *b,
	}, nil
}

// Balance summarizes what a creator has earned and been paid
type Balance struct {
	AvailableCents int64  `json:"available_cents"`
	OpenCents      int64  `json:"open_cents"`
	InPayoutCents  int64  `json:"in_payout_cents"`
	PaidCents      int64  `json:"paid_cents"`
	Currency       string `json:"currency"`
}

// GetBalance sums periods by state. Available is finalized and not yet
// attached to a payout.
func (s *Service) GetBalance(ctx context.Context, creatorID string) (*Balance, error) {
	type row struct {
		Status   models.EarningsStatus
		Attached bool
		Total    int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.EarningsPeriod{}).
		Select("status, payout_id IS NOT NULL AS attached, COALESCE(SUM(total_cents), 0) AS total").
		Where("creator_id = ?", creatorID).
		Group("status, payout_id IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	b := &Balance{Currency: s.cfg.Currency}
	for _, r := range rows {
		switch {
		case r.Status == models.EarningsOpen:
			b.OpenCents += r.Total
		case r.Status == models.EarningsPaid:
			b.PaidCents += r.Total
		case r.Attached:
			b.InPayoutCents += r.Total
		default:
			b.AvailableCents += r.Total
		}
	}
	return b, nil
}
