package ads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServeRequest asks for an ad to show on a video
type ServeRequest struct {
	VideoID   string
	ViewerKey string
	Country   string
	Format    models.AdFormat
}

// AdDecision is the ad chosen for a request
type AdDecision struct {
	ImpressionID    string          `json:"impression_id"`
	CampaignID      string          `json:"campaign_id"`
	Format          models.AdFormat `json:"format"`
	CreativeURL     string          `json:"creative_url"`
	ClickURL        string          `json:"click_url"`
	DurationSeconds float64         `json:"duration_seconds"`
}

func freqKey(campaignID, viewerKey string) string {
	return fmt.Sprintf("adfreq:%s:%s", campaignID, viewerKey)
}

// ServeAd picks the best eligible campaign for the request and charges it
// for one impression. A nil decision with a nil error means no ad fills the
// slot.
func (s *Service) ServeAd(ctx context.Context, req ServeRequest) (decision *AdDecision, err error) {
	ctx, span := telemetry.GetBusinessEvents().TraceAdDecision(ctx, req.VideoID, string(req.Format))
	defer func() { telemetry.EndSpan(span, err) }()

	if !req.Format.Valid() {
		return nil, apierrors.ValidationError("format", "format must be preroll, midroll or overlay")
	}
	if req.ViewerKey == "" {
		return nil, apierrors.BadRequest("a viewer key is required")
	}

	defer func() {
		if err == nil {
			filled := "false"
			if decision != nil {
				filled = "true"
			}
			metrics.Get().AdRequestsTotal.WithLabelValues(string(req.Format), filled).Inc()
		}
	}()

	var video models.Video
	err = s.db.WithContext(ctx).First(&video, "id = ?", req.VideoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("video")
	}
	if err != nil {
		return nil, err
	}
	if !video.IsReady() || !video.AllowAds {
		return nil, nil
	}

	now := s.now()
	var campaigns []models.AdCampaign
	err = s.db.WithContext(ctx).
		Where("status = ? AND format = ?", models.CampaignActive, req.Format).
		Where("spent_millicents + bid_cpm_cents <= budget_cents * 1000").
		Where("starts_at IS NULL OR starts_at <= ?", now).
		Where("ends_at IS NULL OR ends_at > ?", now).
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load campaigns: %w", err)
	}

	for _, cand := range rank(&video, req.Country, campaigns) {
		campaign := cand.campaign
		if s.capped(ctx, &campaign, req.ViewerKey) {
			continue
		}

		impression, charged, err := s.charge(ctx, &campaign, &video, req)
		if err != nil {
			return nil, err
		}
		if !charged {
			// Another request spent the last of the budget first
			continue
		}

		if s.cache != nil {
			if _, err := s.cache.IncrWithTTL(ctx, freqKey(campaign.ID, req.ViewerKey), s.cfg.FrequencyWindow); err != nil {
				logger.Log.Warn("Failed to record ad frequency", logger.WithCampaignID(campaign.ID), zap.Error(err))
			}
		}

		metrics.Get().AdImpressionsTotal.WithLabelValues(string(req.Format)).Inc()
		metrics.Get().AdSpendMillicents.Add(float64(impression.CostMillicents))

		return &AdDecision{
			ImpressionID:    impression.ID,
			CampaignID:      campaign.ID,
			Format:          campaign.Format,
			CreativeURL:     campaign.CreativeURL,
			ClickURL:        campaign.ClickURL,
			DurationSeconds: campaign.DurationSeconds,
		}, nil
	}
	return nil, nil
}

// capped reports whether the viewer has already seen the campaign as often
// as its cap allows. Cache failures never block an ad.
func (s *Service) capped(ctx context.Context, campaign *models.AdCampaign, viewerKey string) bool {
	limit := campaign.FrequencyCap
	if limit == 0 {
		limit = s.cfg.DefaultFrequencyCap
	}
	if limit <= 0 || s.cache == nil {
		return false
	}
	seen, err := s.cache.GetInt(ctx, freqKey(campaign.ID, viewerKey))
	if err != nil {
		logger.Log.Warn("Failed to read ad frequency", logger.WithCampaignID(campaign.ID), zap.Error(err))
		return false
	}
	return seen >= int64(limit)
}

// charge spends one impression from the campaign budget and records the
// impression in the same transaction. It returns charged=false when the
// budget ran out between selection and charging.
func (s *Service) charge(ctx context.Context, campaign *models.AdCampaign, video *models.Video, req ServeRequest) (*models.AdImpression, bool, error) {
	cost := campaign.CostPerImpressionMillicents()
	var impression *models.AdImpression

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.AdCampaign{}).
			Where("id = ? AND status = ?", campaign.ID, models.CampaignActive).
			Where("spent_millicents + ? <= budget_cents * 1000", cost).
			Updates(map[string]interface{}{
				"spent_millicents": gorm.Expr("spent_millicents + ?", cost),
				"impression_count": gorm.Expr("impression_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		impression = &models.AdImpression{
			CampaignID:     campaign.ID,
			VideoID:        video.ID,
			CreatorID:      video.CreatorID,
			ViewerKey:      req.ViewerKey,
			Country:        strings.ToUpper(req.Country),
			Format:         req.Format,
			CostMillicents: cost,
		}
		if err := tx.Create(impression).Error; err != nil {
			return err
		}

		// Close out a campaign that can no longer afford an impression
		return tx.Model(&models.AdCampaign{}).
			Where("id = ? AND budget_cents * 1000 - spent_millicents < ?", campaign.ID, cost).
			Update("status", models.CampaignCompleted).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to charge campaign: %w", err)
	}
	return impression, impression != nil, nil
}

// RecordClick counts a click through for an impression and returns where
// to send the viewer. Repeated clicks redirect but are counted once.
func (s *Service) RecordClick(ctx context.Context, impressionID string) (string, error) {
	var impression models.AdImpression
	err := s.db.WithContext(ctx).First(&impression, "id = ?", impressionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apierrors.NotFound("impression")
	}
	if err != nil {
		return "", err
	}

	var campaign models.AdCampaign
	if err := s.db.WithContext(ctx).Unscoped().First(&campaign, "id = ?", impression.CampaignID).Error; err != nil {
		return "", err
	}

	counted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		click := &models.AdClick{
			ImpressionID: impression.ID,
			CampaignID:   impression.CampaignID,
			VideoID:      impression.VideoID,
		}
		if err := tx.Create(click).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}
		counted = true
		if err := tx.Model(&models.AdImpression{}).Where("id = ?", impression.ID).Update("clicked", true).Error; err != nil {
			return err
		}
		return tx.Model(&models.AdCampaign{}).Unscoped().Where("id = ?", campaign.ID).
			Update("click_count", gorm.Expr("click_count + 1")).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to record click: %w", err)
	}
	if counted {
		metrics.Get().AdClicksTotal.WithLabelValues(string(impression.Format)).Inc()
	}
	return campaign.ClickURL, nil
}

// DailyStat is one day of campaign delivery
type DailyStat struct {
	Date        string `json:"date"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	SpendCents  int64  `json:"spend_cents"`
}

// Performance summarizes campaign delivery over a date range
type Performance struct {
	CampaignID           string      `json:"campaign_id"`
	From                 time.Time   `json:"from"`
	To                   time.Time   `json:"to"`
	Impressions          int64       `json:"impressions"`
	Clicks               int64       `json:"clicks"`
	CTR                  float64     `json:"ctr"`
	SpendCents           int64       `json:"spend_cents"`
	ECPMCents            float64     `json:"ecpm_cents"`
	CPCCents             float64     `json:"cpc_cents"`
	RemainingBudgetCents int64       `json:"remaining_budget_cents"`
	Daily                []DailyStat `json:"daily"`
}

// Performance reports impressions, clicks and spend for [from, to). A zero
// range covers the last 30 days.
func (s *Service) Performance(ctx context.Context, user *models.User, campaignID string, from, to time.Time) (*Performance, error) {
	campaign, err := s.GetCampaign(ctx, user, campaignID)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return nil, apierrors.ValidationError("from", "from must be before to")
	}

	var impressions []models.AdImpression
	err = s.db.WithContext(ctx).
		Select("id", "cost_millicents", "created_at").
		Where("campaign_id = ? AND created_at >= ? AND created_at < ?", campaign.ID, from, to).
		Find(&impressions).Error
	if err != nil {
		return nil, err
	}
	var clicks []models.AdClick
	err = s.db.WithContext(ctx).
		Select("id", "created_at").
		Where("campaign_id = ? AND created_at >= ? AND created_at < ?", campaign.ID, from, to).
		Find(&clicks).Error
	if err != nil {
		return nil, err
	}

	type bucket struct {
		impressions, clicks, millicents int64
	}
	days := map[string]*bucket{}
	day := func(t time.Time) *bucket {
		key := t.UTC().Format("2006-01-02")
		b, ok := days[key]
		if !ok {
			b = &bucket{}
			days[key] = b
		}
		return b
	}

	var spentMillicents int64
	for _, imp := range impressions {
		b := day(imp.CreatedAt)
		b.impressions++
		b.millicents += imp.CostMillicents
		spentMillicents += imp.CostMillicents
	}
	for _, c := range clicks {
		day(c.CreatedAt).clicks++
	}

	perf := &Performance{
		CampaignID:           campaign.ID,
		From:                 from,
		To:                   to,
		Impressions:          int64(len(impressions)),
		Clicks:               int64(len(clicks)),
		SpendCents:           spentMillicents / 1000,
		RemainingBudgetCents: campaign.BudgetCents - campaign.SpentCents(),
		Daily:                []DailyStat{},
	}
	if perf.RemainingBudgetCents < 0 {
		perf.RemainingBudgetCents = 0
	}

	spend := decimal.New(spentMillicents, -3)
	if perf.Impressions > 0 {
		perf.CTR = decimal.NewFromInt(perf.Clicks).
			Div(decimal.NewFromInt(perf.Impressions)).Round(4).InexactFloat64()
		perf.ECPMCents = spend.Mul(decimal.NewFromInt(1000)).
			Div(decimal.NewFromInt(perf.Impressions)).Round(2).InexactFloat64()
	}
	if perf.Clicks > 0 {
		perf.CPCCents = spend.Div(decimal.NewFromInt(perf.Clicks)).Round(2).InexactFloat64()
	}

	for d := from.UTC().Truncate(24 * time.Hour); d.Before(to); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		b, ok := days[key]
		if !ok {
			continue
		}
		perf.Daily = append(perf.Daily, DailyStat{
			Date:        key,
			Impressions: b.impressions,
			Clicks:      b.clicks,
			SpendCents:  b.millicents / 1000,
		})
	}
	return perf, nil
}
