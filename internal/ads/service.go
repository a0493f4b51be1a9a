// Package ads manages advertiser campaigns and picks the ad shown before,
// during or over a video.
package ads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/config"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MinimumBudgetCents is the smallest campaign budget accepted
const MinimumBudgetCents = 100

// Service implements campaign management and ad serving
type Service struct {
	db    *gorm.DB
	cache cache.Store
	cfg   config.AdsConfig
	now   func() time.Time
}

// NewService creates the ad service. kv holds frequency cap counters; when
// nil, caps are not enforced.
func NewService(db *gorm.DB, kv cache.Store, cfg config.AdsConfig) *Service {
	if cfg.FrequencyWindow <= 0 {
		cfg.FrequencyWindow = 24 * time.Hour
	}
	return &Service{db: db, cache: kv, cfg: cfg, now: time.Now}
}

// CampaignInput creates a campaign
type CampaignInput struct {
	Name             string          `json:"name" binding:"required,max=200"`
	Format           models.AdFormat `json:"format" binding:"required"`
	CreativeURL      string          `json:"creative_url" binding:"required"`
	ClickURL         string          `json:"click_url" binding:"required"`
	DurationSeconds  float64         `json:"duration_seconds" binding:"gte=0"`
	BidCPMCents      int64           `json:"bid_cpm_cents" binding:"required"`
	BudgetCents      int64           `json:"budget_cents" binding:"required"`
	StartsAt         *time.Time      `json:"starts_at"`
	EndsAt           *time.Time      `json:"ends_at"`
	TargetCategories []string        `json:"target_categories"`
	TargetTags       []string        `json:"target_tags"`
	TargetCountries  []string        `json:"target_countries"`
	FrequencyCap     int             `json:"frequency_cap" binding:"gte=0"`
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func normalizeList(values []string, upper bool) models.StringArray {
	out := make(models.StringArray, 0, len(values))
	seen := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if upper {
			v = strings.ToUpper(v)
		} else {
			v = strings.ToLower(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (in CampaignInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apierrors.ValidationError("name", "name is required")
	}
	if !in.Format.Valid() {
		return apierrors.ValidationError("format", "format must be preroll, midroll or overlay")
	}
	if !validHTTPURL(in.CreativeURL) {
		return apierrors.ValidationError("creative_url", "creative_url must be an http or https URL")
	}
	if !validHTTPURL(in.ClickURL) {
		return apierrors.ValidationError("click_url", "click_url must be an http or https URL")
	}
	if in.BidCPMCents < 1 {
		return apierrors.ValidationError("bid_cpm_cents", "bid must be at least 1 cent per thousand impressions")
	}
	if in.BudgetCents < MinimumBudgetCents {
		return apierrors.ValidationError("budget_cents", fmt.Sprintf("budget must be at least %d cents", MinimumBudgetCents))
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return apierrors.ValidationError("ends_at", "ends_at must be after starts_at")
	}
	for _, c := range in.TargetCountries {
		if len(strings.TrimSpace(c)) != 2 {
			return apierrors.ValidationError("target_countries", "countries are ISO 3166 two-letter codes")
		}
	}
	if in.FrequencyCap < 0 {
		return apierrors.ValidationError("frequency_cap", "frequency_cap cannot be negative")
	}
	return nil
}

// CreateCampaign creates a draft campaign
func (s *Service) CreateCampaign(ctx context.Context, advertiser *models.User, in CampaignInput) (*models.AdCampaign, error) {
	if !advertiser.CanAdvertise() {
		return nil, apierrors.Forbidden("only advertisers can create campaigns")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	campaign := &models.AdCampaign{
		AdvertiserID:     advertiser.ID,
		Name:             strings.TrimSpace(in.Name),
		Format:           in.Format,
		Status:           models.CampaignDraft,
		CreativeURL:      strings.TrimSpace(in.CreativeURL),
		ClickURL:         strings.TrimSpace(in.ClickURL),
		DurationSeconds:  in.DurationSeconds,
		BidCPMCents:      in.BidCPMCents,
		BudgetCents:      in.BudgetCents,
		StartsAt:         in.StartsAt,
		EndsAt:           in.EndsAt,
		TargetCategories: normalizeList(in.TargetCategories, false),
		TargetTags:       normalizeList(in.TargetTags, false),
		TargetCountries:  normalizeList(in.TargetCountries, true),
		FrequencyCap:     in.FrequencyCap,
	}
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	logger.Log.Info("Campaign created",
		logger.WithCampaignID(campaign.ID),
		logger.WithUserID(advertiser.ID),
		logger.WithCents("budget_cents", campaign.BudgetCents),
	)
	return campaign, nil
}

// CampaignUpdate changes campaign settings. Nil fields are left alone.
type CampaignUpdate struct {
	Name             *string    `json:"name"`
	CreativeURL      *string    `json:"creative_url"`
	ClickURL         *string    `json:"click_url"`
	BidCPMCents      *int64     `json:"bid_cpm_cents"`
	BudgetCents      *int64     `json:"budget_cents"`
	StartsAt         *time.Time `json:"starts_at"`
	EndsAt           *time.Time `json:"ends_at"`
	TargetCategories []string   `json:"target_categories"`
	TargetTags       []string   `json:"target_tags"`
	TargetCountries  []string   `json:"target_countries"`
	FrequencyCap     *int       `json:"frequency_cap"`
}

// UpdateCampaign edits a campaign that has not completed
func (s *Service) UpdateCampaign(ctx context.Context, user *models.User, id string, in CampaignUpdate) (*models.AdCampaign, error) {
	campaign, err := s.GetCampaign(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == models.CampaignCompleted {
		return nil, apierrors.Conflict("campaign")
	}

	// Validate the merged result with the same rules as creation
	merged := CampaignInput{
		Name:             campaign.Name,
		Format:           campaign.Format,
		CreativeURL:      campaign.CreativeURL,
		ClickURL:         campaign.ClickURL,
		BidCPMCents:      campaign.BidCPMCents,
		BudgetCents:      campaign.BudgetCents,
		StartsAt:         campaign.StartsAt,
		EndsAt:           campaign.EndsAt,
		TargetCategories: campaign.TargetCategories,
		TargetTags:       campaign.TargetTags,
		TargetCountries:  campaign.TargetCountries,
		FrequencyCap:     campaign.FrequencyCap,
	}
	updates := map[string]interface{}{}
	if in.Name != nil {
		merged.Name = *in.Name
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.CreativeURL != nil {
		merged.CreativeURL = *in.CreativeURL
		updates["creative_url"] = strings.TrimSpace(*in.CreativeURL)
	}
	if in.ClickURL != nil {
		merged.ClickURL = *in.ClickURL
		updates["click_url"] = strings.TrimSpace(*in.ClickURL)
	}
	if in.BidCPMCents != nil {
		merged.BidCPMCents = *in.BidCPMCents
		updates["bid_cpm_cents"] = *in.BidCPMCents
	}
	if in.BudgetCents != nil {
		if *in.BudgetCents < campaign.SpentCents() {
			return nil, apierrors.ValidationError("budget_cents", "budget cannot drop below what has been spent")
		}
		merged.BudgetCents = *in.BudgetCents
		updates["budget_cents"] = *in.BudgetCents
	}
	if in.StartsAt != nil {
		merged.StartsAt = in.StartsAt
		updates["starts_at"] = *in.StartsAt
	}
	if in.EndsAt != nil {
		merged.EndsAt = in.EndsAt
		updates["ends_at"] = *in.EndsAt
	}
	if in.TargetCategories != nil {
		merged.TargetCategories = in.TargetCategories
		updates["target_categories"] = normalizeList(in.TargetCategories, false)
	}
	if in.TargetTags != nil {
		merged.TargetTags = in.TargetTags
		updates["target_tags"] = normalizeList(in.TargetTags, false)
	}
	if in.TargetCountries != nil {
		merged.TargetCountries = in.TargetCountries
		updates["target_countries"] = normalizeList(in.TargetCountries, true)
	}
	if in.FrequencyCap != nil {
		merged.FrequencyCap = *in.FrequencyCap
		updates["frequency_cap"] = *in.FrequencyCap
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return campaign, nil
	}

	if err := s.db.WithContext(ctx).Model(campaign).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetCampaign(ctx, user, id)
}

// SetStatus moves a campaign through draft, active, paused and completed.
// Completed campaigns never restart.
func (s *Service) SetStatus(ctx context.Context, user *models.User, id string, status models.CampaignStatus) (*models.AdCampaign, error) {
	campaign, err := s.GetCampaign(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == status {
		return campaign, nil
	}

	switch status {
	case models.CampaignActive:
		if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignPaused {
			return nil, apierrors.Conflict("campaign")
		}
		if campaign.SpentMillicents+campaign.CostPerImpressionMillicents() > campaign.BudgetCents*1000 {
			return nil, apierrors.BadRequest("the campaign budget is exhausted")
		}
		if campaign.EndsAt != nil && !s.now().Before(*campaign.EndsAt) {
			return nil, apierrors.BadRequest("the campaign has already ended")
		}
	case models.CampaignPaused:
		if campaign.Status != models.CampaignActive {
			return nil, apierrors.Conflict("campaign")
		}
	case models.CampaignCompleted:
		if campaign.Status == models.CampaignDraft {
			return nil, apierrors.BadRequest("draft campaigns can be deleted instead")
		}
	default:
		return nil, apierrors.ValidationError("status", "status must be active, paused or completed")
	}

	result := s.db.WithContext(ctx).Model(&models.AdCampaign{}).
		Where("id = ? AND status = ?", campaign.ID, campaign.Status).
		Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, apierrors.Conflict("campaign")
	}
	campaign.Status = status

	logger.Log.Info("Campaign status changed",
		logger.WithCampaignID(campaign.ID),
		zap.String("status", string(status)),
	)
	return campaign, nil
}

// DeleteCampaign removes a campaign that is not running
func (s *Service) DeleteCampaign(ctx context.Context, user *models.User, id string) error {
	campaign, err := s.GetCampaign(ctx, user, id)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignActive {
		return apierrors.BadRequest("pause the campaign before deleting it")
	}
	return s.db.WithContext(ctx).Delete(campaign).Error
}

// GetCampaign loads a campaign owned by user. Admins see every campaign.
func (s *Service) GetCampaign(ctx context.Context, user *models.User, id string) (*models.AdCampaign, error) {
	var campaign models.AdCampaign
	err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("campaign")
	}
	if err != nil {
		return nil, err
	}
	if campaign.AdvertiserID != user.ID && !user.IsAdmin {
		// Do not reveal other advertisers' campaigns
		return nil, apierrors.NotFound("campaign")
	}
	return &campaign, nil
}

// ListCampaigns returns an advertiser's campaigns. An empty advertiserID
// lists all campaigns.
func (s *Service) ListCampaigns(ctx context.Context, advertiserID string, status models.CampaignStatus, limit, offset int) ([]models.AdCampaign, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AdCampaign{})
	if advertiserID != "" {
		query = query.Where("advertiser_id = ?", advertiserID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var campaigns []models.AdCampaign
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&campaigns).Error
	return campaigns, total, err
}

// candidate is an eligible campaign with its ranking score
type candidate struct {
	campaign  models.AdCampaign
	relevance int64
	score     int64
}

// rank orders candidates by bid × relevance. Ties go to the campaign with
// the most budget left so spend spreads across advertisers.
func rank(video *models.Video, country string, campaigns []models.AdCampaign) []candidate {
	out := make([]candidate, 0, len(campaigns))
	for _, c := range campaigns {
		relevance, ok := relevanceOf(&c, video, country)
		if !ok {
			continue
		}
		out = append(out, candidate{campaign: c, relevance: relevance, score: c.BidCPMCents * relevance})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		left := func(c models.AdCampaign) int64 { return c.BudgetCents*1000 - c.SpentMillicents }
		if left(out[i].campaign) != left(out[j].campaign) {
			return left(out[i].campaign) > left(out[j].campaign)
		}
		return out[i].campaign.ID < out[j].campaign.ID
	})
	return out
}

// relevanceOf is 1 plus the number of non-empty targeting dimensions the
// video matches. Any non-empty dimension that does not match disqualifies.
func relevanceOf(c *models.AdCampaign, video *models.Video, country string) (int64, bool) {
	relevance := int64(1)

	if len(c.TargetCategories) > 0 {
		if !c.TargetCategories.Contains(strings.ToLower(video.Category)) {
			return 0, false
		}
		relevance++
	}
	if len(c.TargetTags) > 0 {
		matched := false
		for _, tag := range video.Tags {
			if c.TargetTags.Contains(strings.ToLower(tag)) {
				matched = true
				break
			}
		}
		if !matched {
			return 0, false
		}
		relevance++
	}
	if len(c.TargetCountries) > 0 {
		if country == "" || !c.TargetCountries.Contains(strings.ToUpper(country)) {
			return 0, false
		}
		relevance++
	}
	return relevance, true
}
