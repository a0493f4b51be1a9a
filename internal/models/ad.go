package models

import (
	"time"

	"gorm.io/gorm"
)

// AdFormat is where in playback an ad is shown
type AdFormat string

const (
	AdFormatPreroll AdFormat = "preroll"
	AdFormatMidroll AdFormat = "midroll"
	AdFormatOverlay AdFormat = "overlay"
)

// Valid reports whether f is a known format
func (f AdFormat) Valid() bool {
	switch f {
	case AdFormatPreroll, AdFormatMidroll, AdFormatOverlay:
		return true
	}
	return false
}

// CampaignStatus is the lifecycle of an ad campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// AdCampaign is an advertiser's campaign. Spend is tracked in millicents so
// that a single impression at a low CPM still costs a whole unit.
type AdCampaign struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	AdvertiserID string         `gorm:"type:uuid;not null;index" json:"advertiser_id"`
	Name         string         `gorm:"not null" json:"name"`
	Format       AdFormat       `gorm:"type:varchar(20);not null;index" json:"format"`
	Status       CampaignStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	CreativeURL     string  `gorm:"type:text;not null" json:"creative_url"`
	ClickURL        string  `gorm:"type:text;not null" json:"click_url"`
	DurationSeconds float64 `json:"duration_seconds"`

	BidCPMCents     int64 `gorm:"not null" json:"bid_cpm_cents"`
	BudgetCents     int64 `gorm:"not null" json:"budget_cents"`
	SpentMillicents int64 `gorm:"not null;default:0" json:"spent_millicents"`

	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	// Targeting. An empty list matches everything.
	TargetCategories StringArray `json:"target_categories"`
	TargetTags       StringArray `json:"target_tags"`
	TargetCountries  StringArray `json:"target_countries"`

	// Max impressions per viewer inside the frequency window, 0 uses the default
	FrequencyCap int `gorm:"not null;default:0" json:"frequency_cap"`

	ImpressionCount int64 `gorm:"not null;default:0" json:"impression_count"`
	ClickCount      int64 `gorm:"not null;default:0" json:"click_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the default table name
func (AdCampaign) TableName() string {
	return "ad_campaigns"
}

// CostPerImpressionMillicents is the charge for one impression. A CPM bid in
// cents divided by 1000 impressions, times 1000 millicents per cent.
func (c *AdCampaign) CostPerImpressionMillicents() int64 {
	return c.BidCPMCents
}

// SpentCents rounds the spend down to whole cents
func (c *AdCampaign) SpentCents() int64 {
	return c.SpentMillicents / 1000
}

// InSchedule reports whether now falls inside the campaign's flight dates
func (c *AdCampaign) InSchedule(now time.Time) bool {
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && !now.Before(*c.EndsAt) {
		return false
	}
	return true
}

func (c *AdCampaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	return nil
}

// AdImpression is one served ad. CostMillicents is what the advertiser was
// charged and what creator ad revenue is computed from.
type AdImpression struct {
	ID             string   `gorm:"primaryKey;type:uuid" json:"id"`
	CampaignID     string   `gorm:"type:uuid;not null;index:idx_impressions_campaign_created" json:"campaign_id"`
	VideoID        string   `gorm:"type:uuid;not null;index" json:"video_id"`
	CreatorID      string   `gorm:"type:uuid;not null;index:idx_impressions_creator_created" json:"creator_id"`
	ViewerKey      string   `gorm:"not null;index" json:"-"`
	Country        string   `gorm:"type:varchar(2)" json:"country,omitempty"`
	Format         AdFormat `gorm:"type:varchar(20);not null" json:"format"`
	CostMillicents int64    `gorm:"not null" json:"cost_millicents"`
	Clicked        bool     `gorm:"not null" json:"clicked"`

	CreatedAt time.Time `gorm:"index:idx_impressions_campaign_created;index:idx_impressions_creator_created" json:"created_at"`
}

// TableName overrides the default table name
func (AdImpression) TableName() string {
	return "ad_impressions"
}

func (i *AdImpression) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = generateUUID()
	}
	return nil
}

// AdClick records a click through. Unique per impression.
type AdClick struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	ImpressionID string `gorm:"type:uuid;not null;uniqueIndex" json:"impression_id"`
	CampaignID   string `gorm:"type:uuid;not null;index:idx_clicks_campaign_created" json:"campaign_id"`
	VideoID      string `gorm:"type:uuid;not null" json:"video_id"`

	CreatedAt time.Time `gorm:"index:idx_clicks_campaign_created" json:"created_at"`
}

// TableName overrides the default table name
func (AdClick) TableName() string {
	return "ad_clicks"
}

func (c *AdClick) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	return nil
}
