package models

import (
	"time"

	"gorm.io/gorm"
)

// EarningsStatus is the lifecycle of an earnings period
type EarningsStatus string

const (
	EarningsOpen      EarningsStatus = "open"
	EarningsFinalized EarningsStatus = "finalized"
	EarningsPaid      EarningsStatus = "paid"
)

// EarningsPeriod is a creator's revenue over [PeriodStart, PeriodEnd).
// Open periods are recalculated freely; finalized and paid periods never change.
type EarningsPeriod struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID   string         `gorm:"type:uuid;not null;uniqueIndex:idx_earnings_creator_start" json:"creator_id"`
	PeriodStart time.Time      `gorm:"not null;uniqueIndex:idx_earnings_creator_start" json:"period_start"`
	PeriodEnd   time.Time      `gorm:"not null" json:"period_end"`
	Status      EarningsStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Currency    string         `gorm:"type:varchar(3);not null" json:"currency"`

	// Inputs
	Views     int64 `gorm:"not null;default:0" json:"views"`
	Responses int64 `gorm:"not null;default:0" json:"responses"`

	// Components, all in cents
	ViewEarningsCents         int64 `gorm:"not null;default:0" json:"view_earnings_cents"`
	EngagementEarningsCents   int64 `gorm:"not null;default:0" json:"engagement_earnings_cents"`
	SubscriptionEarningsCents int64 `gorm:"not null;default:0" json:"subscription_earnings_cents"`
	AdEarningsCents           int64 `gorm:"not null;default:0" json:"ad_earnings_cents"`
	AffiliateEarningsCents    int64 `gorm:"not null;default:0" json:"affiliate_earnings_cents"`
	TotalCents                int64 `gorm:"not null;default:0" json:"total_cents"`

	CalculatedAt *time.Time `json:"calculated_at,omitempty"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	PayoutID     *string    `gorm:"type:uuid;index" json:"payout_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (EarningsPeriod) TableName() string {
	return "earnings_periods"
}

// IsLocked reports whether the period can no longer be recalculated
func (p *EarningsPeriod) IsLocked() bool {
	return p.Status == EarningsFinalized || p.Status == EarningsPaid
}

// SumComponents recomputes TotalCents from the components
func (p *EarningsPeriod) SumComponents() {
	p.TotalCents = p.ViewEarningsCents + p.EngagementEarningsCents +
		p.SubscriptionEarningsCents + p.AdEarningsCents + p.AffiliateEarningsCents
}

func (p *EarningsPeriod) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	if p.Status == "" {
		p.Status = EarningsOpen
	}
	return nil
}
