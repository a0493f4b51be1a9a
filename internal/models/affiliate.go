package models

import (
	"time"

	"gorm.io/gorm"
)

// AffiliateClick is a visit through a referral link. IP and user agent are
// stored as salted hashes only.
type AffiliateClick struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID    string `gorm:"type:uuid;not null;index" json:"referrer_id"`
	Code          string `gorm:"not null;index" json:"code"`
	IPHash        string `gorm:"type:varchar(64)" json:"-"`
	UserAgentHash string `gorm:"type:varchar(64)" json:"-"`
	LandingPath   string `json:"landing_path"`
	Referer       string `gorm:"type:text" json:"referer,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides the default table name
func (AffiliateClick) TableName() string {
	return "affiliate_clicks"
}

func (c *AffiliateClick) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	return nil
}

// ReferralStatus tracks a referred sign-up
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralConverted ReferralStatus = "converted"
	ReferralCanceled  ReferralStatus = "canceled"
)

// AffiliateReferral links a referrer to a user who signed up with their code.
// Each user can be referred at most once.
type AffiliateReferral struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID     string         `gorm:"type:uuid;not null;index" json:"referrer_id"`
	ReferredUserID string         `gorm:"type:uuid;not null;uniqueIndex" json:"referred_user_id"`
	Code           string         `gorm:"not null" json:"code"`
	Status         ReferralStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CommissionEnds time.Time      `gorm:"not null" json:"commission_ends"`
	ConvertedAt    *time.Time     `json:"converted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (AffiliateReferral) TableName() string {
	return "affiliate_referrals"
}

func (r *AffiliateReferral) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	if r.Status == "" {
		r.Status = ReferralPending
	}
	return nil
}

// CommissionStatus is the approval state of a commission
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
	CommissionCanceled CommissionStatus = "canceled"
)

// AffiliateCommission is the amount owed to a referrer for one subscription
// payment made by the referred user. Approved commissions are attached to
// exactly one earnings period through EarningsPeriodID.
type AffiliateCommission struct {
	ID               string           `gorm:"primaryKey;type:uuid" json:"id"`
	ReferralID       string           `gorm:"type:uuid;not null;index" json:"referral_id"`
	ReferrerID       string           `gorm:"type:uuid;not null;index" json:"referrer_id"`
	PaymentID        string           `gorm:"type:uuid;not null;uniqueIndex" json:"payment_id"`
	BaseAmountCents  int64            `gorm:"not null" json:"base_amount_cents"`
	Rate             float64          `gorm:"not null" json:"rate"`
	AmountCents      int64            `gorm:"not null" json:"amount_cents"`
	Currency         string           `gorm:"type:varchar(3);not null" json:"currency"`
	Status           CommissionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	EarningsPeriodID *string          `gorm:"type:uuid;index" json:"earnings_period_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (AffiliateCommission) TableName() string {
	return "affiliate_commissions"
}

func (c *AffiliateCommission) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	if c.Status == "" {
		c.Status = CommissionPending
	}
	return nil
}
