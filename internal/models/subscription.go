package models

import (
	"time"

	"gorm.io/gorm"
)

// BillingInterval is how often a subscription renews
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// SubscriptionPlan is a creator's paid tier backed by a Stripe price
type SubscriptionPlan struct {
	ID            string          `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID     string          `gorm:"type:uuid;not null;index" json:"creator_id"`
	Name          string          `gorm:"not null" json:"name"`
	Description   string          `gorm:"type:text" json:"description"`
	PriceCents    int64           `gorm:"not null" json:"price_cents"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`
	Interval      BillingInterval `gorm:"type:varchar(10);not null" json:"interval"`
	StripePriceID string          `gorm:"index" json:"-"`
	Active        bool            `gorm:"not null;index" json:"active"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the default table name
func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

func (p *SubscriptionPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	return nil
}

// SubscriptionStatus mirrors the Stripe lifecycle we care about
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// Subscription links a subscriber to a creator's plan
type Subscription struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	PlanID       string            `gorm:"type:uuid;not null;index" json:"plan_id"`
	Plan         *SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	SubscriberID string            `gorm:"type:uuid;not null;index:idx_subscriptions_pair" json:"subscriber_id"`
	CreatorID    string            `gorm:"type:uuid;not null;index:idx_subscriptions_pair" json:"creator_id"`

	Status                  SubscriptionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	StripeSubscriptionID    *string            `gorm:"uniqueIndex" json:"-"`
	StripeCheckoutSessionID string             `gorm:"index" json:"-"`
	CurrentPeriodEnd        *time.Time         `json:"current_period_end,omitempty"`
	CanceledAt              *time.Time         `json:"canceled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive reports whether the subscription currently grants access
func (s *Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case SubscriptionActive:
		return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
	case SubscriptionCanceled:
		// Paid-through access survives cancellation
		return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now)
	}
	return false
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateUUID()
	}
	if s.Status == "" {
		s.Status = SubscriptionIncomplete
	}
	return nil
}

// SubscriptionPayment is one paid invoice. StripeInvoiceID makes webhook
// redelivery idempotent.
type SubscriptionPayment struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	SubscriptionID  string    `gorm:"type:uuid;not null;index" json:"subscription_id"`
	SubscriberID    string    `gorm:"type:uuid;not null;index" json:"subscriber_id"`
	CreatorID       string    `gorm:"type:uuid;not null;index:idx_payments_creator_paid" json:"creator_id"`
	AmountCents     int64     `gorm:"not null" json:"amount_cents"`
	Currency        string    `gorm:"type:varchar(3);not null" json:"currency"`
	StripeInvoiceID string    `gorm:"uniqueIndex;not null" json:"-"`
	PaidAt          time.Time `gorm:"not null;index:idx_payments_creator_paid" json:"paid_at"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the default table name
func (SubscriptionPayment) TableName() string {
	return "subscription_payments"
}

func (p *SubscriptionPayment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	return nil
}
