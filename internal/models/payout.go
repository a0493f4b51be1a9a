package models

import (
	"time"

	"gorm.io/gorm"
)

// PayoutMethod is a disbursement backend
type PayoutMethod string

const (
	PayoutStripeConnect PayoutMethod = "stripe_connect"
	PayoutPayPal        PayoutMethod = "paypal"
	PayoutBankTransfer  PayoutMethod = "bank_transfer"
	PayoutCrypto        PayoutMethod = "crypto"
)

// Valid reports whether m is a supported method
func (m PayoutMethod) Valid() bool {
	switch m {
	case PayoutStripeConnect, PayoutPayPal, PayoutBankTransfer, PayoutCrypto:
		return true
	}
	return false
}

// IsManual reports whether payouts through m are settled by an operator
func (m PayoutMethod) IsManual() bool {
	return m == PayoutBankTransfer || m == PayoutCrypto
}

// PayoutAccount is where a creator's money goes. Only the fields of the
// account's method are populated.
type PayoutAccount struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID string       `gorm:"type:uuid;not null;index" json:"creator_id"`
	Method    PayoutMethod `gorm:"type:varchar(20);not null" json:"method"`
	IsDefault bool         `gorm:"not null" json:"is_default"`
	Verified  bool         `gorm:"not null" json:"verified"`

	// stripe_connect
	StripeAccountID *string `gorm:"uniqueIndex" json:"stripe_account_id,omitempty"`

	// paypal
	PayPalEmail string `json:"paypal_email,omitempty"`

	// bank_transfer; the full account number is never stored
	AccountHolder      string `json:"account_holder,omitempty"`
	BankName           string `json:"bank_name,omitempty"`
	AccountNumberLast4 string `gorm:"type:varchar(4)" json:"account_number_last4,omitempty"`
	RoutingNumber      string `json:"routing_number,omitempty"`
	IBAN               string `json:"iban,omitempty"`

	// crypto
	CryptoNetwork string `json:"crypto_network,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the default table name
func (PayoutAccount) TableName() string {
	return "payout_accounts"
}

func (a *PayoutAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = generateUUID()
	}
	return nil
}

// PayoutStatus is the settlement state of a payout
type PayoutStatus string

const (
	PayoutPending        PayoutStatus = "pending"
	PayoutProcessing     PayoutStatus = "processing"
	PayoutAwaitingManual PayoutStatus = "awaiting_manual"
	PayoutCompleted      PayoutStatus = "completed"
	PayoutFailed         PayoutStatus = "failed"
	PayoutCanceled       PayoutStatus = "canceled"
)

// IsTerminal reports whether the payout can no longer change
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutCompleted || s == PayoutFailed || s == PayoutCanceled
}

// Payout is one disbursement covering one or more finalized earnings periods.
// (CreatorID, IdempotencyKey) is unique so a retried request returns the
// original payout.
type Payout struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID      string         `gorm:"type:uuid;not null;uniqueIndex:idx_payouts_creator_key" json:"creator_id"`
	IdempotencyKey string         `gorm:"not null;uniqueIndex:idx_payouts_creator_key" json:"idempotency_key"`
	AccountID      string         `gorm:"type:uuid;not null;index" json:"account_id"`
	Account        *PayoutAccount `gorm:"foreignKey:AccountID" json:"account,omitempty"`
	Method         PayoutMethod   `gorm:"type:varchar(20);not null" json:"method"`
	AmountCents    int64          `gorm:"not null" json:"amount_cents"`
	Currency       string         `gorm:"type:varchar(3);not null" json:"currency"`
	Status         PayoutStatus   `gorm:"type:varchar(20);not null;index" json:"status"`

	Attempts          int        `gorm:"not null;default:0" json:"attempts"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`
	ProviderReference string     `json:"provider_reference,omitempty"`
	NextAttemptAt     *time.Time `gorm:"index" json:"next_attempt_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	Periods []EarningsPeriod `gorm:"foreignKey:PayoutID" json:"periods,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (Payout) TableName() string {
	return "payouts"
}

func (p *Payout) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	if p.Status == "" {
		p.Status = PayoutPending
	}
	return nil
}
