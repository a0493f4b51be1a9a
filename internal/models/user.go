package models

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRole controls which product surfaces a user can use
type UserRole string

const (
	RoleViewer     UserRole = "viewer"
	RoleCreator    UserRole = "creator"
	RoleAdvertiser UserRole = "advertiser"
	RoleAdmin      UserRole = "admin"
)

// Valid reports whether r is a role users may register with
func (r UserRole) Valid() bool {
	switch r {
	case RoleViewer, RoleCreator, RoleAdvertiser:
		return true
	}
	return false
}

// User is an account on the platform. Creators, viewers and advertisers
// share the same table and differ by role.
type User struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Bio         string `gorm:"type:text" json:"bio"`
	AvatarURL   string `json:"avatar_url"`

	Role    UserRole `gorm:"type:varchar(20);not null;index" json:"role"`
	IsAdmin bool     `gorm:"not null" json:"is_admin"`

	// Native auth
	PasswordHash *string `gorm:"type:text" json:"-"`

	// OAuth
	GoogleID *string `gorm:"uniqueIndex" json:"-"`

	// TOTP second factor, required for payout account changes once enabled
	TwoFactorEnabled bool    `gorm:"not null" json:"two_factor_enabled"`
	TwoFactorSecret  *string `gorm:"type:text" json:"-"`

	// Affiliate code other users sign up with
	ReferralCode string `gorm:"uniqueIndex;not null" json:"referral_code"`

	// Stripe customer used for subscription checkout
	StripeCustomerID *string `gorm:"index" json:"-"`

	LastActiveAt *time.Time `json:"last_active_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the default table name
func (User) TableName() string {
	return "users"
}

// IsCreator reports whether the user can publish videos and earn
func (u *User) IsCreator() bool {
	return u.Role == RoleCreator || u.IsAdmin
}

// CanAdvertise reports whether the user can manage ad campaigns
func (u *User) CanAdvertise() bool {
	return u.Role == RoleAdvertiser || u.IsAdmin
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = generateUUID()
	}
	if u.Role == "" {
		u.Role = RoleViewer
	}
	if u.ReferralCode == "" {
		u.ReferralCode = GenerateReferralCode()
	}
	return nil
}

func generateUUID() string {
	return uuid.New().String()
}

// GenerateReferralCode returns an 8 character upper-case code
func GenerateReferralCode() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	}
	return base32.StdEncoding.EncodeToString(b)
}
