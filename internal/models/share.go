package models

import (
	"time"

	"gorm.io/gorm"
)

// ShareLink grants access to one video through an unguessable token
type ShareLink struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	VideoID      string     `gorm:"type:uuid;not null;index" json:"video_id"`
	CreatorID    string     `gorm:"type:uuid;not null;index" json:"creator_id"`
	Token        string     `gorm:"not null;uniqueIndex" json:"token"`
	PasswordHash *string    `gorm:"type:text" json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxViews     *int       `json:"max_views,omitempty"`
	ViewCount    int        `gorm:"not null;default:0" json:"view_count"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (ShareLink) TableName() string {
	return "share_links"
}

// HasPassword reports whether resolving the link needs a password
func (s *ShareLink) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

// IsExpired reports whether the link's expiry has passed
func (s *ShareLink) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// IsExhausted reports whether the view limit has been reached
func (s *ShareLink) IsExhausted() bool {
	return s.MaxViews != nil && s.ViewCount >= *s.MaxViews
}

func (s *ShareLink) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateUUID()
	}
	return nil
}
