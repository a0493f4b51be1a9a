package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerErrorLog is a playback error reported by the web or embed player.
// Repeats of the same message for the same video within an hour are folded
// into one row by bumping Occurrences.
type PlayerErrorLog struct {
	ID          string                 `gorm:"primaryKey;type:uuid" json:"id"`
	VideoID     string                 `gorm:"type:uuid;not null;index:idx_player_errors_video_last" json:"video_id"`
	UserID      *string                `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Source      string                 `gorm:"type:varchar(20);not null" json:"source"`         // page, embed, share
	Severity    string                 `gorm:"type:varchar(20);not null;index" json:"severity"` // info, warning, error
	Message     string                 `gorm:"type:text;not null" json:"message"`
	Context     map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"context,omitempty"`
	Occurrences int                    `gorm:"not null;default:1" json:"occurrences"`
	FirstSeen   time.Time              `json:"first_seen"`
	LastSeen    time.Time              `gorm:"index:idx_player_errors_video_last" json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (PlayerErrorLog) TableName() string {
	return "player_error_logs"
}

func (e *PlayerErrorLog) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = generateUUID()
	}
	return nil
}

// PlayerErrorReport is one entry of a batch sent by the player
type PlayerErrorReport struct {
	Source      string                 `json:"source"`
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message" binding:"required,max=2000"`
	Context     map[string]interface{} `json:"context"`
	Occurrences int                    `json:"occurrences"`
}

// PlayerErrorStats summarises reported errors for one video
type PlayerErrorStats struct {
	TotalErrors      int64            `json:"total_errors"`
	ErrorsBySeverity map[string]int64 `json:"errors_by_severity"`
	ErrorsBySource   map[string]int64 `json:"errors_by_source"`
	TopErrors        []TopErrorItem   `json:"top_errors"`
}

// TopErrorItem is a frequently occurring error message
type TopErrorItem struct {
	Message  string    `json:"message"`
	Count    int64     `json:"count"`
	Severity string    `json:"severity"`
	LastSeen time.Time `json:"last_seen"`
}
