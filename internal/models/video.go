package models

import (
	"time"

	"gorm.io/gorm"
)

// VideoStatus tracks a video through upload or import
type VideoStatus string

const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// Visibility decides who may watch a video
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityUnlisted    Visibility = "unlisted"
	VisibilityPrivate     Visibility = "private"
	VisibilitySubscribers Visibility = "subscribers"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate, VisibilitySubscribers:
		return true
	}
	return false
}

// SourceType records how the video file reached storage
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceImport SourceType = "import"
)

// Video is a creator's video and its playback metadata
type Video struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID string `gorm:"type:uuid;not null;index" json:"creator_id"`
	Creator   *User  `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`

	Title       string      `gorm:"not null" json:"title"`
	Description string      `gorm:"type:text" json:"description"`
	Category    string      `gorm:"index" json:"category"`
	Tags        StringArray `json:"tags"`

	Visibility Visibility  `gorm:"type:varchar(20);not null;index" json:"visibility"`
	Status     VideoStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	SourceType SourceType  `gorm:"type:varchar(20);not null" json:"source_type"`
	SourceURL  string      `gorm:"type:text" json:"source_url,omitempty"`

	// Object storage
	StorageKey      string  `gorm:"type:text" json:"-"`
	ContentType     string  `json:"content_type"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	ThumbnailURL    string  `json:"thumbnail_url"`

	// Monetization and distribution
	AllowAds     bool        `gorm:"not null" json:"allow_ads"`
	AllowEmbed   bool        `gorm:"not null" json:"allow_embed"`
	EmbedDomains StringArray `json:"embed_domains"`

	// Counters, updated atomically
	ViewCount     int64 `gorm:"not null;default:0" json:"view_count"`
	WatchSeconds  int64 `gorm:"not null;default:0" json:"watch_seconds"`
	ResponseCount int64 `gorm:"not null;default:0" json:"response_count"`

	PublishedAt *time.Time `json:"published_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the default table name
func (Video) TableName() string {
	return "videos"
}

// IsReady reports whether the video can be played
func (v *Video) IsReady() bool {
	return v.Status == VideoStatusReady
}

// IsListed reports whether the video appears in public listings and search
func (v *Video) IsListed() bool {
	return v.IsReady() && v.Visibility == VisibilityPublic
}

func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = generateUUID()
	}
	if v.Visibility == "" {
		v.Visibility = VisibilityPublic
	}
	if v.SourceType == "" {
		v.SourceType = SourceUpload
	}
	return nil
}

// VideoView is one playback session. Counted is false when the view fell
// inside the de-duplication window of an earlier view by the same viewer.
type VideoView struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	VideoID      string  `gorm:"type:uuid;not null;index:idx_video_views_video_created" json:"video_id"`
	CreatorID    string  `gorm:"type:uuid;not null;index:idx_video_views_creator_created" json:"creator_id"`
	ViewerID     *string `gorm:"type:uuid;index" json:"viewer_id,omitempty"`
	SessionID    string  `gorm:"index" json:"session_id,omitempty"`
	ShareLinkID  *string `gorm:"type:uuid;index" json:"share_link_id,omitempty"`
	Source       string  `json:"source,omitempty"` // page, embed, share
	Country      string  `gorm:"type:varchar(2)" json:"country,omitempty"`
	WatchSeconds float64 `json:"watch_seconds"`
	Completed    bool    `json:"completed"`
	Counted      bool    `gorm:"not null;index" json:"counted"`

	CreatedAt time.Time `gorm:"index:idx_video_views_video_created;index:idx_video_views_creator_created" json:"created_at"`
}

// TableName overrides the default table name
func (VideoView) TableName() string {
	return "video_views"
}

func (v *VideoView) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = generateUUID()
	}
	return nil
}

// ImportStatus tracks a background import
type ImportStatus string

const (
	ImportQueued    ImportStatus = "queued"
	ImportRunning   ImportStatus = "running"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
)

// ImportJob copies a remote video file into object storage
type ImportJob struct {
	ID              string       `gorm:"primaryKey;type:uuid" json:"id"`
	VideoID         string       `gorm:"type:uuid;not null;index" json:"video_id"`
	CreatorID       string       `gorm:"type:uuid;not null;index" json:"creator_id"`
	SourceURL       string       `gorm:"type:text;not null" json:"source_url"`
	Status          ImportStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Attempts        int          `gorm:"not null;default:0" json:"attempts"`
	LastError       string       `gorm:"type:text" json:"last_error,omitempty"`
	BytesDownloaded int64        `json:"bytes_downloaded"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (ImportJob) TableName() string {
	return "import_jobs"
}

func (j *ImportJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = generateUUID()
	}
	if j.Status == "" {
		j.Status = ImportQueued
	}
	return nil
}
