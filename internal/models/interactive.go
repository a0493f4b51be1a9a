package models

import (
	"time"

	"gorm.io/gorm"
)

// ElementType is the kind of interactive overlay
type ElementType string

const (
	ElementQuiz     ElementType = "quiz"
	ElementPoll     ElementType = "poll"
	ElementHotspot  ElementType = "hotspot"
	ElementDecision ElementType = "decision"
)

// Valid reports whether t is a known element type
func (t ElementType) Valid() bool {
	switch t {
	case ElementQuiz, ElementPoll, ElementHotspot, ElementDecision:
		return true
	}
	return false
}

// ElementOption is one selectable answer. IsCorrect applies to quizzes,
// the target fields to decisions.
type ElementOption struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	IsCorrect     bool     `json:"is_correct,omitempty"`
	TargetTime    *float64 `json:"target_time,omitempty"`
	TargetVideoID *string  `json:"target_video_id,omitempty"`
}

// HotspotRegion is a rectangle in normalized [0,1] frame coordinates
type HotspotRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// InteractiveElement is a timestamped overlay attached to a video
type InteractiveElement struct {
	ID      string      `gorm:"primaryKey;type:uuid" json:"id"`
	VideoID string      `gorm:"type:uuid;not null;index:idx_elements_video_start" json:"video_id"`
	Type    ElementType `gorm:"type:varchar(20);not null" json:"type"`
	Prompt  string      `gorm:"type:text;not null" json:"prompt"`

	StartTime float64 `gorm:"not null;index:idx_elements_video_start" json:"start_time"`
	EndTime   float64 `gorm:"not null" json:"end_time"`

	Options     []ElementOption `gorm:"type:jsonb;serializer:json" json:"options"`
	MultiSelect bool            `gorm:"not null" json:"multi_select"`
	Points      int             `gorm:"not null;default:0" json:"points,omitempty"`
	PauseVideo  bool            `gorm:"not null" json:"pause_video"`

	// Hotspot fields
	URL    string         `gorm:"type:text" json:"url,omitempty"`
	Region *HotspotRegion `gorm:"type:jsonb;serializer:json" json:"region,omitempty"`

	ResponseCount int64 `gorm:"not null;default:0" json:"response_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the default table name
func (InteractiveElement) TableName() string {
	return "interactive_elements"
}

// Option returns the option with the given ID
func (e *InteractiveElement) Option(id string) (ElementOption, bool) {
	for _, opt := range e.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return ElementOption{}, false
}

// ForViewer returns a copy safe to show viewers: quiz answers are hidden
func (e InteractiveElement) ForViewer() InteractiveElement {
	opts := make([]ElementOption, len(e.Options))
	for i, opt := range e.Options {
		opt.IsCorrect = false
		opts[i] = opt
	}
	e.Options = opts
	return e
}

func (e *InteractiveElement) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = generateUUID()
	}
	return nil
}

// ElementResponse is a viewer's answer to an element. ResponderKey is
// "u:<user id>" for signed-in viewers and "s:<session id>" otherwise, and
// is unique per element.
type ElementResponse struct {
	ID           string      `gorm:"primaryKey;type:uuid" json:"id"`
	ElementID    string      `gorm:"type:uuid;not null;uniqueIndex:idx_element_responder" json:"element_id"`
	VideoID      string      `gorm:"type:uuid;not null;index" json:"video_id"`
	CreatorID    string      `gorm:"type:uuid;not null;index:idx_responses_creator_created" json:"creator_id"`
	ResponderKey string      `gorm:"not null;uniqueIndex:idx_element_responder" json:"-"`
	UserID       *string     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	OptionIDs    StringArray `json:"option_ids"`
	IsCorrect    *bool       `json:"is_correct,omitempty"`
	Score        int         `gorm:"not null;default:0" json:"score"`

	CreatedAt time.Time `gorm:"index:idx_responses_creator_created" json:"created_at"`
}

// TableName overrides the default table name
func (ElementResponse) TableName() string {
	return "element_responses"
}

func (r *ElementResponse) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	return nil
}
