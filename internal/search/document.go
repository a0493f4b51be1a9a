package search

import (
	"time"

	"github.com/zfogg/vidlayer/internal/models"
)

// VideoDoc is the indexed form of a listed video
type VideoDoc struct {
	ID              string    `json:"id"`
	CreatorID       string    `json:"creator_id"`
	CreatorUsername string    `json:"creator_username"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	Tags            []string  `json:"tags"`
	DurationSeconds float64   `json:"duration_seconds"`
	ViewCount       int64     `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// VideoToSearchDoc converts a Video model to a search document
func VideoToSearchDoc(video models.Video, creatorUsername string) VideoDoc {
	tags := []string(video.Tags)
	if tags == nil {
		tags = []string{}
	}
	return VideoDoc{
		ID:              video.ID,
		CreatorID:       video.CreatorID,
		CreatorUsername: creatorUsername,
		Title:           video.Title,
		Description:     video.Description,
		Category:        video.Category,
		Tags:            tags,
		DurationSeconds: video.DurationSeconds,
		ViewCount:       video.ViewCount,
		CreatedAt:       video.CreatedAt,
	}
}

// VideoSearchParams filters a search
type VideoSearchParams struct {
	Query     string `json:"query"`
	Category  string `json:"category,omitempty"`
	CreatorID string `json:"creator_id,omitempty"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

// VideoSearchHit represents a single video search hit
type VideoSearchHit struct {
	ID              string   `json:"id"`
	CreatorID       string   `json:"creator_id"`
	CreatorUsername string   `json:"creator_username,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	ViewCount       int64    `json:"view_count"`
	Score           float64  `json:"score"`
}

// VideoSearchResult is a page of hits
type VideoSearchResult struct {
	Videos []VideoSearchHit `json:"videos"`
	Total  int              `json:"total"`
	Engine string           `json:"engine"`
}
