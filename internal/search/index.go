package search

import (
	"context"
	"strings"

	"github.com/zfogg/vidlayer/internal/models"
	"gorm.io/gorm"
)

// Index is the video search backend. Client is Elasticsearch; SQLIndex
// answers from the database when Elasticsearch is not configured.
type Index interface {
	IndexVideo(ctx context.Context, doc VideoDoc) error
	DeleteVideo(ctx context.Context, videoID string) error
	SearchVideos(ctx context.Context, params VideoSearchParams) (*VideoSearchResult, error)
}

// SQLIndex searches listed videos with LIKE. Indexing is a no-op since the
// database is the source.
type SQLIndex struct {
	db *gorm.DB
}

// NewSQLIndex creates a database-backed index
func NewSQLIndex(db *gorm.DB) *SQLIndex {
	return &SQLIndex{db: db}
}

func (s *SQLIndex) IndexVideo(ctx context.Context, doc VideoDoc) error { return nil }

func (s *SQLIndex) DeleteVideo(ctx context.Context, videoID string) error { return nil }

// SearchVideos matches the query against title and description, case-insensitively
func (s *SQLIndex) SearchVideos(ctx context.Context, params VideoSearchParams) (*VideoSearchResult, error) {
	query := s.db.WithContext(ctx).Model(&models.Video{}).
		Where("visibility = ? AND status = ?", models.VisibilityPublic, models.VideoStatusReady)

	if q := strings.TrimSpace(strings.ToLower(params.Query)); q != "" {
		like := "%" + escapeLike(q) + "%"
		query = query.Where("(LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(description) LIKE ? ESCAPE '\\')", like, like)
	}
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}
	if params.CreatorID != "" {
		query = query.Where("creator_id = ?", params.CreatorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var videos []models.Video
	if err := query.Preload("Creator").
		Order("view_count DESC, created_at DESC").
		Limit(params.Limit).Offset(params.Offset).
		Find(&videos).Error; err != nil {
		return nil, err
	}

	hits := make([]VideoSearchHit, 0, len(videos))
	for _, v := range videos {
		hit := VideoSearchHit{
			ID:          v.ID,
			CreatorID:   v.CreatorID,
			Title:       v.Title,
			Description: v.Description,
			Category:    v.Category,
			Tags:        []string(v.Tags),
			ViewCount:   v.ViewCount,
		}
		if v.Creator != nil {
			hit.CreatorUsername = v.Creator.Username
		}
		hits = append(hits, hit)
	}

	return &VideoSearchResult{Videos: hits, Total: int(total), Engine: "sql"}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var (
	_ Index = (*SQLIndex)(nil)
	_ Index = (*Client)(nil)
	_ Index = (*CachedIndex)(nil)
)
