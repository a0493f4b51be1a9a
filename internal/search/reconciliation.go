package search

import (
	"context"
	"time"

	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileBatchSize = 200

// Reconcile resynchronizes the index with the database for videos changed
// since the given time: listed videos are reindexed, everything else is
// removed. It returns how many documents were written or deleted.
func Reconcile(ctx context.Context, db *gorm.DB, index Index, since time.Time) (int, error) {
	startTime := time.Now()
	synced := 0

	var videos []models.Video
	err := db.WithContext(ctx).Unscoped().
		Preload("Creator").
		Where("updated_at >= ? OR deleted_at >= ?", since, since).
		Order("updated_at ASC").
		FindInBatches(&videos, reconcileBatchSize, func(tx *gorm.DB, batch int) error {
			for _, video := range videos {
				var err error
				if video.IsListed() && !video.DeletedAt.Valid {
					username := ""
					if video.Creator != nil {
						username = video.Creator.Username
					}
					err = index.IndexVideo(ctx, VideoToSearchDoc(video, username))
				} else {
					err = index.DeleteVideo(ctx, video.ID)
				}

				if err != nil {
					logger.Log.Warn("Failed to reconcile video",
						zap.String("video_id", video.ID),
						zap.Error(err),
					)
					continue
				}
				synced++
			}
			return nil
		}).Error
	if err != nil {
		return synced, err
	}

	logger.Log.Info("Search reconciliation completed",
		zap.Int("synced", synced),
		zap.Duration("duration", time.Since(startTime)),
	)
	return synced, nil
}
