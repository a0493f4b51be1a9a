package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxErrorBatch  = 50
	errorFoldAfter = time.Hour
)

var playerErrorSources = map[string]bool{"page": true, "embed": true, "share": true}
var playerErrorSeverities = map[string]bool{"info": true, "warning": true, "error": true}

type playerErrorBatch struct {
	Errors []models.PlayerErrorReport `json:"errors" binding:"required,dive"`
}

// RecordPlayerErrors saves a batch of playback errors from the player.
// Anonymous viewers can report too.
// POST /api/v1/videos/:id/player-errors
func (h *Handlers) RecordPlayerErrors(c *gin.Context) {
	var req playerErrorBatch
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Errors) == 0 {
		util.RespondValidationError(c, "errors", "no errors provided")
		return
	}
	if len(req.Errors) > maxErrorBatch {
		req.Errors = req.Errors[:maxErrorBatch]
	}

	ctx := c.Request.Context()
	video, err := h.container.Videos().Find(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var userID *string
	if user := util.OptionalUser(c); user != nil {
		userID = &user.ID
	}

	db := h.container.DB().WithContext(ctx)
	now := time.Now().UTC()
	recorded := 0
	for _, report := range req.Errors {
		if !playerErrorSources[report.Source] {
			report.Source = "page"
		}
		if !playerErrorSeverities[report.Severity] {
			report.Severity = "error"
		}
		if report.Occurrences < 1 {
			report.Occurrences = 1
		}

		// Fold repeats of the same message within the hour into one row
		result := db.Model(&models.PlayerErrorLog{}).
			Where("video_id = ? AND message = ? AND source = ? AND last_seen >= ?",
				video.ID, report.Message, report.Source, now.Add(-errorFoldAfter)).
			Updates(map[string]interface{}{
				"occurrences": gorm.Expr("occurrences + ?", report.Occurrences),
				"last_seen":   now,
			})
		if result.Error != nil {
			logger.Log.Warn("Failed to update player error", zap.String("video_id", video.ID), zap.Error(result.Error))
			continue
		}
		if result.RowsAffected > 0 {
			recorded++
			continue
		}

		entry := &models.PlayerErrorLog{
			VideoID:     video.ID,
			UserID:      userID,
			Source:      report.Source,
			Severity:    report.Severity,
			Message:     report.Message,
			Context:     report.Context,
			Occurrences: report.Occurrences,
			FirstSeen:   now,
			LastSeen:    now,
		}
		if err := db.Create(entry).Error; err != nil {
			logger.Log.Warn("Failed to create player error", zap.String("video_id", video.ID), zap.Error(err))
			continue
		}
		recorded++
	}

	c.JSON(http.StatusOK, gin.H{
		"recorded_count": recorded,
		"total_count":    len(req.Errors),
	})
}

// PlayerErrorStats summarises the errors reported for a video the caller
// owns over the last ?hours= (default 24, at most a week)
// GET /api/v1/videos/:id/player-errors/stats
func (h *Handlers) PlayerErrorStats(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	video, err := h.container.Videos().Find(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if video.CreatorID != user.ID && !user.IsAdmin {
		util.RespondNotFound(c, "video")
		return
	}

	hours := util.ParseInt(c.Query("hours"), 24)
	if hours < 1 {
		hours = 1
	}
	if hours > 168 {
		hours = 168
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	stats := &models.PlayerErrorStats{
		ErrorsBySeverity: make(map[string]int64),
		ErrorsBySource:   make(map[string]int64),
		TopErrors:        make([]models.TopErrorItem, 0),
	}
	scope := func() *gorm.DB {
		return h.container.DB().WithContext(ctx).Model(&models.PlayerErrorLog{}).
			Where("video_id = ? AND last_seen >= ?", video.ID, since)
	}

	var bySeverity []struct {
		Severity string
		Count    int64
	}
	if err := scope().Select("severity, SUM(occurrences) as count").Group("severity").Scan(&bySeverity).Error; err != nil {
		respondError(c, err)
		return
	}
	for _, s := range bySeverity {
		stats.ErrorsBySeverity[s.Severity] = s.Count
		stats.TotalErrors += s.Count
	}

	var bySource []struct {
		Source string
		Count  int64
	}
	if err := scope().Select("source, SUM(occurrences) as count").Group("source").Scan(&bySource).Error; err != nil {
		respondError(c, err)
		return
	}
	for _, s := range bySource {
		stats.ErrorsBySource[s.Source] = s.Count
	}

	var top []models.PlayerErrorLog
	if err := scope().Order("occurrences DESC").Limit(10).Find(&top).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, err)
		return
	}
	for _, e := range top {
		stats.TopErrors = append(stats.TopErrors, models.TopErrorItem{
			Message:  e.Message,
			Count:    int64(e.Occurrences),
			Severity: e.Severity,
			LastSeen: e.LastSeen,
		})
	}

	c.JSON(http.StatusOK, stats)
}
