package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/sharing"
	"github.com/zfogg/vidlayer/internal/util"
	"github.com/zfogg/vidlayer/internal/videos"
)

// CreateUpload creates a video and returns a presigned upload URL
// POST /api/v1/videos
func (h *Handlers) CreateUpload(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var req videos.CreateUploadRequest
	if !bindJSON(c, &req) {
		return
	}
	ticket, err := h.container.Videos().CreateUpload(c.Request.Context(), user, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// CompleteUpload marks the uploaded file as ready
// POST /api/v1/videos/:id/complete
func (h *Handlers) CompleteUpload(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	video, err := h.container.Videos().CompleteUpload(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video": video})
}

// ImportVideo queues a download from a remote URL
// POST /api/v1/videos/import
func (h *Handlers) ImportVideo(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var req videos.ImportRequest
	if !bindJSON(c, &req) {
		return
	}
	video, job, err := h.container.Videos().Import(c.Request.Context(), user, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"video": video, "job": job})
}

// ImportStatus reports the progress of an import
// GET /api/v1/videos/:id/import
func (h *Handlers) ImportStatus(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	job, err := h.container.Videos().ImportStatus(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// GetVideo returns a video with a short-lived playback URL
// GET /api/v1/videos/:id
func (h *Handlers) GetVideo(c *gin.Context) {
	playback, err := h.container.Videos().Get(c.Request.Context(), util.OptionalUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, playback)
}

// ListVideos lists public videos, optionally filtered
// GET /api/v1/videos?q=&category=&creator_id=
func (h *Handlers) ListVideos(c *gin.Context) {
	limit, offset := util.Pagination(c, 20, 100)
	list, total, err := h.container.Videos().List(c.Request.Context(), videos.ListParams{
		CreatorID: c.Query("creator_id"),
		Category:  c.Query("category"),
		Query:     c.Query("q"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "videos", list, total, limit, offset)
}

// ListMyVideos lists every video the creator owns, whatever its state
// GET /api/v1/videos/mine
func (h *Handlers) ListMyVideos(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 20, 100)
	list, total, err := h.container.Videos().ListMine(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "videos", list, total, limit, offset)
}

// SearchVideos queries the search index directly
// GET /api/v1/videos/search?q=
func (h *Handlers) SearchVideos(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		util.RespondValidationError(c, "q", "search query is required")
		return
	}
	limit, offset := util.Pagination(c, 20, 50)
	result, err := h.container.Videos().Search(c.Request.Context(), search.VideoSearchParams{
		Query:     query,
		Category:  c.Query("category"),
		CreatorID: c.Query("creator_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UpdateVideo edits metadata
// PATCH /api/v1/videos/:id
func (h *Handlers) UpdateVideo(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var req videos.UpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	video, err := h.container.Videos().Update(c.Request.Context(), user, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video": video})
}

// DeleteVideo soft-deletes a video and removes it from search
// DELETE /api/v1/videos/:id
func (h *Handlers) DeleteVideo(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	if err := h.container.Videos().Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type viewRequest struct {
	videos.ViewInput
	ShareToken string `json:"share_token" binding:"max=64"`
}

// RecordView stores a playback session from the player
// POST /api/v1/videos/:id/views
func (h *Handlers) RecordView(c *gin.Context) {
	var req viewRequest
	if !bindJSON(c, &req) {
		return
	}
	videoID := c.Param("id")
	in := req.ViewInput
	if in.Country == "" {
		in.Country = strings.ToUpper(c.GetHeader("CF-IPCountry"))
		if len(in.Country) != 2 {
			in.Country = ""
		}
	}
	// A dead or foreign link is ignored and the normal access rules apply
	if req.ShareToken != "" {
		link, err := h.container.Sharing().LinkForView(c.Request.Context(), req.ShareToken, videoID)
		switch {
		case err == nil:
			in.ShareLinkID = &link.ID
			in.Source = "share"
		case errors.Is(err, sharing.ErrShareLinkNotFound),
			errors.Is(err, sharing.ErrShareLinkRevoked),
			errors.Is(err, sharing.ErrShareLinkExpired):
		default:
			respondError(c, err)
			return
		}
	}

	view, err := h.container.Videos().RecordView(c.Request.Context(), util.OptionalUser(c), videoID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"view": view})
}
