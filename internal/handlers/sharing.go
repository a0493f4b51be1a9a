package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/sharing"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
)

// SharePasswordHeader carries the password of a protected share link
const SharePasswordHeader = "X-Share-Password"

// CreateShareLink creates a private link to a video
// POST /api/v1/videos/:id/share-links
func (h *Handlers) CreateShareLink(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in sharing.CreateInput
	if !bindJSON(c, &in) {
		return
	}
	link, err := h.container.Sharing().Create(c.Request.Context(), user, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"share_link": link})
}

// ListShareLinks lists the links of a video
// GET /api/v1/videos/:id/share-links
func (h *Handlers) ListShareLinks(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	links, err := h.container.Sharing().List(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"share_links": links})
}

// RevokeShareLink disables a link
// DELETE /api/v1/share-links/:id
func (h *Handlers) RevokeShareLink(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	link, err := h.container.Sharing().Revoke(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"share_link": link})
}

// EmailShareLink sends a link to a few recipients
// POST /api/v1/share-links/:id/email
func (h *Handlers) EmailShareLink(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in sharing.EmailInput
	if !bindJSON(c, &in) {
		return
	}
	sent, err := h.container.Sharing().Email(c.Request.Context(), user, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

// ResolveShareLink opens a share link and returns the video with a
// playback URL. Each call counts against the link's view limit.
// GET /api/v1/share/:token
func (h *Handlers) ResolveShareLink(c *gin.Context) {
	password := c.GetHeader(SharePasswordHeader)
	if password == "" {
		password = c.Query("password")
	}
	res, err := h.container.Sharing().Resolve(c.Request.Context(), c.Param("token"), password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, res)
}

// EmbedPlayer serves the iframe player for a public video
// GET /embed/:id
func (h *Handlers) EmbedPlayer(c *gin.Context) {
	page, err := h.container.Sharing().Embed(c.Request.Context(), c.Param("id"), c.Request.Referer())
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "private, max-age=60")
	c.Status(http.StatusOK)
	if err := page.Render(c.Writer); err != nil {
		logger.Log.Error("Failed to render embed page", zap.String("video_id", page.VideoID), zap.Error(err))
	}
}

// OEmbed answers oEmbed discovery for watch URLs. Only the JSON format is
// supported.
// GET /oembed?url=&maxwidth=&maxheight=
func (h *Handlers) OEmbed(c *gin.Context) {
	if format := c.Query("format"); format != "" && format != "json" {
		c.Status(http.StatusNotImplemented)
		return
	}
	target := c.Query("url")
	if target == "" {
		util.RespondValidationError(c, "url", "url is required")
		return
	}
	maxWidth, _ := strconv.Atoi(c.Query("maxwidth"))
	maxHeight, _ := strconv.Atoi(c.Query("maxheight"))

	oembed, err := h.container.Sharing().OEmbedFor(c.Request.Context(), target, maxWidth, maxHeight)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, oembed)
}
