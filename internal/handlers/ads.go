package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/ads"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/util"
)

// CreateCampaign creates a draft campaign
// POST /api/v1/campaigns
func (h *Handlers) CreateCampaign(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in ads.CampaignInput
	if !bindJSON(c, &in) {
		return
	}
	campaign, err := h.container.Ads().CreateCampaign(c.Request.Context(), user, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"campaign": campaign})
}

// ListCampaigns lists the advertiser's campaigns
// GET /api/v1/campaigns?status=
func (h *Handlers) ListCampaigns(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 20, 100)
	status := models.CampaignStatus(c.Query("status"))
	list, total, err := h.container.Ads().ListCampaigns(c.Request.Context(), user.ID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "campaigns", list, total, limit, offset)
}

// GetCampaign returns one campaign
// GET /api/v1/campaigns/:id
func (h *Handlers) GetCampaign(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	campaign, err := h.container.Ads().GetCampaign(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign": campaign})
}

// UpdateCampaign edits targeting, creative or budget
// PATCH /api/v1/campaigns/:id
func (h *Handlers) UpdateCampaign(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in ads.CampaignUpdate
	if !bindJSON(c, &in) {
		return
	}
	campaign, err := h.container.Ads().UpdateCampaign(c.Request.Context(), user, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign": campaign})
}

type campaignStatusRequest struct {
	Status models.CampaignStatus `json:"status" binding:"required,oneof=draft active paused completed"`
}

// SetCampaignStatus activates, pauses or completes a campaign
// POST /api/v1/campaigns/:id/status
func (h *Handlers) SetCampaignStatus(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var req campaignStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	campaign, err := h.container.Ads().SetStatus(c.Request.Context(), user, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign": campaign})
}

// DeleteCampaign removes a campaign that has not served
// DELETE /api/v1/campaigns/:id
func (h *Handlers) DeleteCampaign(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	if err := h.container.Ads().DeleteCampaign(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CampaignPerformance reports delivery over ?from=&to=
// GET /api/v1/campaigns/:id/performance
func (h *Handlers) CampaignPerformance(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}
	perf, err := h.container.Ads().Performance(c.Request.Context(), user, c.Param("id"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// ServeAd picks an ad for a slot in a video. An empty slot is a 204.
// GET /api/v1/videos/:id/ad?format=preroll&session_id=
func (h *Handlers) ServeAd(c *gin.Context) {
	country := strings.ToUpper(c.Query("country"))
	if country == "" {
		country = strings.ToUpper(c.GetHeader("CF-IPCountry"))
	}
	decision, err := h.container.Ads().ServeAd(c.Request.Context(), ads.ServeRequest{
		VideoID:   c.Param("id"),
		ViewerKey: viewerKey(c, c.Query("session_id")),
		Country:   country,
		Format:    models.AdFormat(c.DefaultQuery("format", string(models.AdFormatPreroll))),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if decision == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// AdClick counts the click and redirects to the advertiser
// GET /ads/click/:impression
func (h *Handlers) AdClick(c *gin.Context) {
	target, err := h.container.Ads().RecordClick(c.Request.Context(), c.Param("impression"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}
