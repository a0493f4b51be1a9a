package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/affiliates"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
)

// ReferralRedirect records a click on a referral link, drops the referral
// cookie and sends the visitor to the landing page. Unknown codes still
// redirect, without the cookie.
// GET /r/:code
func (h *Handlers) ReferralRedirect(c *gin.Context) {
	svc := h.container.Affiliates()
	target := strings.TrimRight(h.container.Config().Server.WebURL, "/") + svc.LandingPath()

	code := c.Param("code")
	click, err := svc.TrackClick(c.Request.Context(), affiliates.ClickInput{
		Code:      code,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	switch {
	case errors.Is(err, affiliates.ErrInvalidCode):
	case err != nil:
		logger.Log.Warn("Failed to track referral click", zap.String("code", code), zap.Error(err))
	default:
		maxAge := int(svc.CookieTTL().Seconds())
		c.SetCookie(affiliates.CookieName, click.Code, maxAge, "/", "", h.container.Config().IsProduction(), true)
	}
	c.Redirect(http.StatusFound, target)
}

// AffiliateDashboard summarises clicks, sign-ups and commissions
// GET /api/v1/affiliates/dashboard
func (h *Handlers) AffiliateDashboard(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	dashboard, err := h.container.Affiliates().GetDashboard(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// ListCommissions lists the caller's commissions, optionally by status
// GET /api/v1/affiliates/commissions?status=
func (h *Handlers) ListCommissions(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 50, 200)
	status := models.CommissionStatus(c.Query("status"))
	list, total, err := h.container.Affiliates().ListCommissions(c.Request.Context(), user.ID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "commissions", list, total, limit, offset)
}

// ListReferrals lists the users the caller referred
// GET /api/v1/affiliates/referrals
func (h *Handlers) ListReferrals(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 50, 200)
	referrals, err := h.container.Affiliates().ListReferrals(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": referrals})
}

// ApproveCommission makes a pending commission payable
// POST /api/v1/admin/commissions/:id/approve
func (h *Handlers) ApproveCommission(c *gin.Context) {
	commission, err := h.container.Affiliates().Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": commission})
}

// CancelCommission voids a commission, for refunds and fraud
// POST /api/v1/admin/commissions/:id/cancel
func (h *Handlers) CancelCommission(c *gin.Context) {
	commission, err := h.container.Affiliates().Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": commission})
}
