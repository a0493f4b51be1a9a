package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/billing"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
)

// Stripe payloads are well under this
const maxWebhookBytes = 1 << 16

// CreatePlan creates a subscription plan for the creator
// POST /api/v1/plans
func (h *Handlers) CreatePlan(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in billing.PlanInput
	if !bindJSON(c, &in) {
		return
	}
	plan, err := h.container.Billing().CreatePlan(c.Request.Context(), user, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"plan": plan})
}

// ListCreatorPlans lists a creator's active plans
// GET /api/v1/creators/:id/plans
func (h *Handlers) ListCreatorPlans(c *gin.Context) {
	creatorID := c.Param("id")
	includeInactive := false
	if user := util.OptionalUser(c); user != nil && user.ID == creatorID {
		includeInactive = c.Query("include_inactive") == "true"
	}
	plans, err := h.container.Billing().ListPlans(c.Request.Context(), creatorID, includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// DeactivatePlan stops new sign-ups on a plan
// DELETE /api/v1/plans/:id
func (h *Handlers) DeactivatePlan(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	plan, err := h.container.Billing().DeactivatePlan(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

// Subscribe starts checkout for a plan
// POST /api/v1/plans/:id/subscribe
func (h *Handlers) Subscribe(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	result, err := h.container.Billing().Subscribe(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// CancelSubscription cancels at the end of the paid period
// POST /api/v1/subscriptions/:id/cancel
func (h *Handlers) CancelSubscription(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	sub, err := h.container.Billing().Cancel(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// ListMySubscriptions lists the caller's subscriptions
// GET /api/v1/subscriptions
func (h *Handlers) ListMySubscriptions(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	subs, err := h.container.Billing().ListMine(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// ListSubscribers lists the creator's subscribers
// GET /api/v1/subscribers
func (h *Handlers) ListSubscribers(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 50, 200)
	subs, total, err := h.container.Billing().ListSubscribers(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "subscriptions", subs, total, limit, offset)
}

// StripeWebhook applies a signed Stripe event. Events that arrive ahead of
// the records they reference get a 503 so Stripe retries them.
// POST /webhooks/stripe
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		util.RespondBadRequest(c, "invalid_body", "failed to read webhook body")
		return
	}

	err = h.container.Billing().HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if !errors.Is(err, billing.ErrSubscriptionNotLinked) {
			logger.Log.Warn("Stripe webhook rejected", zap.Error(err))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
