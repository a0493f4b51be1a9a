package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/payouts"
	"github.com/zfogg/vidlayer/internal/util"
)

// CreatePayoutAccount adds a payout destination. Stripe accounts come back
// with an onboarding URL.
// POST /api/v1/payout-accounts
func (h *Handlers) CreatePayoutAccount(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in payouts.AccountInput
	if !bindJSON(c, &in) {
		return
	}
	result, err := h.container.Payouts().CreateAccount(c.Request.Context(), user, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListPayoutAccounts lists the creator's payout accounts
// GET /api/v1/payout-accounts
func (h *Handlers) ListPayoutAccounts(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	accounts, err := h.container.Payouts().ListAccounts(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// GetPayoutAccount returns one payout account
// GET /api/v1/payout-accounts/:id
func (h *Handlers) GetPayoutAccount(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	account, err := h.container.Payouts().GetAccount(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// PayoutOnboardingLink issues a fresh Stripe onboarding URL
// POST /api/v1/payout-accounts/:id/onboarding
func (h *Handlers) PayoutOnboardingLink(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	link, err := h.container.Payouts().OnboardingLink(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"onboarding_url": link})
}

// SetDefaultPayoutAccount makes an account the default destination
// POST /api/v1/payout-accounts/:id/default
func (h *Handlers) SetDefaultPayoutAccount(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	account, err := h.container.Payouts().SetDefault(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// DeletePayoutAccount removes an account without open payouts
// DELETE /api/v1/payout-accounts/:id
func (h *Handlers) DeletePayoutAccount(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	if err := h.container.Payouts().DeleteAccount(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestPayout withdraws the available balance
// POST /api/v1/payouts
func (h *Handlers) RequestPayout(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in payouts.RequestInput
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		in.IdempotencyKey = key
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil && in.IdempotencyKey == "" {
			util.RespondBadRequest(c, "invalid_request", err.Error())
			return
		}
	}
	if in.IdempotencyKey == "" {
		util.RespondValidationError(c, "idempotency_key", "an idempotency key is required")
		return
	}

	payout, err := h.container.Payouts().RequestPayout(c.Request.Context(), user, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payout": payout})
}

// ListPayouts lists the creator's payouts
// GET /api/v1/payouts?status=
func (h *Handlers) ListPayouts(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 20, 100)
	status := models.PayoutStatus(c.Query("status"))
	list, total, err := h.container.Payouts().List(c.Request.Context(), user.ID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "payouts", list, total, limit, offset)
}

// GetPayout returns one of the creator's payouts
// GET /api/v1/payouts/:id
func (h *Handlers) GetPayout(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	payout, err := h.container.Payouts().GetForCreator(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

// ProcessPayouts runs one processing batch immediately
// POST /api/v1/admin/payouts/process
func (h *Handlers) ProcessPayouts(c *gin.Context) {
	summary, err := h.container.Payouts().ProcessPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

type confirmPayoutRequest struct {
	Reference string `json:"reference" binding:"required,max=200"`
}

// ConfirmManualPayout records a bank or crypto transfer made by hand
// POST /api/v1/admin/payouts/:id/confirm
func (h *Handlers) ConfirmManualPayout(c *gin.Context) {
	var req confirmPayoutRequest
	if !bindJSON(c, &req) {
		return
	}
	payout, err := h.container.Payouts().ConfirmManual(c.Request.Context(), c.Param("id"), req.Reference)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

// CancelPayout releases a payout's periods back to the balance
// POST /api/v1/admin/payouts/:id/cancel
func (h *Handlers) CancelPayout(c *gin.Context) {
	payout, err := h.container.Payouts().Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

// VerifyPayoutAccount marks a bank or crypto account as checked
// POST /api/v1/admin/payout-accounts/:id/verify
func (h *Handlers) VerifyPayoutAccount(c *gin.Context) {
	account, err := h.container.Payouts().VerifyAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}
