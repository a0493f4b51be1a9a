package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/earnings"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/util"
)

// ListEarnings lists the creator's earnings periods
// GET /api/v1/earnings?status=
func (h *Handlers) ListEarnings(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.Pagination(c, 12, 60)
	status := models.EarningsStatus(c.Query("status"))
	periods, total, err := h.container.Earnings().ListPeriods(c.Request.Context(), user.ID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	paged(c, "periods", periods, total, limit, offset)
}

// GetEarningsPeriod returns one of the creator's periods
// GET /api/v1/earnings/:id
func (h *Handlers) GetEarningsPeriod(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	period, err := h.container.Earnings().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if period.CreatorID != user.ID && !user.IsAdmin {
		util.RespondNotFound(c, "earnings period")
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period})
}

// EarningsEstimate returns the running estimate for the current month
// GET /api/v1/earnings/estimate
func (h *Handlers) EarningsEstimate(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	estimate, err := h.container.Earnings().CurrentEstimate(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// EarningsBalance returns what the creator can withdraw
// GET /api/v1/earnings/balance
func (h *Handlers) EarningsBalance(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	balance, err := h.container.Earnings().GetBalance(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

type calculateRequest struct {
	CreatorID string `json:"creator_id"`
	// Month is YYYY-MM, defaulting to the current month
	Month string `json:"month" binding:"omitempty,datetime=2006-01"`
}

// CalculateEarnings recomputes one creator or every active creator for a month
// POST /api/v1/admin/earnings/calculate
func (h *Handlers) CalculateEarnings(c *gin.Context) {
	var req calculateRequest
	if !bindJSON(c, &req) {
		return
	}
	month := time.Now().UTC()
	if req.Month != "" {
		parsed, err := time.Parse("2006-01", req.Month)
		if err != nil {
			util.RespondValidationError(c, "month", "month must be YYYY-MM")
			return
		}
		month = parsed
	}
	start, end := earnings.MonthBounds(month)

	ctx := c.Request.Context()
	if req.CreatorID != "" {
		period, err := h.container.Earnings().CalculatePeriod(ctx, req.CreatorID, start, end)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"period": period})
		return
	}

	summary, err := h.container.Earnings().CalculateAll(ctx, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// FinalizeEarningsPeriod locks a period that has ended
// POST /api/v1/admin/earnings/:id/finalize
func (h *Handlers) FinalizeEarningsPeriod(c *gin.Context) {
	period, err := h.container.Earnings().Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period})
}

// FinalizeAllEarnings locks every calculated period ending by ?before=,
// defaulting to the start of the current month
// POST /api/v1/admin/earnings/finalize
func (h *Handlers) FinalizeAllEarnings(c *gin.Context) {
	before, ok := queryTime(c, "before")
	if !ok {
		return
	}
	if before.IsZero() {
		before, _ = earnings.MonthBounds(time.Now().UTC())
	}
	summary, err := h.container.Earnings().FinalizeAll(c.Request.Context(), before)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
