// Package handlers exposes the vidlayer services over HTTP
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/affiliates"
	"github.com/zfogg/vidlayer/internal/alerts"
	"github.com/zfogg/vidlayer/internal/auth"
	"github.com/zfogg/vidlayer/internal/billing"
	"github.com/zfogg/vidlayer/internal/container"
	"github.com/zfogg/vidlayer/internal/earnings"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/payouts"
	"github.com/zfogg/vidlayer/internal/sharing"
	"github.com/zfogg/vidlayer/internal/util"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	container *container.Container
}

// NewHandlers creates a new handlers instance. All dependencies are
// accessed through the container.
func NewHandlers(c *container.Container) *Handlers {
	return &Handlers{container: c}
}

// sentinelErrors maps service errors that are not APIErrors to responses
var sentinelErrors = []struct {
	err    error
	status int
	code   apierrors.ErrorCode
}{
	{alerts.ErrNotFound, http.StatusNotFound, apierrors.ErrNotFound},
	{auth.ErrUserExists, http.StatusConflict, apierrors.ErrAlreadyExists},
	{auth.ErrUsernameExists, http.StatusConflict, apierrors.ErrAlreadyExists},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, apierrors.ErrUnauthorized},
	{auth.ErrNoPassword, http.StatusUnauthorized, apierrors.ErrUnauthorized},
	{auth.ErrInvalidRole, http.StatusBadRequest, apierrors.ErrValidation},
	{auth.ErrInvalidTOTPCode, http.StatusUnauthorized, apierrors.ErrUnauthorized},
	{auth.ErrTOTPAlreadyEnabled, http.StatusConflict, apierrors.ErrConflict},
	{auth.ErrTOTPNotSetUp, http.StatusBadRequest, apierrors.ErrBadRequest},
	{auth.ErrOAuthDisabled, http.StatusServiceUnavailable, apierrors.ErrServiceUnavail},

	{sharing.ErrShareLinkNotFound, http.StatusNotFound, apierrors.ErrNotFound},
	{sharing.ErrShareLinkRevoked, http.StatusGone, apierrors.ErrGone},
	{sharing.ErrShareLinkExpired, http.StatusGone, apierrors.ErrGone},
	{sharing.ErrShareLinkExhausted, http.StatusGone, apierrors.ErrGone},
	{sharing.ErrPasswordRequired, http.StatusUnauthorized, apierrors.ErrUnauthorized},
	{sharing.ErrWrongPassword, http.StatusUnauthorized, apierrors.ErrUnauthorized},
	{sharing.ErrEmbedNotAllowed, http.StatusForbidden, apierrors.ErrForbidden},
	{sharing.ErrEmbedDisabled, http.StatusNotFound, apierrors.ErrNotFound},

	{payouts.ErrBelowThreshold, http.StatusBadRequest, apierrors.ErrBadRequest},
	{payouts.ErrNoPayoutAccount, http.StatusBadRequest, apierrors.ErrBadRequest},
	{payouts.ErrAccountNotVerified, http.StatusBadRequest, apierrors.ErrBadRequest},
	{payouts.ErrMethodUnavailable, http.StatusBadRequest, apierrors.ErrBadRequest},
	{payouts.ErrAccountInUse, http.StatusConflict, apierrors.ErrConflict},
	{payouts.ErrInvalidTransition, http.StatusConflict, apierrors.ErrConflict},
	{payouts.ErrPayoutNotFound, http.StatusNotFound, apierrors.ErrNotFound},
	{payouts.ErrProviderRejected, http.StatusBadGateway, apierrors.ErrServiceUnavail},

	{earnings.ErrPeriodLocked, http.StatusConflict, apierrors.ErrConflict},
	{earnings.ErrInvalidRange, http.StatusBadRequest, apierrors.ErrValidation},

	{affiliates.ErrInvalidCode, http.StatusNotFound, apierrors.ErrNotFound},
	{affiliates.ErrCommissionNotFound, http.StatusNotFound, apierrors.ErrNotFound},
	{affiliates.ErrSelfReferral, http.StatusBadRequest, apierrors.ErrBadRequest},
	{affiliates.ErrAlreadyReferred, http.StatusConflict, apierrors.ErrConflict},
	{affiliates.ErrInvalidTransition, http.StatusConflict, apierrors.ErrConflict},
	{affiliates.ErrCommissionAttached, http.StatusConflict, apierrors.ErrConflict},

	{billing.ErrSubscriptionNotLinked, http.StatusServiceUnavailable, apierrors.ErrServiceUnavail},
}

// toAPIError maps err to the error clients see. Sentinel errors get their
// table status, APIErrors keep their own and anything else is a 500.
func toAPIError(err error) *apierrors.APIError {
	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			return &apierrors.APIError{
				Code:    s.code,
				Message: s.err.Error(),
				Status:  s.status,
			}
		}
	}
	if apiErr, ok := apierrors.As(err); ok {
		return apiErr
	}
	return apierrors.InternalError("internal server error").Wrap(err)
}

func respondError(c *gin.Context, err error) {
	util.RespondWithAPIError(c, toAPIError(err))
}

// bindJSON decodes the request body and writes a 400 on failure
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		util.RespondBadRequest(c, "invalid_request", err.Error())
		return false
	}
	return true
}

// paged writes a list response with its pagination envelope
func paged(c *gin.Context, key string, items interface{}, total int64, limit, offset int) {
	c.JSON(http.StatusOK, gin.H{
		key:      items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
