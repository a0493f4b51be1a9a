package handlers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zfogg/vidlayer/internal/affiliates"
	"github.com/zfogg/vidlayer/internal/auth"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
)

const oauthStateCookie = "vl_oauth_state"

// Register creates a native account. A referral code in the body wins over
// the one left in the cookie by /r/:code.
// POST /api/v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ReferralCode == "" {
		if code, err := c.Cookie(affiliates.CookieName); err == nil {
			req.ReferralCode = code
		}
	}

	resp, err := h.container.Auth().RegisterNativeUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.ReferralCode != "" {
		c.SetCookie(affiliates.CookieName, "", -1, "/", "", false, true)
	}
	c.JSON(http.StatusCreated, resp)
}

// Login authenticates with email and password
// POST /api/v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.container.Auth().LoginNativeUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Me returns the authenticated user
// GET /api/v1/auth/me
func (h *Handlers) Me(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// GoogleLogin redirects to the Google consent screen
// GET /api/v1/auth/google
func (h *Handlers) GoogleLogin(c *gin.Context) {
	state := uuid.NewString()
	authURL, err := h.container.Auth().GetGoogleOAuthURL(state)
	if err != nil {
		respondError(c, err)
		return
	}
	c.SetCookie(oauthStateCookie, state, 600, "/", "", h.container.Config().IsProduction(), true)
	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// GoogleCallback finishes the OAuth flow and hands the token to the web app
// GET /api/v1/auth/google/callback
func (h *Handlers) GoogleCallback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		util.RespondBadRequest(c, "invalid_state", "OAuth state mismatch")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		util.RespondBadRequest(c, "missing_code", "authorization code is required")
		return
	}

	resp, err := h.container.Auth().HandleGoogleCallback(c.Request.Context(), code)
	if err != nil {
		logger.Log.Warn("Google sign-in failed", zap.Error(err))
		respondError(c, err)
		return
	}

	target := h.container.Config().Server.WebURL + "/auth/callback#" + url.Values{"token": {resp.Token}}.Encode()
	c.Redirect(http.StatusTemporaryRedirect, target)
}

type totpCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// SetupTwoFactor generates a new TOTP secret
// POST /api/v1/auth/2fa/setup
func (h *Handlers) SetupTwoFactor(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	setup, err := h.container.Auth().SetupTOTP(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

// EnableTwoFactor confirms the secret with a first code
// POST /api/v1/auth/2fa/enable
func (h *Handlers) EnableTwoFactor(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var req totpCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.container.Auth().EnableTOTP(c.Request.Context(), user, req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totp_enabled": true})
}

// DisableTwoFactor turns TOTP off
// POST /api/v1/auth/2fa/disable
func (h *Handlers) DisableTwoFactor(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var req totpCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.container.Auth().DisableTOTP(c.Request.Context(), user, req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totp_enabled": false})
}
