package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
)

func newMiddlewareRouter(s *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", s.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	r.GET("/optional", s.OptionalAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, "user="+c.GetString("user_id"))
	})
	r.POST("/sensitive", s.RequireAuth(), s.RequireTOTP(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doRequest(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewService(db, testConfig())
	r := newMiddlewareRouter(s)

	resp, err := s.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "mw@test.com", Username: "mwtest", Password: "password123", DisplayName: "M",
	})
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/private", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodGet, "/private", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodGet, "/private", map[string]string{"Authorization": "Bearer " + resp.Token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.User.ID, w.Body.String())

	// Query token for websocket clients
	w = doRequest(r, http.MethodGet, "/private?token="+resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewService(db, testConfig())
	r := newMiddlewareRouter(s)

	w := doRequest(r, http.MethodGet, "/optional", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user=", w.Body.String())
}

func TestRequireTOTP(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewService(db, testConfig())
	r := newMiddlewareRouter(s)
	ctx := context.Background()

	resp, err := s.RegisterNativeUser(ctx, RegisterRequest{
		Email: "totpmw@test.com", Username: "totpmw", Password: "password123", DisplayName: "T",
		Role: models.RoleCreator,
	})
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + resp.Token}

	// Two-factor off: no code needed
	w := doRequest(r, http.MethodPost, "/sensitive", auth)
	assert.Equal(t, http.StatusNoContent, w.Code)

	setup, err := s.SetupTOTP(ctx, &resp.User)
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.EnableTOTP(ctx, &resp.User, code))

	w = doRequest(r, http.MethodPost, "/sensitive", auth)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	auth[TOTPHeader] = code
	w = doRequest(r, http.MethodPost, "/sensitive", auth)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
