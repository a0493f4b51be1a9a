package util

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"gorm.io/gorm"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestGetUserFromContext(t *testing.T) {
	c, w := newTestContext()
	_, ok := GetUserFromContext(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, _ = newTestContext()
	c.Set("user", &models.User{ID: "u1"})
	user, ok := GetUserFromContext(c)
	assert.True(t, ok)
	assert.Equal(t, "u1", user.ID)
}

func TestHandleDBError(t *testing.T) {
	c, w := newTestContext()
	assert.False(t, HandleDBError(c, nil, "video"))

	c, w = newTestContext()
	assert.True(t, HandleDBError(c, gorm.ErrRecordNotFound, "video"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newTestContext()
	assert.True(t, HandleDBError(c, gorm.ErrDuplicatedKey, "share link"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRespondWithError(t *testing.T) {
	c, w := newTestContext()
	RespondWithError(c, errors.Gone("share link expired"))
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"GONE"`)

	c, w = newTestContext()
	RespondWithError(c, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"go", "video"}, NormalizeTags([]string{" Go", "#video", "go", ""}))
}

func TestVideoFileHelpers(t *testing.T) {
	assert.True(t, IsValidVideoFile("clip.MP4"))
	assert.False(t, IsValidVideoFile("song.mp3"))
	assert.True(t, IsValidVideoContentType("video/webm; codecs=vp9"))
	assert.Equal(t, "video/quicktime", VideoContentType("a.mov"))
	assert.Error(t, ValidateFilename("../x.mp4"))
}
