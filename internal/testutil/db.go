// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/database"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a migrated in-memory SQLite database. The pool is capped
// at one connection because every :memory: connection is its own database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(database.AllModels()...))

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// CreateUser inserts a user with the given role
func CreateUser(t *testing.T, db *gorm.DB, username string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{
		Email:       username + "@example.com",
		Username:    username,
		DisplayName: username,
		Role:        role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateVideo inserts a ready public video for creator
func CreateVideo(t *testing.T, db *gorm.DB, creator *models.User, mutate ...func(*models.Video)) *models.Video {
	t.Helper()
	video := &models.Video{
		CreatorID:       creator.ID,
		Title:           "Test video",
		Category:        "education",
		Tags:            models.StringArray{"go", "testing"},
		Visibility:      models.VisibilityPublic,
		Status:          models.VideoStatusReady,
		SourceType:      models.SourceUpload,
		StorageKey:      "videos/" + creator.ID + "/test.mp4",
		ContentType:     "video/mp4",
		DurationSeconds: 120,
		AllowAds:        true,
		AllowEmbed:      true,
	}
	for _, m := range mutate {
		m(video)
	}
	require.NoError(t, db.Create(video).Error)
	return video
}

// RequireAPIError asserts err is an APIError carrying code
func RequireAPIError(t *testing.T, err error, code apierrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok, "expected APIError, got %v", err)
	require.Equal(t, code, apiErr.Code, apiErr.Message)
}
