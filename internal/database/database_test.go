package database_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
	"gorm.io/gorm/schema"
)

func TestEveryModelParses(t *testing.T) {
	cache := &sync.Map{}
	for _, m := range database.AllModels() {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		require.NoError(t, err, "%T", m)
		assert.NotEmpty(t, s.Table)
	}
}

func TestStringArrayColumns(t *testing.T) {
	s, err := schema.Parse(&models.AdCampaign{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	for _, name := range []string{"TargetCategories", "TargetTags", "TargetCountries"} {
		field := s.LookUpField(name)
		require.NotNil(t, field, name)
		assert.Equal(t, schema.DataType("text"), field.DataType, name)
	}
}

func TestStringArrayRoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t)
	creator := testutil.CreateUser(t, db, "maker", models.RoleCreator)
	video := testutil.CreateVideo(t, db, creator, func(v *models.Video) {
		v.Tags = models.StringArray{"go", "with space", `quote"d`}
		v.EmbedDomains = models.StringArray{"example.com"}
	})

	var loaded models.Video
	require.NoError(t, db.First(&loaded, "id = ?", video.ID).Error)
	assert.Equal(t, models.StringArray{"go", "with space", `quote"d`}, loaded.Tags)
	assert.True(t, loaded.EmbedDomains.Contains("example.com"))
}
