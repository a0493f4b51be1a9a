package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/testutil"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type recordingIndex struct {
	search.Index
	docs []search.VideoDoc
}

func (r *recordingIndex) IndexVideo(_ context.Context, doc search.VideoDoc) error {
	r.docs = append(r.docs, doc)
	return nil
}

type SeederTestSuite struct {
	suite.Suite
	db     *gorm.DB
	seeder *Seeder
	index  *recordingIndex
}

func (s *SeederTestSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.seeder = NewSeeder(s.db)
	s.index = &recordingIndex{}
	s.seeder.SetSearchIndex(s.index)
}

func TestSeederSuite(t *testing.T) {
	suite.Run(t, new(SeederTestSuite))
}

func (s *SeederTestSuite) count(model interface{}) int64 {
	var n int64
	s.Require().NoError(s.db.Model(model).Count(&n).Error)
	return n
}

func (s *SeederTestSuite) TestSeedTestCreatesFixtures() {
	s.Require().NoError(s.seeder.SeedTest())

	s.Equal(int64(5), s.count(&models.User{}))
	s.Equal(int64(3), s.count(&models.Video{}))
	s.Equal(int64(1), s.count(&models.InteractiveElement{}))
	s.Equal(int64(1), s.count(&models.SubscriptionPlan{}))
	s.Equal(int64(1), s.count(&models.AdCampaign{}))
	s.Equal(int64(1), s.count(&models.ShareLink{}))

	var diana models.User
	s.Require().NoError(s.db.Where("username = ?", "diana").First(&diana).Error)
	s.True(diana.IsAdmin)
	s.Require().NotNil(diana.PasswordHash)
	s.NoError(bcrypt.CompareHashAndPassword([]byte(*diana.PasswordHash), []byte(DefaultPassword)))

	// Only public videos reach the search index
	s.Require().Len(s.index.docs, 1)
	s.Equal("Intro to Go Concurrency", s.index.docs[0].Title)
	s.Equal("alice", s.index.docs[0].CreatorUsername)
}

func (s *SeederTestSuite) TestSeedTestIsIdempotent() {
	s.Require().NoError(s.seeder.SeedTest())
	s.Require().NoError(s.seeder.SeedTest())

	s.Equal(int64(5), s.count(&models.User{}))
	s.Equal(int64(3), s.count(&models.Video{}))
	s.Equal(int64(1), s.count(&models.ShareLink{}))
}

func (s *SeederTestSuite) TestSeedUsersTopsUp() {
	first, err := s.seeder.seedUsers(models.RoleCreator, 3)
	s.Require().NoError(err)
	s.Len(first, 3)

	again, err := s.seeder.seedUsers(models.RoleCreator, 5)
	s.Require().NoError(err)
	s.Len(again, 5)
	s.Equal(int64(5), s.count(&models.User{}))

	for _, u := range again {
		s.Equal(models.RoleCreator, u.Role)
		s.NotEmpty(u.ReferralCode)
	}
}

func (s *SeederTestSuite) TestViewsUpdateVideoCounters() {
	creators, err := s.seeder.seedUsers(models.RoleCreator, 2)
	s.Require().NoError(err)
	viewers, err := s.seeder.seedUsers(models.RoleViewer, 4)
	s.Require().NoError(err)
	videos, err := s.seeder.seedVideos(creators, 5)
	s.Require().NoError(err)

	s.Require().NoError(s.seeder.seedViews(viewers, videos, 50))
	s.Equal(int64(50), s.count(&models.VideoView{}))

	var total int64
	s.Require().NoError(s.db.Model(&models.Video{}).Select("COALESCE(SUM(view_count), 0)").Scan(&total).Error)
	s.Equal(int64(50), total)
}

func (s *SeederTestSuite) TestSeedElementsStayInsideVideo() {
	creators, err := s.seeder.seedUsers(models.RoleCreator, 1)
	s.Require().NoError(err)
	videos, err := s.seeder.seedVideos(creators, 10)
	s.Require().NoError(err)
	s.Require().NoError(s.seeder.seedElements(videos))

	var elements []models.InteractiveElement
	s.Require().NoError(s.db.Find(&elements).Error)
	for _, e := range elements {
		s.Less(e.StartTime, e.EndTime)
		s.GreaterOrEqual(e.StartTime, 0.0)
	}
}

func (s *SeederTestSuite) TestSyncToSearchLoadsCreatorNames() {
	ana := testutil.CreateUser(s.T(), s.db, "ana", models.RoleCreator)
	ben := testutil.CreateUser(s.T(), s.db, "ben", models.RoleCreator)
	testutil.CreateVideo(s.T(), s.db, ana)
	testutil.CreateVideo(s.T(), s.db, ben)
	testutil.CreateVideo(s.T(), s.db, ben, func(v *models.Video) { v.Visibility = models.VisibilityPrivate })

	var videos []models.Video
	s.Require().NoError(s.db.Order("created_at").Find(&videos).Error)
	s.Require().NoError(s.seeder.syncToSearch(videos))

	s.Require().Len(s.index.docs, 2)
	names := []string{s.index.docs[0].CreatorUsername, s.index.docs[1].CreatorUsername}
	s.ElementsMatch([]string{"ana", "ben"}, names)
}

func (s *SeederTestSuite) TestCleanEmptiesEveryTable() {
	s.Require().NoError(s.seeder.SeedTest())
	s.Require().NoError(s.seeder.Clean())

	s.Zero(s.count(&models.User{}))
	s.Zero(s.count(&models.Video{}))
	s.Zero(s.count(&models.AdCampaign{}))
	s.Zero(s.count(&models.ShareLink{}))
}

func (s *SeederTestSuite) TestCounts() {
	s.Require().NoError(s.seeder.SeedTest())
	counts, err := s.seeder.Counts()
	s.Require().NoError(err)

	byTable := map[string]int64{}
	for _, c := range counts {
		byTable[c.Table] = c.Rows
	}
	s.Equal(int64(5), byTable["users"])
	s.Equal(int64(3), byTable["videos"])
	s.Equal(int64(0), byTable["payouts"])
}
