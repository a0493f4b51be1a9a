package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/search"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password every seeded account signs in with
const DefaultPassword = "password123"

var categories = []string{"education", "gaming", "music", "cooking", "fitness", "travel", "technology", "comedy"}

// Seeder handles database seeding operations
type Seeder struct {
	db    *gorm.DB
	index search.Index
	hash  string
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	// Seed returns an error only for invalid sources
	_ = gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{db: db}
}

// SetSearchIndex makes seeded videos searchable through the given index
func (s *Seeder) SetSearchIndex(index search.Index) {
	s.index = index
}

// SeedDev seeds the development database with realistic data
func (s *Seeder) SeedDev() error {
	log := func(msg string) {
		logger.Log.Info(msg)
	}

	log("Creating users...")
	creators, err := s.seedUsers(models.RoleCreator, 12)
	if err != nil {
		return fmt.Errorf("failed to seed creators: %w", err)
	}
	viewers, err := s.seedUsers(models.RoleViewer, 60)
	if err != nil {
		return fmt.Errorf("failed to seed viewers: %w", err)
	}
	advertisers, err := s.seedUsers(models.RoleAdvertiser, 4)
	if err != nil {
		return fmt.Errorf("failed to seed advertisers: %w", err)
	}

	log("Creating videos...")
	videos, err := s.seedVideos(creators, 80)
	if err != nil {
		return fmt.Errorf("failed to seed videos: %w", err)
	}

	log("Creating interactive elements...")
	if err := s.seedElements(videos); err != nil {
		return fmt.Errorf("failed to seed elements: %w", err)
	}

	log("Creating subscription plans...")
	if err := s.seedPlans(creators); err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}

	log("Creating ad campaigns...")
	if err := s.seedCampaigns(advertisers, 3); err != nil {
		return fmt.Errorf("failed to seed campaigns: %w", err)
	}

	log("Creating share links...")
	if err := s.seedShareLinks(videos, 20); err != nil {
		return fmt.Errorf("failed to seed share links: %w", err)
	}

	log("Creating view history...")
	if err := s.seedViews(viewers, videos, 2000); err != nil {
		return fmt.Errorf("failed to seed views: %w", err)
	}

	if s.index != nil {
		log("Indexing videos for search...")
		if err := s.syncToSearch(videos); err != nil {
			return fmt.Errorf("failed to index videos: %w", err)
		}
	} else {
		log("Search index not configured - skipping indexing")
	}

	return nil
}

// SeedTest seeds a small fixed data set that end-to-end tests can rely on
func (s *Seeder) SeedTest() error {
	log := func(msg string) {
		logger.Log.Info(msg)
	}

	log("Creating test users...")
	testUserSpecs := []struct {
		username    string
		displayName string
		role        models.UserRole
		admin       bool
	}{
		{"alice", "Alice Smith", models.RoleCreator, false},
		{"bob", "Bob Johnson", models.RoleViewer, false},
		{"charlie", "Charlie Brown", models.RoleAdvertiser, false},
		{"diana", "Diana Prince", models.RoleViewer, true},
		{"eve", "Eve Wilson", models.RoleCreator, false},
	}

	users := make(map[string]models.User, len(testUserSpecs))
	for _, spec := range testUserSpecs {
		email := spec.username + "@example.com"
		var user models.User
		err := s.db.Where("username = ? OR email = ?", spec.username, email).First(&user).Error
		if err == nil {
			users[spec.username] = user
			continue
		}

		hash, err := s.passwordHash()
		if err != nil {
			return err
		}
		user = models.User{
			Email:        email,
			Username:     spec.username,
			DisplayName:  spec.displayName,
			AvatarURL:    avatarURL(spec.username),
			Role:         spec.role,
			IsAdmin:      spec.admin,
			PasswordHash: &hash,
			ReferralCode: strings.ToUpper(spec.username) + "01",
		}
		if err := s.db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create test user %s: %w", spec.username, err)
		}
		users[spec.username] = user
	}

	var existing int64
	s.db.Model(&models.Video{}).Where("creator_id = ?", users["alice"].ID).Count(&existing)
	if existing > 0 {
		log("Test content already present, skipping")
		return nil
	}

	log("Creating test videos...")
	now := time.Now()
	videos := []models.Video{
		newVideo(users["alice"], "Intro to Go Concurrency", "education", models.VisibilityPublic, now),
		newVideo(users["alice"], "Members Only Deep Dive", "education", models.VisibilitySubscribers, now),
		newVideo(users["eve"], "Weeknight Ramen", "cooking", models.VisibilityUnlisted, now),
	}
	for i := range videos {
		if err := s.db.Create(&videos[i]).Error; err != nil {
			return fmt.Errorf("failed to create test video: %w", err)
		}
	}

	log("Creating test elements, plan, campaign and share link...")
	if err := s.db.Create(quizElement(videos[0].ID, 10)).Error; err != nil {
		return fmt.Errorf("failed to create test element: %w", err)
	}
	plan := models.SubscriptionPlan{
		CreatorID:  users["alice"].ID,
		Name:       "Supporter",
		PriceCents: 500,
		Currency:   "usd",
		Interval:   models.IntervalMonth,
		Active:     true,
	}
	if err := s.db.Create(&plan).Error; err != nil {
		return fmt.Errorf("failed to create test plan: %w", err)
	}
	campaign := models.AdCampaign{
		AdvertiserID:     users["charlie"].ID,
		Name:             "Test Preroll",
		Format:           models.AdFormatPreroll,
		Status:           models.CampaignActive,
		CreativeURL:      "https://cdn.example.com/ads/test-preroll.mp4",
		ClickURL:         "https://example.com/landing",
		DurationSeconds:  15,
		BidCPMCents:      500,
		BudgetCents:      10000,
		TargetCategories: models.StringArray{"education"},
	}
	if err := s.db.Create(&campaign).Error; err != nil {
		return fmt.Errorf("failed to create test campaign: %w", err)
	}
	link := models.ShareLink{
		VideoID:   videos[2].ID,
		CreatorID: users["eve"].ID,
		Token:     "test-share-token",
	}
	if err := s.db.Create(&link).Error; err != nil {
		return fmt.Errorf("failed to create test share link: %w", err)
	}

	if s.index != nil {
		return s.syncToSearch(videos)
	}
	return nil
}

// Clean deletes every row from every table, children first
func (s *Seeder) Clean() error {
	tables := database.AllModels()
	for i := len(tables) - 1; i >= 0; i-- {
		model := tables[i]
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error; err != nil {
			return fmt.Errorf("failed to clean %T: %w", model, err)
		}
	}
	return nil
}

// TableCount is the row count of one table
type TableCount struct {
	Table string
	Rows  int64
}

// Counts returns the row count of every table in migration order
func (s *Seeder) Counts() ([]TableCount, error) {
	var out []TableCount
	for _, model := range database.AllModels() {
		stmt := &gorm.Statement{DB: s.db}
		if err := stmt.Parse(model); err != nil {
			return nil, err
		}
		var n int64
		if err := s.db.Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", stmt.Schema.Table, err)
		}
		out = append(out, TableCount{Table: stmt.Schema.Table, Rows: n})
	}
	return out, nil
}

func (s *Seeder) passwordHash() (string, error) {
	if s.hash != "" {
		return s.hash, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	s.hash = string(hashed)
	return s.hash, nil
}

func avatarURL(seed string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/png?seed=%s", seed)
}

func (s *Seeder) seedUsers(role models.UserRole, count int) ([]models.User, error) {
	// Seed accounts use @example.com, so a rerun tops up instead of duplicating
	var users []models.User
	if err := s.db.Where("role = ? AND email LIKE ?", role, "%@example.com").Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) >= count {
		logger.Log.Info("Found existing users, skipping creation",
			zap.String("role", string(role)),
			zap.Int("count", len(users)))
		return users, nil
	}

	hash, err := s.passwordHash()
	if err != nil {
		return nil, err
	}

	created := 0
	for len(users) < count {
		username := strings.ToLower(gofakeit.Username())
		email := username + "@example.com"

		var taken int64
		s.db.Model(&models.User{}).Where("username = ? OR email = ?", username, email).Count(&taken)
		if taken > 0 {
			continue
		}

		lastActive := gofakeit.DateRange(time.Now().AddDate(0, 0, -30), time.Now())
		user := models.User{
			Email:        email,
			Username:     username,
			DisplayName:  gofakeit.Name(),
			Bio:          gofakeit.HipsterSentence(),
			AvatarURL:    avatarURL(username),
			Role:         role,
			PasswordHash: &hash,
			LastActiveAt: &lastActive,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, user)
		created++
	}

	logger.Log.Info("Created seed users",
		zap.String("role", string(role)),
		zap.Int("new_users", created),
		zap.Int("total_users", len(users)))
	return users, nil
}

func newVideo(creator models.User, title, category string, visibility models.Visibility, published time.Time) models.Video {
	return models.Video{
		CreatorID:       creator.ID,
		Title:           title,
		Description:     gofakeit.HipsterSentence() + " " + gofakeit.HipsterSentence(),
		Category:        category,
		Tags:            models.StringArray{category, strings.ToLower(gofakeit.Noun())},
		Visibility:      visibility,
		Status:          models.VideoStatusReady,
		SourceType:      models.SourceUpload,
		StorageKey:      fmt.Sprintf("videos/%s/%s.mp4", creator.ID, uuid.NewString()),
		ContentType:     "video/mp4",
		SizeBytes:       int64(gofakeit.Number(5, 900)) << 20,
		DurationSeconds: float64(gofakeit.Number(30, 1800)),
		ThumbnailURL:    fmt.Sprintf("https://picsum.photos/seed/%s/640/360", strings.ReplaceAll(title, " ", "-")),
		AllowAds:        true,
		AllowEmbed:      true,
		PublishedAt:     &published,
	}
}

func videoTitle() string {
	words := make([]string, rand.Intn(4)+2)
	for i := range words {
		words[i] = gofakeit.Word()
	}
	title := strings.Join(words, " ")
	return strings.ToUpper(title[:1]) + title[1:]
}

func (s *Seeder) seedVideos(creators []models.User, count int) ([]models.Video, error) {
	if len(creators) == 0 {
		return nil, fmt.Errorf("no creators to own videos")
	}

	visibilities := []models.Visibility{
		models.VisibilityPublic, models.VisibilityPublic, models.VisibilityPublic,
		models.VisibilityUnlisted, models.VisibilitySubscribers, models.VisibilityPrivate,
	}

	videos := make([]models.Video, 0, count)
	for i := 0; i < count; i++ {
		creator := creators[rand.Intn(len(creators))]
		published := gofakeit.DateRange(time.Now().AddDate(0, -3, 0), time.Now())
		video := newVideo(creator,
			videoTitle(),
			categories[rand.Intn(len(categories))],
			visibilities[rand.Intn(len(visibilities))],
			published)
		video.AllowAds = rand.Float32() < 0.8
		video.AllowEmbed = rand.Float32() < 0.7
		video.CreatedAt = published

		if err := s.db.Create(&video).Error; err != nil {
			return nil, fmt.Errorf("failed to create video: %w", err)
		}
		video.Creator = &creator
		videos = append(videos, video)
	}
	return videos, nil
}

func quizElement(videoID string, start float64) *models.InteractiveElement {
	return &models.InteractiveElement{
		VideoID:   videoID,
		Type:      models.ElementQuiz,
		Prompt:    "Which keyword starts a goroutine?",
		StartTime: start,
		EndTime:   start + 15,
		Points:    10,
		Options: []models.ElementOption{
			{ID: "a", Label: "go", IsCorrect: true},
			{ID: "b", Label: "async"},
			{ID: "c", Label: "spawn"},
		},
		PauseVideo: true,
	}
}

func (s *Seeder) seedElements(videos []models.Video) error {
	for _, video := range videos {
		n := rand.Intn(4)
		for i := 0; i < n; i++ {
			start := float64(rand.Intn(int(video.DurationSeconds*0.8) + 1))
			var element *models.InteractiveElement
			switch rand.Intn(3) {
			case 0:
				element = quizElement(video.ID, start)
				element.Prompt = gofakeit.Question()
			case 1:
				element = &models.InteractiveElement{
					VideoID:   video.ID,
					Type:      models.ElementPoll,
					Prompt:    gofakeit.Question(),
					StartTime: start,
					EndTime:   start + 20,
					Options: []models.ElementOption{
						{ID: "a", Label: gofakeit.Word()},
						{ID: "b", Label: gofakeit.Word()},
						{ID: "c", Label: gofakeit.Word()},
					},
				}
			default:
				element = &models.InteractiveElement{
					VideoID:   video.ID,
					Type:      models.ElementHotspot,
					Prompt:    "Learn more",
					StartTime: start,
					EndTime:   start + 10,
					URL:       gofakeit.URL(),
					Region:    &models.HotspotRegion{X: 0.7, Y: 0.1, Width: 0.2, Height: 0.15},
				}
			}
			if err := s.db.Create(element).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Seeder) seedPlans(creators []models.User) error {
	for _, creator := range creators {
		var existing int64
		s.db.Model(&models.SubscriptionPlan{}).Where("creator_id = ?", creator.ID).Count(&existing)
		if existing > 0 {
			continue
		}
		plans := []models.SubscriptionPlan{
			{CreatorID: creator.ID, Name: "Supporter", PriceCents: 300, Interval: models.IntervalMonth},
			{CreatorID: creator.ID, Name: "Superfan", PriceCents: 1000, Interval: models.IntervalMonth},
			{CreatorID: creator.ID, Name: "Annual", PriceCents: 9900, Interval: models.IntervalYear},
		}
		for i := range plans {
			plans[i].Currency = "usd"
			plans[i].Active = true
			plans[i].Description = gofakeit.HipsterSentence()
			if err := s.db.Create(&plans[i]).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Seeder) seedCampaigns(advertisers []models.User, perAdvertiser int) error {
	formats := []models.AdFormat{models.AdFormatPreroll, models.AdFormatMidroll, models.AdFormatOverlay}
	statuses := []models.CampaignStatus{models.CampaignActive, models.CampaignActive, models.CampaignPaused, models.CampaignDraft}

	for _, advertiser := range advertisers {
		for i := 0; i < perAdvertiser; i++ {
			format := formats[rand.Intn(len(formats))]
			campaign := models.AdCampaign{
				AdvertiserID:     advertiser.ID,
				Name:             gofakeit.Company() + " " + gofakeit.BuzzWord(),
				Format:           format,
				Status:           statuses[rand.Intn(len(statuses))],
				CreativeURL:      fmt.Sprintf("https://cdn.example.com/ads/%s.mp4", uuid.NewString()),
				ClickURL:         gofakeit.URL(),
				BidCPMCents:      int64(gofakeit.Number(100, 2500)),
				BudgetCents:      int64(gofakeit.Number(50, 500)) * 100,
				TargetCategories: models.StringArray{categories[rand.Intn(len(categories))]},
				FrequencyCap:     rand.Intn(4),
			}
			if format != models.AdFormatOverlay {
				campaign.DurationSeconds = float64(gofakeit.Number(6, 30))
			}
			if err := s.db.Create(&campaign).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Seeder) seedShareLinks(videos []models.Video, count int) error {
	for i := 0; i < count && len(videos) > 0; i++ {
		video := videos[rand.Intn(len(videos))]
		link := models.ShareLink{
			VideoID:   video.ID,
			CreatorID: video.CreatorID,
			Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		}
		if rand.Float32() < 0.3 {
			expires := time.Now().AddDate(0, 0, gofakeit.Number(1, 30))
			link.ExpiresAt = &expires
		}
		if rand.Float32() < 0.2 {
			limit := gofakeit.Number(5, 100)
			link.MaxViews = &limit
		}
		if err := s.db.Create(&link).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedViews(viewers []models.User, videos []models.Video, count int) error {
	if len(viewers) == 0 || len(videos) == 0 {
		return nil
	}

	views := make([]models.VideoView, 0, count)
	perVideo := make(map[string][2]int64)
	sources := []string{"page", "page", "page", "embed", "share"}
	for i := 0; i < count; i++ {
		video := videos[rand.Intn(len(videos))]
		viewerID := viewers[rand.Intn(len(viewers))].ID
		watched := rand.Float64() * video.DurationSeconds
		view := models.VideoView{
			VideoID:      video.ID,
			CreatorID:    video.CreatorID,
			ViewerID:     &viewerID,
			Source:       sources[rand.Intn(len(sources))],
			Country:      gofakeit.CountryAbr(),
			WatchSeconds: watched,
			Completed:    watched > video.DurationSeconds*0.9,
			Counted:      true,
			CreatedAt:    gofakeit.DateRange(video.CreatedAt, time.Now()),
		}
		views = append(views, view)
		agg := perVideo[video.ID]
		agg[0]++
		agg[1] += int64(watched)
		perVideo[video.ID] = agg
	}

	if err := s.db.CreateInBatches(views, 500).Error; err != nil {
		return err
	}

	for videoID, agg := range perVideo {
		if err := s.db.Model(&models.Video{}).Where("id = ?", videoID).Updates(map[string]interface{}{
			"view_count":    gorm.Expr("view_count + ?", agg[0]),
			"watch_seconds": gorm.Expr("watch_seconds + ?", agg[1]),
		}).Error; err != nil {
			return err
		}
	}

	logger.Log.Info("Created view history",
		zap.Int("views", len(views)),
		zap.Int("videos", len(perVideo)))
	return nil
}

// creatorUsernames maps creator IDs to usernames for the given videos
func (s *Seeder) creatorUsernames(ctx context.Context, videos []models.Video) (map[string]string, error) {
	usernames := make(map[string]string)
	var missing []string
	for _, video := range videos {
		if video.Creator != nil {
			usernames[video.CreatorID] = video.Creator.Username
		} else if _, ok := usernames[video.CreatorID]; !ok {
			usernames[video.CreatorID] = ""
			missing = append(missing, video.CreatorID)
		}
	}
	if len(missing) == 0 {
		return usernames, nil
	}

	var creators []models.User
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", missing).Find(&creators).Error; err != nil {
		return nil, fmt.Errorf("failed to load creators: %w", err)
	}
	for _, c := range creators {
		usernames[c.ID] = c.Username
	}
	return usernames, nil
}

func (s *Seeder) syncToSearch(videos []models.Video) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	usernames, err := s.creatorUsernames(ctx, videos)
	if err != nil {
		return err
	}

	indexed := 0
	for _, video := range videos {
		if video.Visibility != models.VisibilityPublic {
			continue
		}
		username := usernames[video.CreatorID]
		if err := s.index.IndexVideo(ctx, search.VideoToSearchDoc(video, username)); err != nil {
			logger.Log.Warn("Failed to index video",
				zap.String("video_id", video.ID),
				zap.Error(err))
			continue
		}
		indexed++
	}
	logger.Log.Info("Indexed seeded videos", zap.Int("count", indexed))
	return nil
}
