package videos

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/zfogg/vidlayer/internal/cache"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/storage"
	"github.com/zfogg/vidlayer/internal/testutil"
	"gorm.io/gorm"
)

// recordingIndex wraps the SQL index and remembers what was pushed to it
type recordingIndex struct {
	*search.SQLIndex
	mu      sync.Mutex
	indexed map[string]bool
	deleted map[string]bool
}

func newRecordingIndex(db *gorm.DB) *recordingIndex {
	return &recordingIndex{
		SQLIndex: search.NewSQLIndex(db),
		indexed:  map[string]bool{},
		deleted:  map[string]bool{},
	}
}

func (r *recordingIndex) IndexVideo(ctx context.Context, doc search.VideoDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed[doc.ID] = true
	return nil
}

func (r *recordingIndex) DeleteVideo(ctx context.Context, videoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[videoID] = true
	return nil
}

type fakeSubs struct {
	active map[string]bool
	err    error
}

func (f *fakeSubs) HasActiveSubscription(ctx context.Context, subscriberID, creatorID string) (bool, error) {
	return f.active[subscriberID+":"+creatorID], f.err
}

type fakeQueue struct {
	jobs []string
	err  error
}

func (f *fakeQueue) Enqueue(jobID string) error {
	f.jobs = append(f.jobs, jobID)
	return f.err
}

type VideosTestSuite struct {
	suite.Suite
	db      *gorm.DB
	store   *storage.MemoryStore
	index   *recordingIndex
	kv      *cache.MemoryStore
	subs    *fakeSubs
	queue   *fakeQueue
	svc     *Service
	creator *models.User
	viewer  *models.User
}

func (s *VideosTestSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.store = storage.NewMemoryStore()
	s.index = newRecordingIndex(s.db)
	s.kv = cache.NewMemoryStore()
	s.subs = &fakeSubs{active: map[string]bool{}}
	s.queue = &fakeQueue{}

	s.svc = NewService(s.db, s.store, s.index, s.kv, Options{})
	s.svc.SetSubscriptionChecker(s.subs)
	s.svc.SetImportEnqueuer(s.queue)

	s.creator = testutil.CreateUser(s.T(), s.db, "maker", models.RoleCreator)
	s.viewer = testutil.CreateUser(s.T(), s.db, "watcher", models.RoleViewer)
}

func TestVideosSuite(t *testing.T) {
	suite.Run(t, new(VideosTestSuite))
}

func (s *VideosTestSuite) TestCreateAndCompleteUpload() {
	ctx := context.Background()
	ticket, err := s.svc.CreateUpload(ctx, s.creator, CreateUploadRequest{
		Metadata: Metadata{
			Title:        "  Learning Go  ",
			Category:     "Education",
			Tags:         []string{"Go", "#go", "backend"},
			EmbedDomains: []string{"https://Blog.Example.com/posts", "docs.example.com"},
		},
		Filename: "Lesson.MP4",
	})
	s.Require().NoError(err)

	video := ticket.Video
	s.Equal(models.VideoStatusUploading, video.Status)
	s.Equal("Learning Go", video.Title)
	s.Equal("education", video.Category)
	s.Equal(models.StringArray{"go", "backend"}, video.Tags)
	s.Equal(models.StringArray{"blog.example.com", "docs.example.com"}, video.EmbedDomains)
	s.Equal("video/mp4", video.ContentType)
	s.Equal("videos/"+s.creator.ID+"/"+video.ID+".mp4", video.StorageKey)
	s.True(video.AllowAds)
	s.Contains(ticket.UploadURL, "method=PUT")

	// Completing before the file lands is rejected
	_, err = s.svc.CompleteUpload(ctx, s.creator, video.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrBadRequest)

	s.Require().NoError(s.store.Put(ctx, video.StorageKey, strings.NewReader("bytes"), 5, "video/mp4"))

	done, err := s.svc.CompleteUpload(ctx, s.creator, video.ID)
	s.Require().NoError(err)
	s.Equal(models.VideoStatusReady, done.Status)
	s.Equal(int64(5), done.SizeBytes)
	s.NotNil(done.PublishedAt)
	s.True(s.index.indexed[video.ID])

	again, err := s.svc.CompleteUpload(ctx, s.creator, video.ID)
	s.Require().NoError(err)
	s.Equal(models.VideoStatusReady, again.Status)
}

func (s *VideosTestSuite) TestCreateUploadValidation() {
	ctx := context.Background()

	_, err := s.svc.CreateUpload(ctx, s.viewer, CreateUploadRequest{Metadata: Metadata{Title: "x"}, Filename: "a.mp4"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)

	_, err = s.svc.CreateUpload(ctx, s.creator, CreateUploadRequest{Metadata: Metadata{Title: "x"}, Filename: "a.avi"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	_, err = s.svc.CreateUpload(ctx, s.creator, CreateUploadRequest{Metadata: Metadata{Title: "x"}, Filename: "a.mp4", ContentType: "image/png"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	_, err = s.svc.CreateUpload(ctx, s.creator, CreateUploadRequest{Metadata: Metadata{Title: "  "}, Filename: "a.mp4"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	_, err = s.svc.CreateUpload(ctx, s.creator, CreateUploadRequest{Metadata: Metadata{Title: "x", Visibility: "friends"}, Filename: "a.mp4"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
}

func (s *VideosTestSuite) TestImportQueuesJob() {
	video, job, err := s.svc.Import(context.Background(), s.creator, ImportRequest{
		Metadata:  Metadata{Title: "Imported"},
		SourceURL: "https://cdn.example.com/talk.mp4",
	})
	s.Require().NoError(err)

	s.Equal(models.VideoStatusProcessing, video.Status)
	s.Equal(models.SourceImport, video.SourceType)
	s.Equal(models.ImportQueued, job.Status)
	s.Equal(video.ID, job.VideoID)
	s.Equal([]string{job.ID}, s.queue.jobs)

	status, err := s.svc.ImportStatus(context.Background(), s.creator, video.ID)
	s.Require().NoError(err)
	s.Equal(job.ID, status.ID)
}

func (s *VideosTestSuite) TestImportSurvivesFullQueue() {
	s.queue.err = errors.New("queue full")
	_, job, err := s.svc.Import(context.Background(), s.creator, ImportRequest{
		Metadata:  Metadata{Title: "Later"},
		SourceURL: "http://cdn.example.com/a.mp4",
	})
	s.Require().NoError(err)
	s.Equal(models.ImportQueued, job.Status)
}

func (s *VideosTestSuite) TestImportRejectsBadURL() {
	for _, raw := range []string{"ftp://example.com/a.mp4", "not a url", "https://"} {
		_, _, err := s.svc.Import(context.Background(), s.creator, ImportRequest{
			Metadata:  Metadata{Title: "x"},
			SourceURL: raw,
		})
		testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
	}
}

func (s *VideosTestSuite) TestAccessRules() {
	ctx := context.Background()
	public := testutil.CreateVideo(s.T(), s.db, s.creator)
	unlisted := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Visibility = models.VisibilityUnlisted })
	private := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Visibility = models.VisibilityPrivate })
	paid := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Visibility = models.VisibilitySubscribers })
	processing := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Status = models.VideoStatusProcessing })

	p, err := s.svc.Get(ctx, nil, public.ID)
	s.Require().NoError(err)
	s.Contains(p.PlaybackURL, "method=GET")
	s.NotNil(p.ExpiresAt)

	_, err = s.svc.Get(ctx, nil, unlisted.ID)
	s.NoError(err)

	_, err = s.svc.Get(ctx, s.viewer, private.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
	_, err = s.svc.Get(ctx, s.creator, private.ID)
	s.NoError(err)

	_, err = s.svc.Get(ctx, nil, paid.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrUnauthorized)
	_, err = s.svc.Get(ctx, s.viewer, paid.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrPaymentRequired)
	s.subs.active[s.viewer.ID+":"+s.creator.ID] = true
	_, err = s.svc.Get(ctx, s.viewer, paid.ID)
	s.NoError(err)

	_, err = s.svc.Get(ctx, s.viewer, processing.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
	owner, err := s.svc.Get(ctx, s.creator, processing.ID)
	s.Require().NoError(err)
	s.Empty(owner.PlaybackURL)

	admin := testutil.CreateUser(s.T(), s.db, "boss", models.RoleViewer)
	admin.IsAdmin = true
	_, err = s.svc.Get(ctx, admin, private.ID)
	s.NoError(err)
}

func (s *VideosTestSuite) TestListAndListMine() {
	ctx := context.Background()
	other := testutil.CreateUser(s.T(), s.db, "other", models.RoleCreator)
	testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Title = "Go channels" })
	testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Title = "Cooking"; v.Category = "food" })
	testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Visibility = models.VisibilityPrivate })
	testutil.CreateVideo(s.T(), s.db, other, func(v *models.Video) { v.Title = "Go generics" })

	all, total, err := s.svc.List(ctx, ListParams{Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(all, 3)

	food, _, err := s.svc.List(ctx, ListParams{Category: "FOOD", Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(food, 1)
	s.Equal("Cooking", food[0].Title)

	found, total, err := s.svc.List(ctx, ListParams{Query: "go", CreatorID: other.ID, Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(found, 1)
	s.Equal("Go generics", found[0].Title)

	mine, total, err := s.svc.ListMine(ctx, s.creator.ID, 10, 0)
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(mine, 3)
}

func (s *VideosTestSuite) TestUpdateOwnerOnly() {
	ctx := context.Background()
	video := testutil.CreateVideo(s.T(), s.db, s.creator)

	title := "Renamed"
	_, err := s.svc.Update(ctx, s.viewer, video.ID, UpdateRequest{Title: &title})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)

	private := models.VisibilityPrivate
	updated, err := s.svc.Update(ctx, s.creator, video.ID, UpdateRequest{Title: &title, Visibility: &private})
	s.Require().NoError(err)
	s.Equal("Renamed", updated.Title)
	s.Equal(models.VisibilityPrivate, updated.Visibility)
	s.True(s.index.deleted[video.ID])

	bad := models.Visibility("everyone")
	_, err = s.svc.Update(ctx, s.creator, video.ID, UpdateRequest{Visibility: &bad})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
}

func (s *VideosTestSuite) TestDeleteRemovesObjectAndDocument() {
	ctx := context.Background()
	video := testutil.CreateVideo(s.T(), s.db, s.creator)
	s.Require().NoError(s.store.Put(ctx, video.StorageKey, strings.NewReader("x"), 1, "video/mp4"))

	err := s.svc.Delete(ctx, s.viewer, video.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)

	s.Require().NoError(s.svc.Delete(ctx, s.creator, video.ID))
	s.False(s.store.Has(video.StorageKey))
	s.True(s.index.deleted[video.ID])

	_, err = s.svc.Get(ctx, s.creator, video.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
}

func (s *VideosTestSuite) TestRecordViewDeduplicates() {
	ctx := context.Background()
	video := testutil.CreateVideo(s.T(), s.db, s.creator)

	first, err := s.svc.RecordView(ctx, s.viewer, video.ID, ViewInput{WatchSeconds: 30})
	s.Require().NoError(err)
	s.True(first.Counted)
	s.Equal("page", first.Source)

	second, err := s.svc.RecordView(ctx, s.viewer, video.ID, ViewInput{WatchSeconds: 500, Completed: true})
	s.Require().NoError(err)
	s.False(second.Counted)
	s.Equal(120.0, second.WatchSeconds)

	anon, err := s.svc.RecordView(ctx, nil, video.ID, ViewInput{SessionID: "abc", WatchSeconds: 10})
	s.Require().NoError(err)
	s.True(anon.Counted)

	var stored models.Video
	s.Require().NoError(s.db.First(&stored, "id = ?", video.ID).Error)
	s.Equal(int64(2), stored.ViewCount)
	s.Equal(int64(160), stored.WatchSeconds)

	_, err = s.svc.RecordView(ctx, nil, video.ID, ViewInput{})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
}

func (s *VideosTestSuite) TestRecordViewWindowExpires() {
	ctx := context.Background()
	now := time.Now()
	s.kv = cache.NewMemoryStore().WithClock(func() time.Time { return now })
	s.svc = NewService(s.db, s.store, s.index, s.kv, Options{DedupWindow: 30 * time.Minute})
	video := testutil.CreateVideo(s.T(), s.db, s.creator)

	v1, err := s.svc.RecordView(ctx, nil, video.ID, ViewInput{SessionID: "s1"})
	s.Require().NoError(err)
	s.True(v1.Counted)

	now = now.Add(31 * time.Minute)
	v2, err := s.svc.RecordView(ctx, nil, video.ID, ViewInput{SessionID: "s1"})
	s.Require().NoError(err)
	s.True(v2.Counted)
}

func (s *VideosTestSuite) TestRecordViewViaShareLinkSkipsVisibility() {
	ctx := context.Background()
	video := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) { v.Visibility = models.VisibilityPrivate })

	_, err := s.svc.RecordView(ctx, nil, video.ID, ViewInput{SessionID: "s"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)

	linkID := "00000000-0000-0000-0000-00000000beef"
	view, err := s.svc.RecordView(ctx, nil, video.ID, ViewInput{SessionID: "s", ShareLinkID: &linkID})
	s.Require().NoError(err)
	s.Equal("share", view.Source)
	s.Equal(&linkID, view.ShareLinkID)
}

func TestNormalizeDomains(t *testing.T) {
	got, err := normalizeDomains([]string{" Example.com ", "https://example.com/page", "sub.example.com/", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "sub.example.com"}, got)

	_, err = normalizeDomains([]string{"bad domain"})
	assert.Error(t, err)
}
