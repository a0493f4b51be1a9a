package sharing

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/email"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/storage"
	"github.com/zfogg/vidlayer/internal/testutil"
	"github.com/zfogg/vidlayer/internal/videos"
	"gorm.io/gorm"
)

type SharingTestSuite struct {
	suite.Suite
	db      *gorm.DB
	svc     *Service
	mail    *email.Recorder
	creator *models.User
	video   *models.Video
	now     time.Time
}

func (s *SharingTestSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	videoSvc := videos.NewService(s.db, storage.NewMemoryStore(), search.NewSQLIndex(s.db), cache.NewMemoryStore(), videos.Options{})

	s.svc = NewService(s.db, videoSvc, "https://vidlayer.test/", true)
	s.mail = &email.Recorder{}
	s.svc.SetNotifier(email.NewNotifier(s.mail, "https://vidlayer.test"))
	s.now = time.Now()
	s.svc.now = func() time.Time { return s.now }

	s.creator = testutil.CreateUser(s.T(), s.db, "maker", models.RoleCreator)
	s.video = testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) {
		v.Visibility = models.VisibilityPrivate
		v.Title = `Intro <script>`
	})
}

func TestSharingSuite(t *testing.T) {
	suite.Run(t, new(SharingTestSuite))
}

func (s *SharingTestSuite) create(in CreateInput) *LinkView {
	link, err := s.svc.Create(context.Background(), s.creator, s.video.ID, in)
	s.Require().NoError(err)
	return link
}

func (s *SharingTestSuite) TestCreateAndResolve() {
	link := s.create(CreateInput{})
	s.Equal("https://vidlayer.test/share/"+link.Token, link.URL)
	s.Len(link.Token, 32)
	s.False(link.HasPassword)

	res, err := s.svc.Resolve(context.Background(), link.Token, "")
	s.Require().NoError(err)
	s.Equal(s.video.ID, res.Video.ID)
	s.Equal(link.ID, res.ShareLinkID)
	s.Contains(res.PlaybackURL, "method=GET")

	var reloaded models.ShareLink
	s.Require().NoError(s.db.First(&reloaded, "id = ?", link.ID).Error)
	s.Equal(1, reloaded.ViewCount)
}

func (s *SharingTestSuite) TestOnlyOwnerCreates() {
	other := testutil.CreateUser(s.T(), s.db, "other", models.RoleCreator)
	_, err := s.svc.Create(context.Background(), other, s.video.ID, CreateInput{})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
}

func (s *SharingTestSuite) TestPasswordProtected() {
	link := s.create(CreateInput{Password: "hunter22"})
	s.True(link.HasPassword)
	s.NotContains(*link.PasswordHash, "hunter22")

	_, err := s.svc.Resolve(context.Background(), link.Token, "")
	s.ErrorIs(err, ErrPasswordRequired)
	_, err = s.svc.Resolve(context.Background(), link.Token, "wrong")
	s.ErrorIs(err, ErrWrongPassword)
	_, err = s.svc.Resolve(context.Background(), link.Token, "hunter22")
	s.NoError(err)
}

func (s *SharingTestSuite) TestExpiry() {
	link := s.create(CreateInput{ExpiresInSeconds: 60})
	_, err := s.svc.Resolve(context.Background(), link.Token, "")
	s.NoError(err)

	s.now = s.now.Add(61 * time.Second)
	_, err = s.svc.Resolve(context.Background(), link.Token, "")
	s.ErrorIs(err, ErrShareLinkExpired)
}

func (s *SharingTestSuite) TestMaxViews() {
	link := s.create(CreateInput{MaxViews: 2})
	for i := 0; i < 2; i++ {
		_, err := s.svc.Resolve(context.Background(), link.Token, "")
		s.Require().NoError(err)
	}
	_, err := s.svc.Resolve(context.Background(), link.Token, "")
	s.ErrorIs(err, ErrShareLinkExhausted)
}

func (s *SharingTestSuite) TestRevoke() {
	link := s.create(CreateInput{})
	revoked, err := s.svc.Revoke(context.Background(), s.creator, link.ID)
	s.Require().NoError(err)
	s.NotNil(revoked.RevokedAt)

	_, err = s.svc.Resolve(context.Background(), link.Token, "")
	s.ErrorIs(err, ErrShareLinkRevoked)

	other := testutil.CreateUser(s.T(), s.db, "other", models.RoleCreator)
	_, err = s.svc.Revoke(context.Background(), other, link.ID)
	s.ErrorIs(err, ErrShareLinkNotFound)
}

func (s *SharingTestSuite) TestUnknownToken() {
	_, err := s.svc.Resolve(context.Background(), "nope", "")
	s.ErrorIs(err, ErrShareLinkNotFound)
}

func (s *SharingTestSuite) TestList() {
	s.create(CreateInput{})
	s.create(CreateInput{MaxViews: 5})

	links, err := s.svc.List(context.Background(), s.creator, s.video.ID)
	s.Require().NoError(err)
	s.Len(links, 2)
}

func (s *SharingTestSuite) TestLinkForView() {
	ctx := context.Background()
	link := s.create(CreateInput{MaxViews: 1})
	other := testutil.CreateVideo(s.T(), s.db, s.creator)

	found, err := s.svc.LinkForView(ctx, link.Token, s.video.ID)
	s.Require().NoError(err)
	s.Equal(link.ID, found.ID)

	_, err = s.svc.LinkForView(ctx, link.Token, other.ID)
	s.ErrorIs(err, ErrShareLinkNotFound)
	_, err = s.svc.LinkForView(ctx, link.ID, s.video.ID)
	s.ErrorIs(err, ErrShareLinkNotFound)

	// The viewer admitted by the last allowed resolve can still report
	_, err = s.svc.Resolve(ctx, link.Token, "")
	s.Require().NoError(err)
	_, err = s.svc.LinkForView(ctx, link.Token, s.video.ID)
	s.NoError(err)

	s.now = s.now.Add(time.Hour)
	expiring := s.create(CreateInput{ExpiresInSeconds: 60})
	s.now = s.now.Add(2 * time.Minute)
	_, err = s.svc.LinkForView(ctx, expiring.Token, s.video.ID)
	s.ErrorIs(err, ErrShareLinkExpired)

	_, err = s.svc.Revoke(ctx, s.creator, link.ID)
	s.Require().NoError(err)
	_, err = s.svc.LinkForView(ctx, link.Token, s.video.ID)
	s.ErrorIs(err, ErrShareLinkRevoked)
}

func (s *SharingTestSuite) TestEmail() {
	link := s.create(CreateInput{Password: "hunter22"})

	sent, err := s.svc.Email(context.Background(), s.creator, link.ID, EmailInput{
		Recipients: []string{"a@example.com", "Bea <b@example.com>"},
	})
	s.Require().NoError(err)
	s.Equal(2, sent)

	msgs := s.mail.Messages()
	s.Require().Len(msgs, 2)
	s.Equal("b@example.com", msgs[1].To)
	s.Contains(msgs[0].Text, link.URL)

	_, err = s.svc.Email(context.Background(), s.creator, link.ID, EmailInput{Recipients: []string{"bad"}})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	s.mail.Err = errors.New("ses down")
	_, err = s.svc.Email(context.Background(), s.creator, link.ID, EmailInput{Recipients: []string{"c@example.com"}})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrServiceUnavail)
}

func (s *SharingTestSuite) TestEmbed() {
	public := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) {
		v.Title = `Tom & "Jerry" <b>`
		v.EmbedDomains = models.StringArray{"blog.example.com"}
	})

	page, err := s.svc.Embed(context.Background(), public.ID, "https://blog.example.com/post/1")
	s.Require().NoError(err)

	var buf bytes.Buffer
	s.Require().NoError(page.Render(&buf))
	html := buf.String()
	s.Contains(html, "Tom &amp; &#34;Jerry&#34; &lt;b&gt;")
	s.NotContains(html, "<b>")
	s.Contains(html, "storage.local")

	_, err = s.svc.Embed(context.Background(), public.ID, "https://evil.example.org/")
	s.ErrorIs(err, ErrEmbedNotAllowed)

	// Private videos never embed
	_, err = s.svc.Embed(context.Background(), s.video.ID, "")
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)

	s.svc.embedEnabled = false
	_, err = s.svc.Embed(context.Background(), public.ID, "https://blog.example.com/")
	s.ErrorIs(err, ErrEmbedDisabled)
}

func (s *SharingTestSuite) TestOEmbed() {
	public := testutil.CreateVideo(s.T(), s.db, s.creator)

	out, err := s.svc.OEmbedFor(context.Background(), "https://vidlayer.test/watch/"+public.ID, 320, 0)
	s.Require().NoError(err)
	s.Equal("video", out.Type)
	s.Equal(320, out.Width)
	s.Equal(180, out.Height)
	s.Equal("maker", out.AuthorName)
	s.Contains(out.HTML, "https://vidlayer.test/embed/"+public.ID)
	s.Equal(120, out.DurationSeconds)

	_, err = s.svc.OEmbedFor(context.Background(), "https://elsewhere.test/watch/"+public.ID, 0, 0)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
}

func TestRefererAllowed(t *testing.T) {
	domains := models.StringArray{"example.com", "*.partner.io"}

	assert.True(t, refererAllowed(nil, ""))
	assert.True(t, refererAllowed(domains, "https://example.com/a"))
	assert.True(t, refererAllowed(domains, "https://www.example.com/a"))
	assert.True(t, refererAllowed(domains, "https://cdn.partner.io"))
	assert.False(t, refererAllowed(domains, "https://notexample.com"))
	assert.False(t, refererAllowed(domains, ""))
	assert.False(t, refererAllowed(domains, "::not a url"))
}
