package interactive

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
	"gorm.io/gorm"
)

type published struct {
	videoID string
	msgType string
	payload interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) PublishToVideo(videoID, msgType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{videoID, msgType, payload})
}

func (f *fakePublisher) ofType(msgType string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.messages {
		if m.msgType == msgType {
			out = append(out, m)
		}
	}
	return out
}

// ownerOrPublic mirrors the basic visibility rule without subscriptions
type ownerOrPublic struct{}

func (ownerOrPublic) CanWatch(ctx context.Context, viewer *models.User, video *models.Video) error {
	if viewer != nil && viewer.ID == video.CreatorID {
		return nil
	}
	if video.Visibility == models.VisibilityPrivate {
		return apierrors.NotFound("video")
	}
	return nil
}

func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

type InteractiveTestSuite struct {
	suite.Suite
	db      *gorm.DB
	pub     *fakePublisher
	svc     *Service
	creator *models.User
	viewer  *models.User
	video   *models.Video
}

func (s *InteractiveTestSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.pub = &fakePublisher{}
	s.svc = NewService(s.db, s.pub, ownerOrPublic{})
	s.creator = testutil.CreateUser(s.T(), s.db, "instructor", models.RoleCreator)
	s.viewer = testutil.CreateUser(s.T(), s.db, "student", models.RoleViewer)
	s.video = testutil.CreateVideo(s.T(), s.db, s.creator)
}

func TestInteractiveSuite(t *testing.T) {
	suite.Run(t, new(InteractiveTestSuite))
}

func (s *InteractiveTestSuite) quiz() *models.InteractiveElement {
	el, err := s.svc.Create(context.Background(), s.creator, s.video.ID, ElementInput{
		Type:      models.ElementQuiz,
		Prompt:    "What does go vet do?",
		StartTime: 10,
		EndTime:   20,
		Points:    5,
		Options: []OptionInput{
			{Label: "Static analysis", IsCorrect: true},
			{Label: "Runs tests"},
			{Label: "Formats code"},
		},
	})
	s.Require().NoError(err)
	return el
}

func (s *InteractiveTestSuite) poll() *models.InteractiveElement {
	el, err := s.svc.Create(context.Background(), s.creator, s.video.ID, ElementInput{
		Type:        models.ElementPoll,
		Prompt:      "Favourite feature?",
		StartTime:   30,
		EndTime:     40,
		MultiSelect: true,
		Options: []OptionInput{
			{Label: "Goroutines", IsCorrect: true},
			{Label: "Interfaces"},
		},
	})
	s.Require().NoError(err)
	return el
}

func (s *InteractiveTestSuite) TestCreateQuizAssignsOptionIDs() {
	el := s.quiz()
	s.Len(el.Options, 3)
	ids := map[string]bool{}
	for _, opt := range el.Options {
		s.NotEmpty(opt.ID)
		ids[opt.ID] = true
	}
	s.Len(ids, 3)
	s.True(el.Options[0].IsCorrect)
}

func (s *InteractiveTestSuite) TestPollDropsCorrectFlags() {
	el := s.poll()
	for _, opt := range el.Options {
		s.False(opt.IsCorrect)
	}
}

func (s *InteractiveTestSuite) TestValidation() {
	ctx := context.Background()
	two := []OptionInput{{Label: "a", IsCorrect: true}, {Label: "b"}}

	cases := []struct {
		name  string
		in    ElementInput
		field string
	}{
		{"unknown type", ElementInput{Type: "survey", Prompt: "x", EndTime: 1}, "type"},
		{"missing prompt", ElementInput{Type: models.ElementPoll, EndTime: 1, Options: two}, "prompt"},
		{"negative start", ElementInput{Type: models.ElementPoll, Prompt: "x", StartTime: -1, EndTime: 1, Options: two}, "start_time"},
		{"end before start", ElementInput{Type: models.ElementPoll, Prompt: "x", StartTime: 5, EndTime: 5, Options: two}, "end_time"},
		{"past duration", ElementInput{Type: models.ElementPoll, Prompt: "x", StartTime: 5, EndTime: 121, Options: two}, "end_time"},
		{"one option", ElementInput{Type: models.ElementPoll, Prompt: "x", EndTime: 1, Options: two[:1]}, "options"},
		{"quiz without answer", ElementInput{Type: models.ElementQuiz, Prompt: "x", EndTime: 1, Options: []OptionInput{{Label: "a"}, {Label: "b"}}}, "options"},
		{"single quiz two answers", ElementInput{Type: models.ElementQuiz, Prompt: "x", EndTime: 1, Options: []OptionInput{{Label: "a", IsCorrect: true}, {Label: "b", IsCorrect: true}}}, "options"},
		{"hotspot without url", ElementInput{Type: models.ElementHotspot, Prompt: "x", EndTime: 1, Region: &models.HotspotRegion{Width: 0.1, Height: 0.1}}, "url"},
		{"hotspot outside frame", ElementInput{Type: models.ElementHotspot, Prompt: "x", EndTime: 1, URL: "https://example.com", Region: &models.HotspotRegion{X: 0.95, Width: 0.1, Height: 0.1}}, "region"},
		{"decision without target", ElementInput{Type: models.ElementDecision, Prompt: "x", EndTime: 1, Options: two}, "options"},
		{"decision target past end", ElementInput{Type: models.ElementDecision, Prompt: "x", EndTime: 1, Options: []OptionInput{{Label: "a", TargetTime: floatPtr(500)}, {Label: "b", TargetTime: floatPtr(1)}}}, "options"},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.Create(ctx, s.creator, s.video.ID, tc.in)
			testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
			apiErr, _ := apierrors.As(err)
			s.Equal(tc.field, apiErr.Field)
		})
	}

	_, err := s.svc.Create(ctx, s.viewer, s.video.ID, ElementInput{Type: models.ElementPoll, Prompt: "x", EndTime: 1, Options: two})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)
}

func (s *InteractiveTestSuite) TestDecisionTargetsOwnVideosOnly() {
	ctx := context.Background()
	sequel := testutil.CreateVideo(s.T(), s.db, s.creator)
	stranger := testutil.CreateUser(s.T(), s.db, "stranger", models.RoleCreator)
	foreign := testutil.CreateVideo(s.T(), s.db, stranger)

	in := ElementInput{
		Type:      models.ElementDecision,
		Prompt:    "Where next?",
		StartTime: 100,
		EndTime:   110,
		Options: []OptionInput{
			{Label: "Rewatch", TargetTime: floatPtr(0)},
			{Label: "Part two", TargetVideoID: strPtr(foreign.ID)},
		},
	}
	_, err := s.svc.Create(ctx, s.creator, s.video.ID, in)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	in.Options[1].TargetVideoID = strPtr(sequel.ID)
	el, err := s.svc.Create(ctx, s.creator, s.video.ID, in)
	s.Require().NoError(err)

	res, err := s.svc.Submit(ctx, s.viewer, el.ID, SubmitInput{OptionIDs: []string{el.Options[1].ID}})
	s.Require().NoError(err)
	s.Require().NotNil(res.Target)
	s.Equal(sequel.ID, *res.Target.VideoID)
	s.Nil(res.Target.Time)
}

func (s *InteractiveTestSuite) TestUpdateKeepsOptionIDs() {
	ctx := context.Background()
	el := s.quiz()

	updated, err := s.svc.Update(ctx, s.creator, el.ID, ElementInput{
		Type:      models.ElementQuiz,
		Prompt:    "What does go vet report?",
		StartTime: 12,
		EndTime:   22,
		Points:    10,
		Options: []OptionInput{
			{ID: el.Options[0].ID, Label: "Suspicious constructs", IsCorrect: true},
			{ID: "made-up", Label: "Benchmarks"},
		},
	})
	s.Require().NoError(err)
	s.Equal(el.Options[0].ID, updated.Options[0].ID)
	s.NotEqual("made-up", updated.Options[1].ID)

	var stored models.InteractiveElement
	s.Require().NoError(s.db.First(&stored, "id = ?", el.ID).Error)
	s.Equal("What does go vet report?", stored.Prompt)
	s.Equal(10, stored.Points)
	s.Len(stored.Options, 2)

	_, err = s.svc.Update(ctx, s.creator, el.ID, ElementInput{Type: models.ElementPoll, Prompt: "x", EndTime: 1})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
}

func (s *InteractiveTestSuite) TestListForVideoHidesAnswers() {
	ctx := context.Background()
	s.poll()
	s.quiz()

	owner, err := s.svc.ListForVideo(ctx, s.creator, s.video.ID)
	s.Require().NoError(err)
	s.Require().Len(owner, 2)
	s.Equal(models.ElementQuiz, owner[0].Type, "ordered by start time")
	s.True(owner[0].Options[0].IsCorrect)

	viewer, err := s.svc.ListForVideo(ctx, nil, s.video.ID)
	s.Require().NoError(err)
	s.Require().Len(viewer, 2)
	for _, opt := range viewer[0].Options {
		s.False(opt.IsCorrect)
	}
}

func (s *InteractiveTestSuite) TestSubmitQuiz() {
	ctx := context.Background()
	el := s.quiz()

	right, err := s.svc.Submit(ctx, s.viewer, el.ID, SubmitInput{OptionIDs: []string{el.Options[0].ID}})
	s.Require().NoError(err)
	s.True(*right.Correct)
	s.Equal(5, right.Score)

	wrong, err := s.svc.Submit(ctx, nil, el.ID, SubmitInput{OptionIDs: []string{el.Options[1].ID}, SessionID: "anon-1"})
	s.Require().NoError(err)
	s.False(*wrong.Correct)
	s.Zero(wrong.Score)

	_, err = s.svc.Submit(ctx, s.viewer, el.ID, SubmitInput{OptionIDs: []string{el.Options[1].ID}})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrAlreadyExists)

	_, err = s.svc.Submit(ctx, nil, el.ID, SubmitInput{OptionIDs: []string{el.Options[0].ID, el.Options[1].ID}, SessionID: "anon-2"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	_, err = s.svc.Submit(ctx, nil, el.ID, SubmitInput{OptionIDs: []string{"nope"}, SessionID: "anon-2"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	_, err = s.svc.Submit(ctx, nil, el.ID, SubmitInput{OptionIDs: []string{el.Options[0].ID}})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	results, err := s.svc.Results(ctx, s.creator, el.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), results.Total)
	s.Equal(int64(1), *results.CorrectCount)
	s.InDelta(0.5, *results.Accuracy, 0.0001)

	var video models.Video
	s.Require().NoError(s.db.First(&video, "id = ?", s.video.ID).Error)
	s.Equal(int64(2), video.ResponseCount)

	_, err = s.svc.Results(ctx, s.viewer, el.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)
}

func (s *InteractiveTestSuite) TestSubmitPollPublishesTallies() {
	ctx := context.Background()
	el := s.poll()
	a, b := el.Options[0].ID, el.Options[1].ID

	_, err := s.svc.Submit(ctx, s.viewer, el.ID, SubmitInput{OptionIDs: []string{a, b}})
	s.Require().NoError(err)
	res, err := s.svc.Submit(ctx, nil, el.ID, SubmitInput{OptionIDs: []string{b}, SessionID: "s1"})
	s.Require().NoError(err)

	s.Equal(int64(2), res.Total)
	s.Equal(int64(1), res.Tallies[0].Count)
	s.Equal(int64(2), res.Tallies[1].Count)
	s.Equal(100.0, res.Tallies[1].Percent)

	tallies := s.pub.ofType(MessagePollResults)
	s.Require().Len(tallies, 2)
	last := tallies[1]
	s.Equal(s.video.ID, last.videoID)
	s.Equal(MessagePollResults, last.msgType)
	s.Equal(el.ID, last.payload.(PollResults).ElementID)

	results, err := s.svc.Results(ctx, s.creator, el.ID)
	s.Require().NoError(err)
	s.Equal(b, results.Options[0].OptionID, "sorted by votes")
	s.Nil(results.Accuracy)
}

func (s *InteractiveTestSuite) TestElementEditsArePublished() {
	ctx := context.Background()
	el := s.quiz()

	in := ElementInput{
		Type:      models.ElementQuiz,
		Prompt:    "What does go fmt do?",
		StartTime: 10,
		EndTime:   20,
		Options: []OptionInput{
			{ID: el.Options[0].ID, Label: "Formats code", IsCorrect: true},
			{ID: el.Options[1].ID, Label: "Runs tests"},
		},
	}
	_, err := s.svc.Update(ctx, s.creator, el.ID, in)
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Delete(ctx, s.creator, el.ID))

	changes := s.pub.ofType(MessageElementChanged)
	s.Require().Len(changes, 3)
	actions := make([]string, len(changes))
	for i, m := range changes {
		s.Equal(s.video.ID, m.videoID)
		change := m.payload.(ElementChange)
		s.Equal(el.ID, change.ElementID)
		actions[i] = change.Action
	}
	s.Equal([]string{ElementCreated, ElementUpdated, ElementDeleted}, actions)

	updated := changes[1].payload.(ElementChange).Element
	s.Require().NotNil(updated)
	s.Equal("What does go fmt do?", updated.Prompt)
	for _, opt := range updated.Options {
		s.False(opt.IsCorrect, "answers stay hidden from the room")
	}
	s.Nil(changes[2].payload.(ElementChange).Element)

	// Another user's edit is refused and nothing is sent
	_, err = s.svc.Create(ctx, s.viewer, s.video.ID, in)
	s.Error(err)
	s.Len(s.pub.ofType(MessageElementChanged), 3)
}

func (s *InteractiveTestSuite) TestSubmitHotspot() {
	ctx := context.Background()
	el, err := s.svc.Create(ctx, s.creator, s.video.ID, ElementInput{
		Type:      models.ElementHotspot,
		Prompt:    "Get the book",
		StartTime: 0,
		EndTime:   15,
		URL:       "https://shop.example.com/book",
		Region:    &models.HotspotRegion{X: 0.7, Y: 0.7, Width: 0.2, Height: 0.2},
	})
	s.Require().NoError(err)

	res, err := s.svc.Submit(ctx, nil, el.ID, SubmitInput{SessionID: "s"})
	s.Require().NoError(err)
	s.Equal("https://shop.example.com/book", res.URL)

	_, err = s.svc.Submit(ctx, s.viewer, el.ID, SubmitInput{OptionIDs: []string{"x"}})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
}

func (s *InteractiveTestSuite) TestPrivateVideoHidesElements() {
	ctx := context.Background()
	el := s.poll()
	s.Require().NoError(s.db.Model(s.video).Update("visibility", models.VisibilityPrivate).Error)

	_, err := s.svc.ListForVideo(ctx, s.viewer, s.video.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
	_, err = s.svc.Submit(ctx, s.viewer, el.ID, SubmitInput{OptionIDs: []string{el.Options[0].ID}})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrNotFound)
}

func (s *InteractiveTestSuite) TestDelete() {
	ctx := context.Background()
	el := s.quiz()

	testutil.RequireAPIError(s.T(), s.svc.Delete(ctx, s.viewer, el.ID), apierrors.ErrForbidden)
	s.Require().NoError(s.svc.Delete(ctx, s.creator, el.ID))

	list, err := s.svc.ListForVideo(ctx, s.creator, s.video.ID)
	s.Require().NoError(err)
	s.Empty(list)
}

func TestQuizCorrectNeedsExactSet(t *testing.T) {
	el := &models.InteractiveElement{
		Type:        models.ElementQuiz,
		MultiSelect: true,
		Options: []models.ElementOption{
			{ID: "a", IsCorrect: true},
			{ID: "b", IsCorrect: true},
			{ID: "c"},
		},
	}
	assert.True(t, quizCorrect(el, []string{"a", "b"}))
	assert.False(t, quizCorrect(el, []string{"a"}))
	assert.False(t, quizCorrect(el, []string{"a", "b", "c"}))
}
