package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"github.com/zfogg/vidlayer/internal/affiliates"
	"github.com/zfogg/vidlayer/internal/container"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
	"gorm.io/gorm"
)

// HandlersTestSuite drives the full router against an in-memory container
type HandlersTestSuite struct {
	suite.Suite
	db      *gorm.DB
	mock    *container.MockContainer
	router  http.Handler
	creator *models.User
	viewer  *models.User
	admin   *models.User
	video   *models.Video
}

func (s *HandlersTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.db = testutil.NewTestDB(s.T())
	s.mock = container.NewMock(s.db, nil, nil)
	s.router = NewRouter(s.mock.Container)

	s.creator = testutil.CreateUser(s.T(), s.db, "maker", models.RoleCreator)
	s.viewer = testutil.CreateUser(s.T(), s.db, "watcher", models.RoleViewer)
	s.admin = testutil.CreateUser(s.T(), s.db, "boss", models.RoleViewer)
	s.Require().NoError(s.db.Model(s.admin).Update("is_admin", true).Error)
	s.video = testutil.CreateVideo(s.T(), s.db, s.creator)
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func (s *HandlersTestSuite) token(user *models.User) string {
	resp, err := s.mock.Auth().GenerateTokenForUser(user)
	s.Require().NoError(err)
	return resp.Token
}

func (s *HandlersTestSuite) do(method, path string, body interface{}, user *models.User, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlersTestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *HandlersTestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", nil, nil)
	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("healthy", body["status"])
}

func (s *HandlersTestSuite) TestRegisterLoginMe() {
	w := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":        "new@example.com",
		"username":     "newbie",
		"password":     "correct-horse",
		"display_name": "New",
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":        "new@example.com",
		"username":     "another",
		"password":     "correct-horse",
		"display_name": "New",
	}, nil)
	s.Equal(http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "new@example.com", "password": "wrong-password"}, nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "new@example.com", "password": "correct-horse"}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	token := s.decode(w)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"username":"newbie"`)
}

func (s *HandlersTestSuite) TestMeRequiresToken() {
	w := s.do(http.MethodGet, "/api/v1/auth/me", nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlersTestSuite) TestReferralCookieAttributesSignup() {
	w := s.do(http.MethodGet, "/r/"+s.creator.ReferralCode, nil, nil)
	s.Require().Equal(http.StatusFound, w.Code)
	s.Equal("http://vidlayer.test/", w.Header().Get("Location"))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == affiliates.CookieName {
			cookie = c
		}
	}
	s.Require().NotNil(cookie)

	w = s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":        "friend@example.com",
		"username":     "friend",
		"password":     "correct-horse",
		"display_name": "Friend",
	}, nil, "Cookie", cookie.Name+"="+cookie.Value)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var referral models.AffiliateReferral
	s.Require().NoError(s.db.First(&referral).Error)
	s.Equal(s.creator.ID, referral.ReferrerID)

	var clicks int64
	s.db.Model(&models.AffiliateClick{}).Count(&clicks)
	s.Equal(int64(1), clicks)
}

func (s *HandlersTestSuite) TestUnknownReferralStillRedirects() {
	w := s.do(http.MethodGet, "/r/NOPE1234", nil, nil)
	s.Equal(http.StatusFound, w.Code)
	s.Empty(w.Result().Cookies())
}

func (s *HandlersTestSuite) TestCreateUploadRequiresCreator() {
	body := gin.H{"title": "Lesson", "filename": "lesson.mp4"}

	w := s.do(http.MethodPost, "/api/v1/videos", body, s.viewer)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/videos", body, s.creator)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.NotEmpty(s.decode(w)["upload_url"])
}

func (s *HandlersTestSuite) TestGetVideo() {
	w := s.do(http.MethodGet, "/api/v1/videos/"+s.video.ID, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.NotEmpty(s.decode(w)["playback_url"])

	w = s.do(http.MethodGet, "/api/v1/videos/00000000-0000-0000-0000-000000000000", nil, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlersTestSuite) TestListVideos() {
	w := s.do(http.MethodGet, "/api/v1/videos?limit=5", nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal(float64(1), body["total"])
	s.Equal(float64(5), body["limit"])
}

func (s *HandlersTestSuite) TestRecordViewThroughShareLink() {
	hidden := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) {
		v.Visibility = models.VisibilityPrivate
	})
	w := s.do(http.MethodPost, "/api/v1/videos/"+hidden.ID+"/share-links", gin.H{}, s.creator)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	link := s.decode(w)["share_link"].(map[string]interface{})
	linkID, token := link["id"].(string), link["token"].(string)

	w = s.do(http.MethodPost, "/api/v1/videos/"+hidden.ID+"/views", gin.H{
		"session_id":    "sess-1",
		"watch_seconds": 30,
		"share_token":   token,
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var view models.VideoView
	s.Require().NoError(s.db.First(&view).Error)
	s.Require().NotNil(view.ShareLinkID)
	s.Equal(linkID, *view.ShareLinkID)
	s.Equal("share", view.Source)

	// The link ID alone grants nothing
	w = s.do(http.MethodPost, "/api/v1/videos/"+hidden.ID+"/views", gin.H{
		"session_id":    "sess-2",
		"share_link_id": linkID,
	}, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/share-links/"+linkID, nil, s.creator)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/videos/"+hidden.ID+"/views", gin.H{
		"session_id":  "sess-3",
		"share_token": token,
	}, nil)
	s.Equal(http.StatusNotFound, w.Code)

	var views int64
	s.db.Model(&models.VideoView{}).Where("video_id = ?", hidden.ID).Count(&views)
	s.Equal(int64(1), views)
}

func (s *HandlersTestSuite) TestShareLinkPasswordAndRevoke() {
	w := s.do(http.MethodPost, "/api/v1/videos/"+s.video.ID+"/share-links", gin.H{"password": "letmein"}, s.creator)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	link := s.decode(w)["share_link"].(map[string]interface{})
	token := link["token"].(string)

	w = s.do(http.MethodGet, "/api/v1/share/"+token, nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/share/"+token, nil, nil, SharePasswordHeader, "letmein")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal(link["id"], s.decode(w)["share_link_id"])

	w = s.do(http.MethodDelete, "/api/v1/share-links/"+link["id"].(string), nil, s.creator)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/share/"+token, nil, nil, SharePasswordHeader, "letmein")
	s.Equal(http.StatusGone, w.Code)
}

func (s *HandlersTestSuite) TestEmbedAndOEmbed() {
	w := s.do(http.MethodGet, "/embed/"+s.video.ID, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Header().Get("Content-Type"), "text/html")
	s.Contains(w.Body.String(), "Test video")

	w = s.do(http.MethodGet, "/oembed?url=http://vidlayer.test/watch/"+s.video.ID, nil, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal("video", s.decode(w)["type"])

	w = s.do(http.MethodGet, "/oembed?format=xml&url=http://vidlayer.test/watch/"+s.video.ID, nil, nil)
	s.Equal(http.StatusNotImplemented, w.Code)
}

func (s *HandlersTestSuite) TestServeAdWithoutCampaigns() {
	w := s.do(http.MethodGet, "/api/v1/videos/"+s.video.ID+"/ad?format=preroll&session_id=abc", nil, nil)
	s.Equal(http.StatusNoContent, w.Code)
}

func (s *HandlersTestSuite) TestCampaignsRequireAdvertiser() {
	w := s.do(http.MethodGet, "/api/v1/campaigns", nil, s.viewer)
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *HandlersTestSuite) TestAdminRoutes() {
	w := s.do(http.MethodPost, "/api/v1/admin/payouts/process", nil, s.creator)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/admin/payouts/process", nil, s.admin)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(w.Body.String(), `"processed":0`)

	w = s.do(http.MethodPost, "/api/v1/admin/earnings/calculate", gin.H{"month": "March"}, s.admin)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlersTestSuite) TestAdminAlerts() {
	now := time.Now().UTC()
	s.Require().NoError(s.db.Create(&models.PlayerErrorLog{
		VideoID:     s.video.ID,
		Source:      "embed",
		Severity:    "error",
		Message:     "MEDIA_ERR_DECODE",
		Occurrences: 150,
		FirstSeen:   now,
		LastSeen:    now,
	}).Error)

	w := s.do(http.MethodPost, "/api/v1/admin/alerts/evaluate", nil, s.viewer)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/admin/alerts/evaluate", nil, s.admin)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal(float64(1), s.decode(w)["raised"])

	w = s.do(http.MethodGet, "/api/v1/admin/alerts", nil, s.admin)
	s.Require().Equal(http.StatusOK, w.Code)
	list := s.decode(w)["alerts"].([]interface{})
	s.Require().Len(list, 1)
	alert := list[0].(map[string]interface{})
	s.Equal("player_error_spike", alert["type"])

	w = s.do(http.MethodPost, "/api/v1/admin/alerts/"+alert["id"].(string)+"/resolve", nil, s.admin)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"is_resolved":true`)

	w = s.do(http.MethodPost, "/api/v1/admin/alerts/nope/resolve", nil, s.admin)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlersTestSuite) TestEarningsBalance() {
	w := s.do(http.MethodGet, "/api/v1/earnings/balance", nil, s.creator)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/earnings/balance", nil, s.viewer)
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *HandlersTestSuite) TestPayoutRequestBelowThreshold() {
	w := s.do(http.MethodPost, "/api/v1/payouts", nil, s.creator, "Idempotency-Key", "k-1")
	s.Equal(http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/payouts", nil, s.creator)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *HandlersTestSuite) TestPayoutAccountNeedsTOTPWhenEnabled() {
	secret := "JBSWY3DPEHPK3PXP"
	s.Require().NoError(s.db.Model(s.creator).Updates(map[string]interface{}{
		"two_factor_enabled": true,
		"two_factor_secret":  secret,
	}).Error)

	w := s.do(http.MethodPost, "/api/v1/payout-accounts", gin.H{"method": "paypal", "paypal_email": "me@example.com"}, s.creator)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(w.Body.String(), "X-TOTP-Code")
}

func (s *HandlersTestSuite) TestStripeWebhookWithoutGateway() {
	w := s.do(http.MethodPost, "/webhooks/stripe", gin.H{"id": "evt_1"}, nil, "Stripe-Signature", "t=1,v1=abc")
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *HandlersTestSuite) TestPlayerErrorsFoldRepeats() {
	report := gin.H{"errors": []gin.H{
		{"source": "embed", "severity": "error", "message": "MEDIA_ERR_DECODE"},
		{"source": "embed", "severity": "error", "message": "MEDIA_ERR_DECODE", "occurrences": 2},
		{"source": "bogus", "severity": "loud", "message": "stalled"},
	}}
	w := s.do(http.MethodPost, "/api/v1/videos/"+s.video.ID+"/player-errors", report, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal(float64(3), s.decode(w)["recorded_count"])

	var rows int64
	s.db.Model(&models.PlayerErrorLog{}).Count(&rows)
	s.Equal(int64(2), rows)

	w = s.do(http.MethodGet, "/api/v1/videos/"+s.video.ID+"/player-errors/stats", nil, s.viewer)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/videos/"+s.video.ID+"/player-errors/stats", nil, s.creator)
	s.Require().Equal(http.StatusOK, w.Code)
	stats := s.decode(w)
	s.Equal(float64(4), stats["total_errors"])
	s.Equal(float64(3), stats["errors_by_source"].(map[string]interface{})["embed"])
	s.Equal(float64(1), stats["errors_by_source"].(map[string]interface{})["page"])
}

func (s *HandlersTestSuite) TestVideoSocketJoinsRoom() {
	hub := s.mock.Hub()
	hub.Start()
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	srv := httptest.NewServer(s.router)
	s.T().Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/videos/"

	conn, _, err := websocket.Dial(context.Background(), base+s.video.ID, nil)
	s.Require().NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	s.Eventually(func() bool { return hub.RoomSize(s.video.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	hidden := testutil.CreateVideo(s.T(), s.db, s.creator, func(v *models.Video) {
		v.Visibility = models.VisibilityPrivate
	})
	_, resp, err := websocket.Dial(context.Background(), base+hidden.ID, nil)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusNotFound, resp.StatusCode)

	// The owner may watch over a query token
	conn2, _, err := websocket.Dial(context.Background(), base+hidden.ID+"?token="+s.token(s.creator), nil)
	s.Require().NoError(err)
	defer conn2.Close(websocket.StatusNormalClosure, "")
	s.Eventually(func() bool { return hub.RoomSize(hidden.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func (s *HandlersTestSuite) TestUnknownRoute() {
	w := s.do(http.MethodGet, "/nope", nil, nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.True(strings.Contains(w.Body.String(), "NOT_FOUND"))
}
