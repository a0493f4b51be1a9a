package affiliates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
	"gorm.io/gorm"
)

type AffiliatesTestSuite struct {
	suite.Suite
	db       *gorm.DB
	svc      *Service
	referrer *models.User
	creator  *models.User
	now      time.Time
}

func (s *AffiliatesTestSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.svc = NewService(s.db, config.AffiliatesConfig{
		CommissionRate:   0.2,
		CommissionWindow: 30 * 24 * time.Hour,
		CookieTTL:        7 * 24 * time.Hour,
		LandingPath:      "/signup",
	}, "test-salt")
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.svc.now = func() time.Time { return s.now }

	s.referrer = testutil.CreateUser(s.T(), s.db, "referrer", models.RoleCreator)
	s.creator = testutil.CreateUser(s.T(), s.db, "creator", models.RoleCreator)
}

func TestAffiliatesSuite(t *testing.T) {
	suite.Run(t, new(AffiliatesTestSuite))
}

func (s *AffiliatesTestSuite) signup(username string) *models.User {
	user := testutil.CreateUser(s.T(), s.db, username, models.RoleViewer)
	user.CreatedAt = s.now
	s.Require().NoError(s.svc.RecordSignup(context.Background(), user, s.referrer.ReferralCode))
	return user
}

func (s *AffiliatesTestSuite) payment(subscriber *models.User, cents int64, paidAt time.Time) *models.SubscriptionPayment {
	p := &models.SubscriptionPayment{
		SubscriptionID:  "00000000-0000-0000-0000-000000000001",
		SubscriberID:    subscriber.ID,
		CreatorID:       s.creator.ID,
		AmountCents:     cents,
		Currency:        "usd",
		StripeInvoiceID: "in_" + subscriber.ID + paidAt.Format("150405"),
		PaidAt:          paidAt,
	}
	s.Require().NoError(s.db.Create(p).Error)
	return p
}

func (s *AffiliatesTestSuite) TestTrackClickHashesVisitor() {
	click, err := s.svc.TrackClick(context.Background(), ClickInput{
		Code:      "  " + s.referrer.ReferralCode + " ",
		IP:        "203.0.113.9",
		UserAgent: "Mozilla/5.0",
		Referer:   "https://blog.example.com/post",
	})
	s.Require().NoError(err)

	s.Equal(s.referrer.ID, click.ReferrerID)
	s.Equal("/signup", click.LandingPath)
	s.Len(click.IPHash, 64)
	s.NotContains(click.IPHash, "203.0.113.9")
	s.NotEqual(click.IPHash, click.UserAgentHash)
}

func (s *AffiliatesTestSuite) TestTrackClickUnknownCode() {
	_, err := s.svc.TrackClick(context.Background(), ClickInput{Code: "NOPE1234"})
	s.ErrorIs(err, ErrInvalidCode)
}

func (s *AffiliatesTestSuite) TestRecordSignup() {
	user := s.signup("friend")

	var referral models.AffiliateReferral
	s.Require().NoError(s.db.Where("referred_user_id = ?", user.ID).First(&referral).Error)
	s.Equal(s.referrer.ID, referral.ReferrerID)
	s.Equal(models.ReferralPending, referral.Status)
	s.True(referral.CommissionEnds.Equal(s.now.Add(30 * 24 * time.Hour)))
}

func (s *AffiliatesTestSuite) TestRecordSignupRejectsSelfAndRepeat() {
	err := s.svc.RecordSignup(context.Background(), s.referrer, s.referrer.ReferralCode)
	s.ErrorIs(err, ErrSelfReferral)

	user := s.signup("friend")
	err = s.svc.RecordSignup(context.Background(), user, s.creator.ReferralCode)
	s.ErrorIs(err, ErrAlreadyReferred)
}

func (s *AffiliatesTestSuite) TestAccrueCommission() {
	user := s.signup("friend")
	p := s.payment(user, 999, s.now.Add(24*time.Hour))

	commission, err := s.svc.AccrueCommission(context.Background(), s.db, p)
	s.Require().NoError(err)
	s.Require().NotNil(commission)

	s.Equal(int64(199), commission.AmountCents)
	s.Equal(int64(999), commission.BaseAmountCents)
	s.Equal(models.CommissionPending, commission.Status)

	var referral models.AffiliateReferral
	s.Require().NoError(s.db.Where("referred_user_id = ?", user.ID).First(&referral).Error)
	s.Equal(models.ReferralConverted, referral.Status)
	s.NotNil(referral.ConvertedAt)

	// Redelivered payment webhooks must not double-credit
	again, err := s.svc.AccrueCommission(context.Background(), s.db, p)
	s.Require().NoError(err)
	s.Equal(commission.ID, again.ID)

	var count int64
	s.db.Model(&models.AffiliateCommission{}).Count(&count)
	s.Equal(int64(1), count)
}

func (s *AffiliatesTestSuite) TestAccrueCommissionOutsideWindow() {
	user := s.signup("friend")
	p := s.payment(user, 999, s.now.Add(31*24*time.Hour))

	commission, err := s.svc.AccrueCommission(context.Background(), s.db, p)
	s.Require().NoError(err)
	s.Nil(commission)
}

func (s *AffiliatesTestSuite) TestAccrueCommissionWithoutReferral() {
	user := testutil.CreateUser(s.T(), s.db, "organic", models.RoleViewer)
	p := s.payment(user, 500, s.now)

	commission, err := s.svc.AccrueCommission(context.Background(), s.db, p)
	s.Require().NoError(err)
	s.Nil(commission)
}

func (s *AffiliatesTestSuite) TestApproveAndCancel() {
	user := s.signup("friend")
	first, err := s.svc.AccrueCommission(context.Background(), s.db, s.payment(user, 1000, s.now.Add(time.Hour)))
	s.Require().NoError(err)
	second, err := s.svc.AccrueCommission(context.Background(), s.db, s.payment(user, 1000, s.now.Add(2*time.Hour)))
	s.Require().NoError(err)

	approved, err := s.svc.Approve(context.Background(), first.ID)
	s.Require().NoError(err)
	s.Equal(models.CommissionApproved, approved.Status)
	s.NotNil(approved.ApprovedAt)

	_, err = s.svc.Approve(context.Background(), first.ID)
	s.ErrorIs(err, ErrInvalidTransition)

	canceled, err := s.svc.Cancel(context.Background(), second.ID)
	s.Require().NoError(err)
	s.Equal(models.CommissionCanceled, canceled.Status)

	periodID := "00000000-0000-0000-0000-0000000000aa"
	s.Require().NoError(s.db.Model(&models.AffiliateCommission{}).Where("id = ?", first.ID).
		Update("earnings_period_id", periodID).Error)
	_, err = s.svc.Cancel(context.Background(), first.ID)
	s.ErrorIs(err, ErrCommissionAttached)

	_, err = s.svc.Approve(context.Background(), "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, ErrCommissionNotFound)
}

func (s *AffiliatesTestSuite) TestDashboard() {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.svc.TrackClick(ctx, ClickInput{Code: s.referrer.ReferralCode, IP: "198.51.100.1"})
		s.Require().NoError(err)
	}
	converted := s.signup("paying")
	s.signup("browsing")

	c1, err := s.svc.AccrueCommission(ctx, s.db, s.payment(converted, 1000, s.now.Add(time.Hour)))
	s.Require().NoError(err)
	_, err = s.svc.AccrueCommission(ctx, s.db, s.payment(converted, 500, s.now.Add(2*time.Hour)))
	s.Require().NoError(err)
	_, err = s.svc.Approve(ctx, c1.ID)
	s.Require().NoError(err)

	d, err := s.svc.GetDashboard(ctx, s.referrer)
	s.Require().NoError(err)
	s.Equal(s.referrer.ReferralCode, d.ReferralCode)
	s.Equal(int64(4), d.Clicks)
	s.Equal(int64(2), d.Signups)
	s.Equal(int64(1), d.Conversions)
	s.InDelta(0.5, d.ConversionRate, 0.0001)
	s.Equal(int64(100), d.PendingCents)
	s.Equal(int64(200), d.ApprovedCents)
	s.Zero(d.PaidCents)

	list, total, err := s.svc.ListCommissions(ctx, s.referrer.ID, models.CommissionApproved, 10, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Len(list, 1)

	referrals, err := s.svc.ListReferrals(ctx, s.referrer.ID, 10, 0)
	s.Require().NoError(err)
	s.Len(referrals, 2)
}

func TestHashIsSaltedAndStable(t *testing.T) {
	a := NewService(nil, config.AffiliatesConfig{}, "one")
	b := NewService(nil, config.AffiliatesConfig{}, "two")

	assert.Equal(t, a.hash("1.2.3.4"), a.hash("1.2.3.4"))
	assert.NotEqual(t, a.hash("1.2.3.4"), b.hash("1.2.3.4"))
	assert.Empty(t, a.hash(""))
}

func TestDefaults(t *testing.T) {
	svc := NewService(nil, config.AffiliatesConfig{}, "")
	require.Equal(t, 30*24*time.Hour, svc.CookieTTL())
	require.Equal(t, "/", svc.LandingPath())
}
