package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v76"
	"github.com/zfogg/vidlayer/internal/affiliates"
	"github.com/zfogg/vidlayer/internal/config"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
	"gorm.io/gorm"
)

type fakeGateway struct {
	prices      []PriceRequest
	deactivated []string
	customers   int
	checkouts   []CheckoutRequest
	canceled    []string
	fail        error
}

func (f *fakeGateway) CreatePrice(ctx context.Context, req PriceRequest) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.prices = append(f.prices, req)
	return fmt.Sprintf("price_%d", len(f.prices)), nil
}

func (f *fakeGateway) DeactivatePrice(ctx context.Context, priceID string) error {
	f.deactivated = append(f.deactivated, priceID)
	return f.fail
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	f.customers++
	return "cus_" + userID, f.fail
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.checkouts = append(f.checkouts, req)
	id := fmt.Sprintf("cs_%d", len(f.checkouts))
	return &CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, id string) error {
	f.canceled = append(f.canceled, id)
	return f.fail
}

func (f *fakeGateway) CreateConnectAccount(ctx context.Context, creatorID, email string) (string, error) {
	return "acct_" + creatorID, f.fail
}

func (f *fakeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return "https://connect.stripe.test/" + accountID, f.fail
}

func (f *fakeGateway) CreateTransfer(ctx context.Context, accountID string, amountCents int64, currency, key string) (string, error) {
	return "tr_" + key, f.fail
}

func (f *fakeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	var event stripe.Event
	if signature != "valid" {
		return event, errors.New("bad signature")
	}
	err := json.Unmarshal(payload, &event)
	return event, err
}

func eventPayload(t *testing.T, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":     "evt_" + eventType,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

type BillingTestSuite struct {
	suite.Suite
	db         *gorm.DB
	gateway    *fakeGateway
	svc        *Service
	affiliates *affiliates.Service
	creator    *models.User
	fan        *models.User
	now        time.Time
}

func (s *BillingTestSuite) SetupTest() {
	s.db = testutil.NewTestDB(s.T())
	s.gateway = &fakeGateway{}
	s.svc = NewService(s.db, s.gateway, config.StripeConfig{
		SecretKey:          "sk_test",
		CheckoutSuccessURL: "https://vidlayer.test/billing/success",
		CheckoutCancelURL:  "https://vidlayer.test/billing/cancel",
	}, "USD")
	s.now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	s.svc.now = func() time.Time { return s.now }

	s.affiliates = affiliates.NewService(s.db, config.AffiliatesConfig{
		CommissionRate:   0.25,
		CommissionWindow: 365 * 24 * time.Hour,
	}, "salt")
	s.svc.SetCommissionAccruer(s.affiliates)

	s.creator = testutil.CreateUser(s.T(), s.db, "streamer", models.RoleCreator)
	s.fan = testutil.CreateUser(s.T(), s.db, "fan", models.RoleViewer)
}

func TestBillingSuite(t *testing.T) {
	suite.Run(t, new(BillingTestSuite))
}

func (s *BillingTestSuite) plan() *models.SubscriptionPlan {
	plan, err := s.svc.CreatePlan(context.Background(), s.creator, PlanInput{Name: "Supporter", PriceCents: 500})
	s.Require().NoError(err)
	return plan
}

// activate runs checkout and the completion webhook for the fan
func (s *BillingTestSuite) activate(plan *models.SubscriptionPlan) *models.Subscription {
	ctx := context.Background()
	res, err := s.svc.Subscribe(ctx, s.fan, plan.ID)
	s.Require().NoError(err)

	payload := eventPayload(s.T(), "checkout.session.completed", map[string]interface{}{
		"id":                  res.Subscription.StripeCheckoutSessionID,
		"object":              "checkout.session",
		"client_reference_id": res.Subscription.ID,
		"subscription":        "sub_" + res.Subscription.ID[:8],
	})
	s.Require().NoError(s.svc.HandleWebhook(ctx, payload, "valid"))

	var sub models.Subscription
	s.Require().NoError(s.db.First(&sub, "id = ?", res.Subscription.ID).Error)
	return &sub
}

func (s *BillingTestSuite) invoice(sub *models.Subscription, id string, amount int64, periodEnd time.Time) []byte {
	return eventPayload(s.T(), "invoice.paid", map[string]interface{}{
		"id":           id,
		"object":       "invoice",
		"subscription": *sub.StripeSubscriptionID,
		"amount_paid":  amount,
		"currency":     "usd",
		"status_transitions": map[string]interface{}{
			"paid_at": s.now.Unix(),
		},
		"lines": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"id": "il_1", "object": "line_item", "period": map[string]interface{}{
					"start": s.now.Unix(),
					"end":   periodEnd.Unix(),
				}},
			},
		},
	})
}

func (s *BillingTestSuite) TestCreatePlan() {
	plan := s.plan()
	s.Equal("usd", plan.Currency)
	s.Equal(models.IntervalMonth, plan.Interval)
	s.Equal("price_1", plan.StripePriceID)
	s.True(plan.Active)
	s.Equal(s.creator.ID, s.gateway.prices[0].CreatorID)

	_, err := s.svc.CreatePlan(context.Background(), s.fan, PlanInput{Name: "x", PriceCents: 500})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)

	_, err = s.svc.CreatePlan(context.Background(), s.creator, PlanInput{Name: "x", PriceCents: 10})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)

	_, err = s.svc.CreatePlan(context.Background(), s.creator, PlanInput{Name: "x", PriceCents: 500, Interval: "week"})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrValidation)
}

func (s *BillingTestSuite) TestDeactivatePlan() {
	plan := s.plan()
	_, err := s.svc.DeactivatePlan(context.Background(), s.fan, plan.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)

	_, err = s.svc.DeactivatePlan(context.Background(), s.creator, plan.ID)
	s.Require().NoError(err)
	s.Equal([]string{"price_1"}, s.gateway.deactivated)

	active, err := s.svc.ListPlans(context.Background(), s.creator.ID, false)
	s.Require().NoError(err)
	s.Empty(active)
	all, err := s.svc.ListPlans(context.Background(), s.creator.ID, true)
	s.Require().NoError(err)
	s.Len(all, 1)

	_, err = s.svc.Subscribe(context.Background(), s.fan, plan.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrBadRequest)
}

func (s *BillingTestSuite) TestSubscribeCreatesCheckout() {
	plan := s.plan()
	res, err := s.svc.Subscribe(context.Background(), s.fan, plan.ID)
	s.Require().NoError(err)

	s.Equal(models.SubscriptionIncomplete, res.Subscription.Status)
	s.Equal("https://checkout.stripe.test/cs_1", res.CheckoutURL)
	s.Require().Len(s.gateway.checkouts, 1)
	s.Equal(res.Subscription.ID, s.gateway.checkouts[0].SubscriptionID)
	s.Equal("cus_"+s.fan.ID, s.gateway.checkouts[0].CustomerID)

	var fan models.User
	s.Require().NoError(s.db.First(&fan, "id = ?", s.fan.ID).Error)
	s.Require().NotNil(fan.StripeCustomerID)

	// A second checkout reuses the customer
	_, err = s.svc.Subscribe(context.Background(), s.fan, plan.ID)
	s.Require().NoError(err)
	s.Equal(1, s.gateway.customers)

	_, err = s.svc.Subscribe(context.Background(), s.creator, plan.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrBadRequest)
}

func (s *BillingTestSuite) TestCheckoutCompletedActivates() {
	sub := s.activate(s.plan())
	s.Equal(models.SubscriptionActive, sub.Status)
	s.Require().NotNil(sub.StripeSubscriptionID)

	ok, err := s.svc.HasActiveSubscription(context.Background(), s.fan.ID, s.creator.ID)
	s.Require().NoError(err)
	s.True(ok)

	_, err = s.svc.Subscribe(context.Background(), s.fan, sub.PlanID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrAlreadyExists)
}

func (s *BillingTestSuite) TestInvoicePaidRecordsPaymentOnce() {
	ctx := context.Background()
	referrer := testutil.CreateUser(s.T(), s.db, "promoter", models.RoleCreator)
	s.fan.CreatedAt = s.now
	s.Require().NoError(s.affiliates.RecordSignup(ctx, s.fan, referrer.ReferralCode))

	sub := s.activate(s.plan())
	periodEnd := s.now.AddDate(0, 1, 0)
	payload := s.invoice(sub, "in_1", 500, periodEnd)

	s.Require().NoError(s.svc.HandleWebhook(ctx, payload, "valid"))
	s.Require().NoError(s.svc.HandleWebhook(ctx, payload, "valid"))

	var payments []models.SubscriptionPayment
	s.Require().NoError(s.db.Find(&payments).Error)
	s.Require().Len(payments, 1)
	s.Equal(int64(500), payments[0].AmountCents)
	s.Equal(s.creator.ID, payments[0].CreatorID)
	s.True(payments[0].PaidAt.Equal(s.now))

	var stored models.Subscription
	s.Require().NoError(s.db.First(&stored, "id = ?", sub.ID).Error)
	s.Require().NotNil(stored.CurrentPeriodEnd)
	s.True(stored.CurrentPeriodEnd.Equal(periodEnd))

	var commissions []models.AffiliateCommission
	s.Require().NoError(s.db.Find(&commissions).Error)
	s.Require().Len(commissions, 1)
	s.Equal(int64(125), commissions[0].AmountCents)
	s.Equal(referrer.ID, commissions[0].ReferrerID)
}

func (s *BillingTestSuite) TestInvoiceBeforeCheckoutIsRetried() {
	sub := &models.Subscription{StripeSubscriptionID: func() *string { v := "sub_unknown"; return &v }()}
	err := s.svc.HandleWebhook(context.Background(), s.invoice(sub, "in_x", 500, s.now), "valid")
	s.ErrorIs(err, ErrSubscriptionNotLinked)
}

func (s *BillingTestSuite) TestPaymentFailedAndDeleted() {
	ctx := context.Background()
	sub := s.activate(s.plan())
	stripeID := *sub.StripeSubscriptionID

	s.Require().NoError(s.svc.HandleWebhook(ctx, eventPayload(s.T(), "invoice.payment_failed", map[string]interface{}{
		"id": "in_f", "object": "invoice", "subscription": stripeID,
	}), "valid"))
	var stored models.Subscription
	s.Require().NoError(s.db.First(&stored, "id = ?", sub.ID).Error)
	s.Equal(models.SubscriptionPastDue, stored.Status)

	ok, err := s.svc.HasActiveSubscription(ctx, s.fan.ID, s.creator.ID)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.svc.HandleWebhook(ctx, eventPayload(s.T(), "customer.subscription.deleted", map[string]interface{}{
		"id": stripeID, "object": "subscription", "status": "canceled",
	}), "valid"))
	s.Require().NoError(s.db.First(&stored, "id = ?", sub.ID).Error)
	s.Equal(models.SubscriptionCanceled, stored.Status)
	s.NotNil(stored.CanceledAt)
}

func (s *BillingTestSuite) TestCancelKeepsPaidThroughAccess() {
	ctx := context.Background()
	sub := s.activate(s.plan())
	s.Require().NoError(s.svc.HandleWebhook(ctx, s.invoice(sub, "in_1", 500, s.now.AddDate(0, 1, 0)), "valid"))

	stranger := testutil.CreateUser(s.T(), s.db, "stranger", models.RoleViewer)
	_, err := s.svc.Cancel(ctx, stranger, sub.ID)
	testutil.RequireAPIError(s.T(), err, apierrors.ErrForbidden)

	canceled, err := s.svc.Cancel(ctx, s.fan, sub.ID)
	s.Require().NoError(err)
	s.Equal([]string{*sub.StripeSubscriptionID}, s.gateway.canceled)

	var stored models.Subscription
	s.Require().NoError(s.db.First(&stored, "id = ?", canceled.ID).Error)
	s.Equal(models.SubscriptionCanceled, stored.Status)

	ok, err := s.svc.HasActiveSubscription(ctx, s.fan.ID, s.creator.ID)
	s.Require().NoError(err)
	s.True(ok, "paid-through access survives cancellation")

	s.now = s.now.AddDate(0, 2, 0)
	ok, err = s.svc.HasActiveSubscription(ctx, s.fan.ID, s.creator.ID)
	s.Require().NoError(err)
	s.False(ok)

	mine, err := s.svc.ListMine(ctx, s.fan.ID)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.NotNil(mine[0].Plan)
}

func (s *BillingTestSuite) TestAccountUpdatedVerifiesPayoutAccount() {
	acct := "acct_123"
	account := &models.PayoutAccount{CreatorID: s.creator.ID, Method: models.PayoutStripeConnect, StripeAccountID: &acct}
	s.Require().NoError(s.db.Create(account).Error)

	s.Require().NoError(s.svc.HandleWebhook(context.Background(), eventPayload(s.T(), "account.updated", map[string]interface{}{
		"id": acct, "object": "account", "payouts_enabled": true,
	}), "valid"))

	var stored models.PayoutAccount
	s.Require().NoError(s.db.First(&stored, "id = ?", account.ID).Error)
	s.True(stored.Verified)
}

func (s *BillingTestSuite) TestWebhookRejectsBadSignature() {
	err := s.svc.HandleWebhook(context.Background(), []byte(`{}`), "forged")
	testutil.RequireAPIError(s.T(), err, apierrors.ErrBadRequest)
}

func (s *BillingTestSuite) TestWebhookIgnoresUnknownEvents() {
	s.NoError(s.svc.HandleWebhook(context.Background(), eventPayload(s.T(), "charge.refunded", map[string]interface{}{"id": "ch_1"}), "valid"))
}

func (s *BillingTestSuite) TestWithoutStripe() {
	svc := NewService(s.db, nil, config.StripeConfig{}, "usd")
	_, err := svc.CreatePlan(context.Background(), s.creator, PlanInput{Name: "x", PriceCents: 500})
	testutil.RequireAPIError(s.T(), err, apierrors.ErrServiceUnavail)
}

func TestStripeGatewayVerifiesSignature(t *testing.T) {
	gateway := NewStripeGateway(config.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_test"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	event, err := gateway.ConstructEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventType("invoice.paid"), event.Type)

	_, err = gateway.ConstructEvent(payload, fmt.Sprintf("t=%d,v1=deadbeef", ts))
	assert.Error(t, err)
}
