// Package billing runs creator subscriptions on Stripe: plans, checkout,
// cancellation and the webhook that keeps local state in step with Stripe.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zfogg/vidlayer/internal/config"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MinimumPriceCents is the smallest plan price Stripe will charge
const MinimumPriceCents = 50

// CommissionAccruer credits affiliate commission for a payment inside the
// transaction that records it
type CommissionAccruer interface {
	AccrueCommission(ctx context.Context, tx *gorm.DB, payment *models.SubscriptionPayment) (*models.AffiliateCommission, error)
}

// Service implements subscription plans and checkout
type Service struct {
	db         *gorm.DB
	gateway    Gateway
	cfg        config.StripeConfig
	currency   string
	affiliates CommissionAccruer
	now        func() time.Time
}

// NewService creates the billing service. gateway is nil when Stripe is not
// configured, in which case paid operations return 503.
func NewService(db *gorm.DB, gateway Gateway, cfg config.StripeConfig, currency string) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{db: db, gateway: gateway, cfg: cfg, currency: strings.ToLower(currency), now: time.Now}
}

// SetCommissionAccruer connects the affiliate program
func (s *Service) SetCommissionAccruer(a CommissionAccruer) {
	s.affiliates = a
}

// Gateway exposes the Stripe client for Connect payouts
func (s *Service) Gateway() Gateway {
	return s.gateway
}

func (s *Service) requireGateway() error {
	if s.gateway == nil {
		return apierrors.ServiceUnavailable("payments")
	}
	return nil
}

// PlanInput creates a plan
type PlanInput struct {
	Name        string                 `json:"name" binding:"required,max=100"`
	Description string                 `json:"description" binding:"max=1000"`
	PriceCents  int64                  `json:"price_cents" binding:"required"`
	Currency    string                 `json:"currency" binding:"omitempty,len=3"`
	Interval    models.BillingInterval `json:"interval"`
}

// CreatePlan creates a Stripe price and the local plan
func (s *Service) CreatePlan(ctx context.Context, creator *models.User, in PlanInput) (*models.SubscriptionPlan, error) {
	if !creator.IsCreator() {
		return nil, apierrors.Forbidden("only creators can offer subscriptions")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierrors.ValidationError("name", "name is required")
	}
	if in.PriceCents < MinimumPriceCents {
		return nil, apierrors.ValidationError("price_cents", fmt.Sprintf("price must be at least %d cents", MinimumPriceCents))
	}
	interval := in.Interval
	if interval == "" {
		interval = models.IntervalMonth
	}
	if interval != models.IntervalMonth && interval != models.IntervalYear {
		return nil, apierrors.ValidationError("interval", "interval must be month or year")
	}
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = s.currency
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}

	priceID, err := s.gateway.CreatePrice(ctx, PriceRequest{
		PlanName:    name,
		CreatorID:   creator.ID,
		AmountCents: in.PriceCents,
		Currency:    currency,
		Interval:    string(interval),
	})
	if err != nil {
		return nil, apierrors.ServiceUnavailable("payments").Wrap(err)
	}

	plan := &models.SubscriptionPlan{
		CreatorID:     creator.ID,
		Name:          name,
		Description:   strings.TrimSpace(in.Description),
		PriceCents:    in.PriceCents,
		Currency:      currency,
		Interval:      interval,
		StripePriceID: priceID,
		Active:        true,
	}
	if err := s.db.WithContext(ctx).Create(plan).Error; err != nil {
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}

	logger.Log.Info("Subscription plan created",
		logger.WithCreatorID(creator.ID),
		zap.String("plan_id", plan.ID),
		logger.WithCents("price_cents", plan.PriceCents),
	)
	return plan, nil
}

// ListPlans returns a creator's plans, cheapest first
func (s *Service) ListPlans(ctx context.Context, creatorID string, includeInactive bool) ([]models.SubscriptionPlan, error) {
	query := s.db.WithContext(ctx).Where("creator_id = ?", creatorID)
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	var plans []models.SubscriptionPlan
	err := query.Order("price_cents ASC").Find(&plans).Error
	return plans, err
}

// DeactivatePlan stops new sign-ups. Existing subscriptions keep renewing.
func (s *Service) DeactivatePlan(ctx context.Context, user *models.User, planID string) (*models.SubscriptionPlan, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.CreatorID != user.ID && !user.IsAdmin {
		return nil, apierrors.Forbidden("you do not own this plan")
	}
	if !plan.Active {
		return plan, nil
	}
	if s.gateway != nil && plan.StripePriceID != "" {
		if err := s.gateway.DeactivatePrice(ctx, plan.StripePriceID); err != nil {
			return nil, apierrors.ServiceUnavailable("payments").Wrap(err)
		}
	}
	if err := s.db.WithContext(ctx).Model(plan).Update("active", false).Error; err != nil {
		return nil, err
	}
	return plan, nil
}

// CheckoutResult is returned from Subscribe
type CheckoutResult struct {
	Subscription *models.Subscription `json:"subscription"`
	CheckoutURL  string               `json:"checkout_url"`
}

// Subscribe starts Stripe Checkout for a plan. The subscription stays
// incomplete until the checkout webhook arrives.
func (s *Service) Subscribe(ctx context.Context, subscriber *models.User, planID string) (*CheckoutResult, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, apierrors.BadRequest("this plan is no longer available")
	}
	if plan.CreatorID == subscriber.ID {
		return nil, apierrors.BadRequest("you cannot subscribe to yourself")
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}

	active, err := s.HasActiveSubscription(ctx, subscriber.ID, plan.CreatorID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, apierrors.AlreadyExists("subscription")
	}

	customerID, err := s.ensureCustomer(ctx, subscriber)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		PlanID:       plan.ID,
		SubscriberID: subscriber.ID,
		CreatorID:    plan.CreatorID,
		Status:       models.SubscriptionIncomplete,
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID:     customerID,
		PriceID:        plan.StripePriceID,
		SubscriptionID: sub.ID,
		SuccessURL:     s.cfg.CheckoutSuccessURL,
		CancelURL:      s.cfg.CheckoutCancelURL,
	})
	if err != nil {
		return nil, apierrors.ServiceUnavailable("payments").Wrap(err)
	}

	sub.StripeCheckoutSessionID = session.ID
	if err := s.db.WithContext(ctx).Model(sub).Update("stripe_checkout_session_id", session.ID).Error; err != nil {
		return nil, err
	}
	sub.Plan = plan

	return &CheckoutResult{Subscription: sub, CheckoutURL: session.URL}, nil
}

func (s *Service) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}
	customerID, err := s.gateway.CreateCustomer(ctx, user.ID, user.Email, user.DisplayName)
	if err != nil {
		return "", apierrors.ServiceUnavailable("payments").Wrap(err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("stripe_customer_id", customerID).Error; err != nil {
		return "", err
	}
	user.StripeCustomerID = &customerID
	return customerID, nil
}

// Cancel ends a subscription at Stripe. Access continues until the end of
// the paid period.
func (s *Service) Cancel(ctx context.Context, user *models.User, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Preload("Plan").First(&sub, "id = ?", subscriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("subscription")
	}
	if err != nil {
		return nil, err
	}
	if sub.SubscriberID != user.ID && !user.IsAdmin {
		return nil, apierrors.Forbidden("you do not own this subscription")
	}
	if sub.Status == models.SubscriptionCanceled {
		return &sub, nil
	}

	if sub.StripeSubscriptionID != nil {
		if err := s.requireGateway(); err != nil {
			return nil, err
		}
		if err := s.gateway.CancelSubscription(ctx, *sub.StripeSubscriptionID); err != nil {
			return nil, apierrors.ServiceUnavailable("payments").Wrap(err)
		}
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&sub).Updates(map[string]interface{}{
		"status":      models.SubscriptionCanceled,
		"canceled_at": now,
	}).Error; err != nil {
		return nil, err
	}

	logger.Log.Info("Subscription canceled",
		zap.String("subscription_id", sub.ID),
		logger.WithUserID(user.ID),
	)
	return &sub, nil
}

// ListMine returns the user's subscriptions with their plans
func (s *Service) ListMine(ctx context.Context, subscriberID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Preload("Plan").
		Where("subscriber_id = ? AND status <> ?", subscriberID, models.SubscriptionIncomplete).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

// ListSubscribers returns a creator's currently paying subscriptions
func (s *Service) ListSubscribers(ctx context.Context, creatorID string, limit, offset int) ([]models.Subscription, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("creator_id = ? AND status IN ?", creatorID,
			[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionPastDue})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var subs []models.Subscription
	err := query.Preload("Plan").Order("created_at DESC").Limit(limit).Offset(offset).Find(&subs).Error
	return subs, total, err
}

// HasActiveSubscription reports whether subscriber currently has access to
// creator's subscriber-only videos
func (s *Service) HasActiveSubscription(ctx context.Context, subscriberID, creatorID string) (bool, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("subscriber_id = ? AND creator_id = ? AND status IN ?", subscriberID, creatorID,
			[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionCanceled}).
		Find(&subs).Error
	if err != nil {
		return false, err
	}
	now := s.now()
	for i := range subs {
		if subs[i].IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) loadPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := s.db.WithContext(ctx).First(&plan, "id = ?", planID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("plan")
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
