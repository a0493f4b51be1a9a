// Package affiliates tracks referral links, attributes sign-ups to the
// referrer and accrues commission on referred users' subscription payments.
package affiliates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidCode        = errors.New("referral code not found")
	ErrSelfReferral       = errors.New("cannot refer yourself")
	ErrAlreadyReferred    = errors.New("user already has a referrer")
	ErrCommissionNotFound = errors.New("commission not found")
	ErrInvalidTransition  = errors.New("commission cannot change to that status")
	ErrCommissionAttached = errors.New("commission already belongs to an earnings period")
)

// CookieName holds the referral code between the click and sign-up
const CookieName = "vl_ref"

// Service is the affiliate program
type Service struct {
	db   *gorm.DB
	cfg  config.AffiliatesConfig
	salt string
	now  func() time.Time
}

// NewService creates the affiliate service. salt keys the IP and user agent hashes.
func NewService(db *gorm.DB, cfg config.AffiliatesConfig, salt string) *Service {
	return &Service{db: db, cfg: cfg, salt: salt, now: time.Now}
}

// CookieTTL is how long a click's referral cookie lives
func (s *Service) CookieTTL() time.Duration {
	if s.cfg.CookieTTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.cfg.CookieTTL
}

// LandingPath is where referral links redirect
func (s *Service) LandingPath() string {
	if s.cfg.LandingPath == "" {
		return "/"
	}
	return s.cfg.LandingPath
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) hash(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s.salt + ":" + value))
	return hex.EncodeToString(sum[:])
}

// ResolveCode returns the user who owns code
func (s *Service) ResolveCode(ctx context.Context, code string) (*models.User, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	var referrer models.User
	err := s.db.WithContext(ctx).Where("referral_code = ?", code).First(&referrer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	return &referrer, nil
}

// ClickInput describes a visit through a referral link
type ClickInput struct {
	Code      string
	IP        string
	UserAgent string
	Referer   string
}

// TrackClick records a referral link visit
func (s *Service) TrackClick(ctx context.Context, in ClickInput) (*models.AffiliateClick, error) {
	referrer, err := s.ResolveCode(ctx, in.Code)
	if err != nil {
		return nil, err
	}

	click := &models.AffiliateClick{
		ReferrerID:    referrer.ID,
		Code:          referrer.ReferralCode,
		IPHash:        s.hash(in.IP),
		UserAgentHash: s.hash(in.UserAgent),
		LandingPath:   s.LandingPath(),
		Referer:       truncate(in.Referer, 2000),
	}
	if err := s.db.WithContext(ctx).Create(click).Error; err != nil {
		return nil, fmt.Errorf("failed to record click: %w", err)
	}

	metrics.Get().AffiliateClicksTotal.Inc()
	return click, nil
}

// RecordSignup attributes referred to the owner of code. Self-referrals are
// ignored and a user can only ever have one referrer.
func (s *Service) RecordSignup(ctx context.Context, referred *models.User, code string) error {
	referrer, err := s.ResolveCode(ctx, code)
	if err != nil {
		return err
	}
	if referrer.ID == referred.ID {
		return ErrSelfReferral
	}

	signedUp := referred.CreatedAt
	if signedUp.IsZero() {
		signedUp = s.now().UTC()
	}
	window := s.cfg.CommissionWindow
	if window <= 0 {
		window = 365 * 24 * time.Hour
	}

	referral := &models.AffiliateReferral{
		ReferrerID:     referrer.ID,
		ReferredUserID: referred.ID,
		Code:           referrer.ReferralCode,
		CommissionEnds: signedUp.Add(window),
	}
	if err := s.db.WithContext(ctx).Create(referral).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyReferred
		}
		return fmt.Errorf("failed to create referral: %w", err)
	}

	logger.Log.Info("Referral recorded",
		zap.String("referrer_id", referrer.ID),
		logger.WithUserID(referred.ID),
	)
	return nil
}

// AccrueCommission credits the referrer of payment's subscriber. It must run
// inside the transaction that stores the payment. It returns nil without
// error when the subscriber was not referred or the window has closed, and
// the existing commission when the payment was already credited.
func (s *Service) AccrueCommission(ctx context.Context, tx *gorm.DB, payment *models.SubscriptionPayment) (*models.AffiliateCommission, error) {
	tx = tx.WithContext(ctx)

	var referral models.AffiliateReferral
	err := tx.Where("referred_user_id = ? AND status <> ?", payment.SubscriberID, models.ReferralCanceled).
		First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !payment.PaidAt.Before(referral.CommissionEnds) {
		return nil, nil
	}

	var existing models.AffiliateCommission
	err = tx.Where("payment_id = ?", payment.ID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	rate := s.cfg.CommissionRate
	amount := decimal.NewFromInt(payment.AmountCents).
		Mul(decimal.NewFromFloat(rate)).
		Floor().
		IntPart()
	if amount <= 0 {
		return nil, nil
	}

	commission := &models.AffiliateCommission{
		ReferralID:      referral.ID,
		ReferrerID:      referral.ReferrerID,
		PaymentID:       payment.ID,
		BaseAmountCents: payment.AmountCents,
		Rate:            rate,
		AmountCents:     amount,
		Currency:        payment.Currency,
		Status:          models.CommissionPending,
	}
	if err := tx.Create(commission).Error; err != nil {
		return nil, fmt.Errorf("failed to create commission: %w", err)
	}

	if referral.Status == models.ReferralPending {
		now := s.now().UTC()
		if err := tx.Model(&referral).Updates(map[string]interface{}{
			"status":       models.ReferralConverted,
			"converted_at": now,
		}).Error; err != nil {
			return nil, fmt.Errorf("failed to convert referral: %w", err)
		}
	}

	metrics.Get().CommissionsAccruedCents.Add(float64(amount))
	logger.Log.Info("Commission accrued",
		zap.String("referrer_id", referral.ReferrerID),
		zap.String("payment_id", payment.ID),
		logger.WithCents("amount_cents", amount),
	)
	return commission, nil
}

// Approve makes a pending commission payable in the referrer's next
// earnings calculation
func (s *Service) Approve(ctx context.Context, commissionID string) (*models.AffiliateCommission, error) {
	return s.transition(ctx, commissionID, func(c *models.AffiliateCommission) (map[string]interface{}, error) {
		if c.Status != models.CommissionPending {
			return nil, ErrInvalidTransition
		}
		return map[string]interface{}{
			"status":      models.CommissionApproved,
			"approved_at": s.now().UTC(),
		}, nil
	})
}

// Cancel voids a commission that has not been counted in earnings yet
func (s *Service) Cancel(ctx context.Context, commissionID string) (*models.AffiliateCommission, error) {
	return s.transition(ctx, commissionID, func(c *models.AffiliateCommission) (map[string]interface{}, error) {
		if c.Status != models.CommissionPending && c.Status != models.CommissionApproved {
			return nil, ErrInvalidTransition
		}
		if c.EarningsPeriodID != nil {
			return nil, ErrCommissionAttached
		}
		return map[string]interface{}{"status": models.CommissionCanceled}, nil
	})
}

func (s *Service) transition(ctx context.Context, id string, next func(*models.AffiliateCommission) (map[string]interface{}, error)) (*models.AffiliateCommission, error) {
	var commission models.AffiliateCommission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&commission, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCommissionNotFound
			}
			return err
		}
		updates, err := next(&commission)
		if err != nil {
			return err
		}
		return tx.Model(&commission).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// Dashboard summarises a referrer's program performance
type Dashboard struct {
	ReferralCode   string  `json:"referral_code"`
	Clicks         int64   `json:"clicks"`
	Signups        int64   `json:"signups"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	PendingCents   int64   `json:"pending_cents"`
	ApprovedCents  int64   `json:"approved_cents"`
	PaidCents      int64   `json:"paid_cents"`
}

// GetDashboard computes the dashboard for referrer
func (s *Service) GetDashboard(ctx context.Context, referrer *models.User) (*Dashboard, error) {
	db := s.db.WithContext(ctx)
	d := &Dashboard{ReferralCode: referrer.ReferralCode}

	if err := db.Model(&models.AffiliateClick{}).Where("referrer_id = ?", referrer.ID).Count(&d.Clicks).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.AffiliateReferral{}).Where("referrer_id = ?", referrer.ID).Count(&d.Signups).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.AffiliateReferral{}).
		Where("referrer_id = ? AND status = ?", referrer.ID, models.ReferralConverted).
		Count(&d.Conversions).Error; err != nil {
		return nil, err
	}
	if d.Signups > 0 {
		d.ConversionRate = float64(d.Conversions) / float64(d.Signups)
	}

	var totals []struct {
		Status models.CommissionStatus
		Total  int64
	}
	err := db.Model(&models.AffiliateCommission{}).
		Select("status, COALESCE(SUM(amount_cents), 0) AS total").
		Where("referrer_id = ?", referrer.ID).
		Group("status").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	for _, t := range totals {
		switch t.Status {
		case models.CommissionPending:
			d.PendingCents = t.Total
		case models.CommissionApproved:
			d.ApprovedCents = t.Total
		case models.CommissionPaid:
			d.PaidCents = t.Total
		}
	}
	return d, nil
}

// ListCommissions returns a referrer's commissions, newest first. An empty
// status lists all of them.
func (s *Service) ListCommissions(ctx context.Context, referrerID string, status models.CommissionStatus, limit, offset int) ([]models.AffiliateCommission, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AffiliateCommission{})
	if referrerID != "" {
		query = query.Where("referrer_id = ?", referrerID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var commissions []models.AffiliateCommission
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&commissions).Error
	return commissions, total, err
}

// ListReferrals returns the users a referrer brought in
func (s *Service) ListReferrals(ctx context.Context, referrerID string, limit, offset int) ([]models.AffiliateReferral, error) {
	var referrals []models.AffiliateReferral
	err := s.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&referrals).Error
	return referrals, err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
