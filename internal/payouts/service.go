// Package payouts pays creators their finalized earnings through Stripe
// Connect, PayPal, or manually settled bank and crypto transfers.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zfogg/vidlayer/internal/config"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrBelowThreshold     = errors.New("available earnings are below the payout minimum")
	ErrNoPayoutAccount    = errors.New("no payout account configured")
	ErrAccountNotVerified = errors.New("payout account is not verified")
	ErrAccountInUse       = errors.New("payout account has open payouts")
	ErrPayoutNotFound     = errors.New("payout not found")
	ErrInvalidTransition  = errors.New("payout cannot move to that status")
	ErrMethodUnavailable  = errors.New("payout method is not configured")
)

// openStatuses are payouts that still hold their earnings periods
var openStatuses = []models.PayoutStatus{
	models.PayoutPending,
	models.PayoutProcessing,
	models.PayoutAwaitingManual,
}

// Notifier tells creators how their payouts went. email.Notifier
// implements it.
type Notifier interface {
	PayoutCompleted(ctx context.Context, to string, amountCents int64, currency, method string) error
	PayoutFailed(ctx context.Context, to string, amountCents int64, currency, reason string) error
}

// Options configures the Stripe onboarding redirects and the breaker
type Options struct {
	ConnectReturnURL  string
	ConnectRefreshURL string
	BreakerTimeout    time.Duration
}

// Service manages payout accounts and drives payouts to completion
type Service struct {
	db        *gorm.DB
	cfg       config.PayoutsConfig
	opts      Options
	stripe    StripeConnect
	providers map[models.PayoutMethod]Provider
	notifier  Notifier
	now       func() time.Time
}

// NewService creates the payout service. stripe may be nil when Stripe is
// not configured; Connect accounts are then refused.
func NewService(db *gorm.DB, cfg config.PayoutsConfig, stripe StripeConnect, opts Options) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MinimumCents <= 0 {
		cfg.MinimumCents = 5000
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 15 * time.Minute
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 2 * time.Minute
	}

	s := &Service{
		db:        db,
		cfg:       cfg,
		opts:      opts,
		stripe:    stripe,
		providers: map[models.PayoutMethod]Provider{},
		now:       time.Now,
	}
	if stripe != nil {
		s.RegisterProvider(NewStripeProvider(stripe))
	}
	s.RegisterProvider(NewManualProvider(models.PayoutBankTransfer))
	s.RegisterProvider(NewManualProvider(models.PayoutCrypto))
	return s
}

// RegisterProvider installs the backend for a method. Automated providers
// are wrapped in a circuit breaker.
func (s *Service) RegisterProvider(p Provider) {
	if p.Method().IsManual() {
		s.providers[p.Method()] = p
		return
	}
	s.providers[p.Method()] = withBreaker(p, s.opts.BreakerTimeout)
}

// SetNotifier enables payout emails
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// RequestInput asks for everything currently payable
type RequestInput struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required,max=100"`
	AccountID      string `json:"account_id"`
}

// RequestPayout bundles the creator's finalized, unpaid periods into a
// pending payout. Repeating a request with the same key returns the payout
// it created.
func (s *Service) RequestPayout(ctx context.Context, creator *models.User, in RequestInput) (*models.Payout, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return nil, apierrors.ValidationError("idempotency_key", "idempotency_key is required")
	}
	if existing, err := s.findByKey(ctx, creator.ID, key); err != nil || existing != nil {
		return existing, err
	}

	account, err := s.payoutAccount(ctx, creator.ID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.providers[account.Method]; !ok {
		return nil, ErrMethodUnavailable
	}

	var payout *models.Payout
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var periods []models.EarningsPeriod
		if err := tx.Where("creator_id = ? AND status = ? AND payout_id IS NULL AND total_cents > 0",
			creator.ID, models.EarningsFinalized).
			Order("period_start").Find(&periods).Error; err != nil {
			return err
		}

		var total int64
		ids := make([]string, 0, len(periods))
		currency := ""
		for _, p := range periods {
			total += p.TotalCents
			ids = append(ids, p.ID)
			currency = p.Currency
		}
		if total < s.cfg.MinimumCents {
			return ErrBelowThreshold
		}

		payout = &models.Payout{
			CreatorID:      creator.ID,
			IdempotencyKey: key,
			AccountID:      account.ID,
			Method:         account.Method,
			AmountCents:    total,
			Currency:       currency,
			Status:         models.PayoutPending,
		}
		if err := tx.Create(payout).Error; err != nil {
			return err
		}

		result := tx.Model(&models.EarningsPeriod{}).
			Where("id IN ? AND payout_id IS NULL AND status = ?", ids, models.EarningsFinalized).
			Update("payout_id", payout.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(ids)) {
			// A concurrent request claimed some of these periods
			return apierrors.Conflict("earnings periods")
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return s.findByKey(ctx, creator.ID, key)
	}
	if err != nil {
		return nil, err
	}

	metrics.Get().PayoutsTotal.WithLabelValues(string(payout.Method), string(models.PayoutPending)).Inc()
	logger.Log.Info("Payout requested",
		logger.WithPayoutID(payout.ID),
		logger.WithCreatorID(creator.ID),
		logger.WithCents("amount_cents", payout.AmountCents),
		zap.String("method", string(payout.Method)),
	)
	return payout, nil
}

func (s *Service) findByKey(ctx context.Context, creatorID, key string) (*models.Payout, error) {
	var payout models.Payout
	err := s.db.WithContext(ctx).Where("creator_id = ? AND idempotency_key = ?", creatorID, key).First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (s *Service) payoutAccount(ctx context.Context, creatorID, accountID string) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	query := s.db.WithContext(ctx).Where("creator_id = ?", creatorID)
	if accountID != "" {
		query = query.Where("id = ?", accountID)
	} else {
		query = query.Where("is_default = ?", true)
	}
	err := query.First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPayoutAccount
	}
	if err != nil {
		return nil, err
	}
	if !account.Verified {
		return nil, ErrAccountNotVerified
	}
	return &account, nil
}

// ProcessSummary reports one ProcessPending pass
type ProcessSummary struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Manual    int `json:"manual"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// ProcessPending sends every pending payout that is due, up to the batch
// size. Each payout is claimed with a conditional update so concurrent
// workers never send the same payout.
func (s *Service) ProcessPending(ctx context.Context) (*ProcessSummary, error) {
	now := s.now()
	var due []models.Payout
	err := s.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", models.PayoutPending, now).
		Order("created_at").Limit(s.cfg.BatchSize).Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending payouts: %w", err)
	}

	summary := &ProcessSummary{}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		payout := &due[i]
		claimed := s.db.WithContext(ctx).Model(&models.Payout{}).
			Where("id = ? AND status = ?", payout.ID, models.PayoutPending).
			Updates(map[string]interface{}{"status": models.PayoutProcessing, "updated_at": now})
		if claimed.Error != nil {
			return summary, claimed.Error
		}
		if claimed.RowsAffected == 0 {
			continue
		}
		payout.Status = models.PayoutProcessing
		summary.Processed++

		status, err := s.process(ctx, payout)
		if err != nil {
			logger.Log.Error("Payout processing failed", logger.WithPayoutID(payout.ID), zap.Error(err))
		}
		switch status {
		case models.PayoutCompleted:
			summary.Completed++
		case models.PayoutAwaitingManual:
			summary.Manual++
		case models.PayoutFailed:
			summary.Failed++
		default:
			summary.Retrying++
		}
	}
	return summary, nil
}

// RecoverStuck returns payouts that have been processing longer than the
// configured timeout to the pending queue. A worker that died mid-send
// leaves its payout there; resending is safe because every provider keys
// the transfer on the payout ID.
func (s *Service) RecoverStuck(ctx context.Context) (int, error) {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.Payout{}).
		Where("status = ? AND updated_at < ?", models.PayoutProcessing, now.Add(-s.cfg.StuckAfter)).
		Updates(map[string]interface{}{
			"status":          models.PayoutPending,
			"last_error":      "processing interrupted",
			"next_attempt_at": nil,
			"updated_at":      now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to recover stuck payouts: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.Log.Warn("Recovered stuck payouts",
			zap.Int64("count", result.RowsAffected),
			zap.Duration("stuck_after", s.cfg.StuckAfter),
		)
	}
	return int(result.RowsAffected), nil
}

// process sends a claimed payout and records the outcome. It returns the
// status the payout ended in.
func (s *Service) process(ctx context.Context, payout *models.Payout) (status models.PayoutStatus, err error) {
	ctx, span := telemetry.GetBusinessEvents().TracePayout(ctx, payout.ID, string(payout.Method), payout.AmountCents)
	defer func() { telemetry.EndSpan(span, err) }()

	var account models.PayoutAccount
	if err := s.db.WithContext(ctx).Unscoped().First(&account, "id = ?", payout.AccountID).Error; err != nil {
		return s.recordFailure(ctx, payout, fmt.Errorf("%w: payout account missing", ErrProviderRejected))
	}
	provider, ok := s.providers[payout.Method]
	if !ok {
		return s.recordFailure(ctx, payout, fmt.Errorf("%w: %v", ErrProviderRejected, ErrMethodUnavailable))
	}

	result, sendErr := provider.Send(ctx, payout, &account)
	if sendErr != nil {
		return s.recordFailure(ctx, payout, sendErr)
	}
	if result.Manual {
		return s.markAwaitingManual(ctx, payout)
	}
	return s.complete(ctx, payout, result.Reference, payout.Attempts+1)
}

func (s *Service) markAwaitingManual(ctx context.Context, payout *models.Payout) (models.PayoutStatus, error) {
	err := s.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", payout.ID, models.PayoutProcessing).
		Updates(map[string]interface{}{
			"status":          models.PayoutAwaitingManual,
			"attempts":        payout.Attempts + 1,
			"next_attempt_at": nil,
		}).Error
	if err != nil {
		return models.PayoutProcessing, err
	}
	metrics.Get().PayoutsTotal.WithLabelValues(string(payout.Method), string(models.PayoutAwaitingManual)).Inc()
	return models.PayoutAwaitingManual, nil
}

// backoff doubles from one minute per attempt, capped at an hour
func backoff(attempts int) time.Duration {
	d := time.Minute
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// recordFailure schedules a retry, or fails the payout when the error is
// permanent or the attempts are used up. An open circuit does not use an
// attempt.
func (s *Service) recordFailure(ctx context.Context, payout *models.Payout, sendErr error) (models.PayoutStatus, error) {
	method := string(payout.Method)
	attempts := payout.Attempts + 1
	reason := "transient"
	switch {
	case isOpenCircuit(sendErr):
		reason = "circuit_open"
		attempts = payout.Attempts
	case errors.Is(sendErr, ErrProviderRejected):
		reason = "rejected"
	}
	metrics.Get().PayoutProviderErrors.WithLabelValues(method, reason).Inc()

	if reason == "rejected" || attempts >= s.cfg.MaxAttempts {
		return s.fail(ctx, payout, attempts, sendErr.Error())
	}

	next := s.now().Add(backoff(attempts))
	if reason == "circuit_open" {
		next = s.now().Add(s.opts.BreakerTimeout)
	}
	err := s.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", payout.ID, models.PayoutProcessing).
		Updates(map[string]interface{}{
			"status":          models.PayoutPending,
			"attempts":        attempts,
			"last_error":      truncate(sendErr.Error(), 500),
			"next_attempt_at": next,
		}).Error
	if err != nil {
		return models.PayoutProcessing, err
	}

	logger.Log.Warn("Payout attempt failed, will retry",
		logger.WithPayoutID(payout.ID),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(sendErr),
	)
	return models.PayoutPending, nil
}

// fail ends the payout and releases its periods so the money can be
// requested again
func (s *Service) fail(ctx context.Context, payout *models.Payout, attempts int, reason string) (models.PayoutStatus, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Payout{}).
			Where("id = ? AND status = ?", payout.ID, models.PayoutProcessing).
			Updates(map[string]interface{}{
				"status":          models.PayoutFailed,
				"attempts":        attempts,
				"last_error":      truncate(reason, 500),
				"next_attempt_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return releasePeriods(tx, payout.ID)
	})
	if err != nil {
		return models.PayoutProcessing, err
	}

	metrics.Get().PayoutsTotal.WithLabelValues(string(payout.Method), string(models.PayoutFailed)).Inc()
	logger.Log.Error("Payout failed",
		logger.WithPayoutID(payout.ID),
		zap.Int("attempts", attempts),
		zap.String("reason", reason),
	)
	s.notify(ctx, payout, func(to string) error {
		return s.notifier.PayoutFailed(ctx, to, payout.AmountCents, payout.Currency, reason)
	})
	return models.PayoutFailed, nil
}

func releasePeriods(tx *gorm.DB, payoutID string) error {
	return tx.Model(&models.EarningsPeriod{}).
		Where("payout_id = ? AND status = ?", payoutID, models.EarningsFinalized).
		Update("payout_id", nil).Error
}

// complete settles a payout: its periods become paid and so do the
// affiliate commissions those periods included
func (s *Service) complete(ctx context.Context, payout *models.Payout, reference string, attempts int) (models.PayoutStatus, error) {
	completedAt := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Payout{}).
			Where("id = ? AND status IN ?", payout.ID, []models.PayoutStatus{models.PayoutProcessing, models.PayoutAwaitingManual}).
			Updates(map[string]interface{}{
				"status":             models.PayoutCompleted,
				"provider_reference": reference,
				"attempts":           attempts,
				"completed_at":       completedAt,
				"last_error":         "",
				"next_attempt_at":    nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if err := tx.Model(&models.EarningsPeriod{}).Where("payout_id = ?", payout.ID).
			Update("status", models.EarningsPaid).Error; err != nil {
			return err
		}
		return tx.Model(&models.AffiliateCommission{}).
			Where("status = ? AND earnings_period_id IN (?)", models.CommissionApproved,
				tx.Model(&models.EarningsPeriod{}).Select("id").Where("payout_id = ?", payout.ID)).
			Update("status", models.CommissionPaid).Error
	})
	if err != nil {
		return models.PayoutProcessing, err
	}

	payout.Status = models.PayoutCompleted
	payout.ProviderReference = reference
	payout.CompletedAt = &completedAt

	method := string(payout.Method)
	metrics.Get().PayoutsTotal.WithLabelValues(method, string(models.PayoutCompleted)).Inc()
	metrics.Get().PayoutAmountCents.WithLabelValues(method).Add(float64(payout.AmountCents))
	logger.Log.Info("Payout completed",
		logger.WithPayoutID(payout.ID),
		logger.WithCents("amount_cents", payout.AmountCents),
		zap.String("method", method),
		zap.String("reference", reference),
	)
	s.notify(ctx, payout, func(to string) error {
		return s.notifier.PayoutCompleted(ctx, to, payout.AmountCents, payout.Currency, method)
	})
	return models.PayoutCompleted, nil
}

// notify emails the creator. Failures are logged; they never undo the
// payout state change.
func (s *Service) notify(ctx context.Context, payout *models.Payout, send func(to string) error) {
	if s.notifier == nil {
		return
	}
	var creator models.User
	if err := s.db.WithContext(ctx).Select("id", "email").First(&creator, "id = ?", payout.CreatorID).Error; err != nil {
		logger.Log.Warn("Payout notification skipped", logger.WithPayoutID(payout.ID), zap.Error(err))
		return
	}
	if err := send(creator.Email); err != nil {
		logger.Log.Warn("Payout notification failed", logger.WithPayoutID(payout.ID), zap.Error(err))
	}
}

// ConfirmManual records that an operator settled a bank or crypto payout
func (s *Service) ConfirmManual(ctx context.Context, payoutID, reference string) (*models.Payout, error) {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutAwaitingManual {
		return nil, ErrInvalidTransition
	}
	if strings.TrimSpace(reference) == "" {
		return nil, apierrors.ValidationError("reference", "a transfer reference is required")
	}
	if _, err := s.complete(ctx, payout, strings.TrimSpace(reference), payout.Attempts); err != nil {
		return nil, err
	}
	return s.Get(ctx, payoutID)
}

// Cancel stops a payout that has not been sent and frees its periods
func (s *Service) Cancel(ctx context.Context, payoutID string) (*models.Payout, error) {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Payout{}).
			Where("id = ? AND status IN ?", payout.ID, []models.PayoutStatus{models.PayoutPending, models.PayoutAwaitingManual}).
			Updates(map[string]interface{}{"status": models.PayoutCanceled, "next_attempt_at": nil})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return releasePeriods(tx, payout.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.Get().PayoutsTotal.WithLabelValues(string(payout.Method), string(models.PayoutCanceled)).Inc()
	logger.Log.Info("Payout canceled", logger.WithPayoutID(payout.ID))
	return s.Get(ctx, payoutID)
}

// Get loads a payout with its periods
func (s *Service) Get(ctx context.Context, payoutID string) (*models.Payout, error) {
	var payout models.Payout
	err := s.db.WithContext(ctx).Preload("Periods", func(db *gorm.DB) *gorm.DB {
		return db.Order("period_start")
	}).First(&payout, "id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// GetForCreator loads a payout only if creatorID owns it
func (s *Service) GetForCreator(ctx context.Context, creatorID, payoutID string) (*models.Payout, error) {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.CreatorID != creatorID {
		return nil, ErrPayoutNotFound
	}
	return payout, nil
}

// List returns payouts newest first. An empty creatorID lists everyone's;
// status filters when set.
func (s *Service) List(ctx context.Context, creatorID string, status models.PayoutStatus, limit, offset int) ([]models.Payout, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payout{})
	if creatorID != "" {
		query = query.Where("creator_id = ?", creatorID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var payouts []models.Payout
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&payouts).Error
	return payouts, total, err
}

// truncate caps s at n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
