package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSubscriptionNotLinked is returned when an invoice arrives before the
// checkout event that tells us which subscription it belongs to. The
// webhook answers with a retryable status so Stripe delivers it again.
var ErrSubscriptionNotLinked = errors.New("stripe subscription not linked yet")

// HandleWebhook verifies and applies a Stripe event. Every handler is safe
// to run more than once for the same event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := s.requireGateway(); err != nil {
		return err
	}
	event, err := s.gateway.ConstructEvent(payload, signature)
	if err != nil {
		metrics.Get().StripeWebhooksTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		return apierrors.BadRequest("invalid webhook signature").Wrap(err)
	}
	return s.ApplyEvent(ctx, event)
}

// ApplyEvent dispatches a verified event
func (s *Service) ApplyEvent(ctx context.Context, event stripe.Event) (err error) {
	eventType := string(event.Type)
	ctx, span := telemetry.GetBusinessEvents().TraceWebhook(ctx, "stripe", eventType)
	defer func() { telemetry.EndSpan(span, err) }()

	if event.Data == nil {
		return apierrors.BadRequest("event has no data")
	}
	raw := event.Data.Raw

	switch eventType {
	case "checkout.session.completed":
		err = s.onCheckoutCompleted(ctx, raw)
	case "invoice.paid":
		err = s.onInvoicePaid(ctx, raw)
	case "invoice.payment_failed":
		err = s.onInvoiceFailed(ctx, raw)
	case "customer.subscription.updated":
		err = s.onSubscriptionUpdated(ctx, raw)
	case "customer.subscription.deleted":
		err = s.onSubscriptionDeleted(ctx, raw)
	case "account.updated":
		err = s.onAccountUpdated(ctx, raw)
	default:
		metrics.Get().StripeWebhooksTotal.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	status := "ok"
	if err != nil {
		status = "error"
		logger.Log.Warn("Stripe webhook failed",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
	metrics.Get().StripeWebhooksTotal.WithLabelValues(eventType, status).Inc()
	return err
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apierrors.BadRequest("malformed event object").Wrap(err)
	}
	return nil
}

func (s *Service) onCheckoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var session stripe.CheckoutSession
	if err := decode(raw, &session); err != nil {
		return err
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return nil
	}

	query := s.db.WithContext(ctx).Model(&models.Subscription{})
	if session.ClientReferenceID != "" {
		query = query.Where("id = ?", session.ClientReferenceID)
	} else {
		query = query.Where("stripe_checkout_session_id = ?", session.ID)
	}
	stripeID := session.Subscription.ID
	result := query.Where("status = ?", models.SubscriptionIncomplete).Updates(map[string]interface{}{
		"status":                 models.SubscriptionActive,
		"stripe_subscription_id": stripeID,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		logger.Log.Info("Subscription activated", zap.String("stripe_subscription_id", stripeID))
	}
	return nil
}

func (s *Service) findByStripeID(ctx context.Context, tx *gorm.DB, stripeID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.WithContext(ctx).Where("stripe_subscription_id = ?", stripeID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotLinked
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) onInvoicePaid(ctx context.Context, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := decode(raw, &inv); err != nil {
		return err
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}

	paidAt := s.now().UTC()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	var periodEnd *time.Time
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Period != nil && line.Period.End > 0 {
				end := time.Unix(line.Period.End, 0).UTC()
				if periodEnd == nil || end.After(*periodEnd) {
					periodEnd = &end
				}
			}
		}
	}

	var payment *models.SubscriptionPayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.findByStripeID(ctx, tx, inv.Subscription.ID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.SubscriptionPayment{}).Where("stripe_invoice_id = ?", inv.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		payment = &models.SubscriptionPayment{
			SubscriptionID:  sub.ID,
			SubscriberID:    sub.SubscriberID,
			CreatorID:       sub.CreatorID,
			AmountCents:     inv.AmountPaid,
			Currency:        string(inv.Currency),
			StripeInvoiceID: inv.ID,
			PaidAt:          paidAt,
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"status": models.SubscriptionActive}
		if sub.Status == models.SubscriptionCanceled {
			delete(updates, "status")
		}
		if periodEnd != nil {
			updates["current_period_end"] = *periodEnd
		}
		if len(updates) > 0 {
			if err := tx.Model(sub).Updates(updates).Error; err != nil {
				return err
			}
		}

		if s.affiliates != nil && payment.AmountCents > 0 {
			if _, err := s.affiliates.AccrueCommission(ctx, tx, payment); err != nil {
				return fmt.Errorf("accrue commission: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if payment != nil {
		metrics.Get().SubscriptionRevenueCents.Add(float64(payment.AmountCents))
		logger.Log.Info("Subscription payment recorded",
			zap.String("invoice_id", inv.ID),
			logger.WithCreatorID(payment.CreatorID),
			logger.WithCents("amount_cents", payment.AmountCents),
		)
	}
	return nil
}

func (s *Service) onInvoiceFailed(ctx context.Context, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := decode(raw, &inv); err != nil {
		return err
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status = ?", inv.Subscription.ID, models.SubscriptionActive).
		Update("status", models.SubscriptionPastDue).Error
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, raw json.RawMessage) error {
	var stripeSub stripe.Subscription
	if err := decode(raw, &stripeSub); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	switch stripeSub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		updates["status"] = models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		updates["status"] = models.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		updates["status"] = models.SubscriptionCanceled
	}
	if stripeSub.CurrentPeriodEnd > 0 {
		updates["current_period_end"] = time.Unix(stripeSub.CurrentPeriodEnd, 0).UTC()
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeSub.ID, models.SubscriptionCanceled).
		Updates(updates).Error
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var stripeSub stripe.Subscription
	if err := decode(raw, &stripeSub); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status <> ?", stripeSub.ID, models.SubscriptionCanceled).
		Updates(map[string]interface{}{
			"status":      models.SubscriptionCanceled,
			"canceled_at": s.now().UTC(),
		}).Error
}

// onAccountUpdated verifies a Connect payout account once Stripe allows
// payouts to it
func (s *Service) onAccountUpdated(ctx context.Context, raw json.RawMessage) error {
	var account stripe.Account
	if err := decode(raw, &account); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&models.PayoutAccount{}).
		Where("stripe_account_id = ?", account.ID).
		Update("verified", account.PayoutsEnabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		logger.Log.Info("Connect account updated",
			zap.String("stripe_account_id", account.ID),
			zap.Bool("payouts_enabled", account.PayoutsEnabled),
		)
	}
	return nil
}
