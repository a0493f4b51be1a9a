package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
)

// ErrProviderRejected marks a provider failure that retrying will not fix,
// such as an invalid destination. Wrap it to fail a payout immediately.
var ErrProviderRejected = errors.New("payout rejected by provider")

// Result is a provider's answer to a disbursement
type Result struct {
	// Reference is the provider's transfer or batch ID
	Reference string
	// Manual means an operator must settle the payout and confirm it
	Manual bool
}

// Provider sends money through one payout method
type Provider interface {
	Method() models.PayoutMethod
	Send(ctx context.Context, payout *models.Payout, account *models.PayoutAccount) (Result, error)
}

// StripeConnect is the part of the Stripe client payouts need. The billing
// gateway satisfies it.
type StripeConnect interface {
	CreateConnectAccount(ctx context.Context, creatorID, email string) (string, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateTransfer(ctx context.Context, accountID string, amountCents int64, currency, idempotencyKey string) (string, error)
}

// StripeProvider pays connected accounts with a Stripe transfer
type StripeProvider struct {
	stripe StripeConnect
}

func NewStripeProvider(stripe StripeConnect) *StripeProvider {
	return &StripeProvider{stripe: stripe}
}

func (p *StripeProvider) Method() models.PayoutMethod { return models.PayoutStripeConnect }

// Send transfers the payout amount. The payout ID is the idempotency key so
// a retry after a lost response never pays twice.
func (p *StripeProvider) Send(ctx context.Context, payout *models.Payout, account *models.PayoutAccount) (Result, error) {
	if account.StripeAccountID == nil || *account.StripeAccountID == "" {
		return Result{}, fmt.Errorf("%w: account has no connected Stripe account", ErrProviderRejected)
	}
	ref, err := p.stripe.CreateTransfer(ctx, *account.StripeAccountID, payout.AmountCents, payout.Currency, payout.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Reference: ref}, nil
}

// ManualProvider parks payouts for an operator to settle by hand
type ManualProvider struct {
	method models.PayoutMethod
}

func NewManualProvider(method models.PayoutMethod) *ManualProvider {
	return &ManualProvider{method: method}
}

func (p *ManualProvider) Method() models.PayoutMethod { return p.method }

func (p *ManualProvider) Send(ctx context.Context, payout *models.Payout, account *models.PayoutAccount) (Result, error) {
	return Result{Manual: true}, nil
}

// breakerProvider wraps a provider in a circuit breaker so a failing
// backend stops receiving calls for a while
type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker[Result]
}

// withBreaker trips after five consecutive failures and probes again after
// timeout. Rejections count as successes for the breaker: the provider
// answered, the request was just bad.
func withBreaker(p Provider, timeout time.Duration) *breakerProvider {
	name := "payouts-" + string(p.Method())
	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProviderRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warn("Payout circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &breakerProvider{Provider: p, cb: cb}
}

func (b *breakerProvider) Send(ctx context.Context, payout *models.Payout, account *models.PayoutAccount) (Result, error) {
	return b.cb.Execute(func() (Result, error) {
		return b.Provider.Send(ctx, payout, account)
	})
}

// isOpenCircuit reports whether err came from the breaker refusing a call
func isOpenCircuit(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
