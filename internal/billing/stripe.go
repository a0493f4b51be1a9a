package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/telemetry"
)

// PriceRequest describes the recurring price behind a plan
type PriceRequest struct {
	PlanName    string
	CreatorID   string
	AmountCents int64
	Currency    string
	Interval    string
}

// CheckoutRequest opens a subscription checkout
type CheckoutRequest struct {
	CustomerID     string
	PriceID        string
	SubscriptionID string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the hosted checkout the subscriber is sent to
type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the subset of Stripe the platform uses. StripeGateway is the
// real implementation; tests use a fake.
type Gateway interface {
	CreatePrice(ctx context.Context, req PriceRequest) (string, error)
	DeactivatePrice(ctx context.Context, priceID string) error
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, stripeSubscriptionID string) error
	CreateConnectAccount(ctx context.Context, creatorID, email string) (string, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateTransfer(ctx context.Context, accountID string, amountCents int64, currency, idempotencyKey string) (string, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeGateway calls the Stripe API
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a client whose HTTP calls are traced and whose
// logs go through zap
func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	httpClient := telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{ServiceName: "stripe"})
	backendConfig := &stripe.BackendConfig{
		HTTPClient:    httpClient,
		LeveledLogger: logger.Log.Sugar(),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *StripeGateway) CreatePrice(ctx context.Context, req PriceRequest) (string, error) {
	params := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		UnitAmount: stripe.Int64(req.AmountCents),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(req.Interval),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(req.PlanName),
		},
	}
	params.Context = ctx
	params.AddMetadata("creator_id", req.CreatorID)

	price, err := g.api.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create price: %w", err)
	}
	return price.ID, nil
}

func (g *StripeGateway) DeactivatePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := g.api.Prices.Update(priceID, params); err != nil {
		return fmt.Errorf("stripe: deactivate price: %w", err)
	}
	return nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.SetIdempotencyKey("customer-" + userID)

	customer, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return customer.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.SubscriptionID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"subscription_id": req.SubscriptionID},
		},
	}
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, stripeSubscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(stripeSubscriptionID, params); err != nil {
		return fmt.Errorf("stripe: cancel subscription: %w", err)
	}
	return nil
}

func (g *StripeGateway) CreateConnectAccount(ctx context.Context, creatorID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata("creator_id", creatorID)

	account, err := g.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create connect account: %w", err)
	}
	return account.ID, nil
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create account link: %w", err)
	}
	return link.URL, nil
}

// CreateTransfer moves platform funds to a connected account. The
// idempotency key makes a retried payout a no-op on Stripe's side.
func (g *StripeGateway) CreateTransfer(ctx context.Context, accountID string, amountCents int64, currency, idempotencyKey string) (string, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(strings.ToLower(currency)),
		Destination:   stripe.String(accountID),
		TransferGroup: stripe.String(idempotencyKey),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + idempotencyKey)

	transfer, err := g.api.Transfers.New(params)
	if err != nil {
		return "", err
	}
	return transfer.ID, nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

var _ Gateway = (*StripeGateway)(nil)
