package payouts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const payPalPayoutsPath = "/v1/payments/payouts"

// PayPalProvider sends payouts through the PayPal Payouts API. Access
// tokens come from the client credentials grant and are cached until they
// expire.
type PayPalProvider struct {
	client  *resty.Client
	limiter *rate.Limiter
}

type payPalAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type payPalItem struct {
	RecipientType string       `json:"recipient_type"`
	Amount        payPalAmount `json:"amount"`
	Receiver      string       `json:"receiver"`
	Note          string       `json:"note,omitempty"`
	SenderItemID  string       `json:"sender_item_id"`
}

type payPalBatchRequest struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject"`
	} `json:"sender_batch_header"`
	Items []payPalItem `json:"items"`
}

type payPalBatchResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

type payPalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
}

// NewPayPalProvider builds a client for cfg.BaseURL. Calls are paced to
// cfg.RequestsPerSecond and traced.
func NewPayPalProvider(cfg config.PayPalConfig) *PayPalProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	tracedClient := telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{
		ServiceName: "paypal",
		Timeout:     30 * time.Second,
	})

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, tracedClient)

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetTransport(&oauth2.Transport{
			Source: creds.TokenSource(tokenCtx),
			Base:   tracedClient.Transport,
		})

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &PayPalProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (p *PayPalProvider) Method() models.PayoutMethod { return models.PayoutPayPal }

// FormatAmount renders cents as the decimal string PayPal expects
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Send creates a one-item payout batch. The payout ID doubles as the sender
// batch ID, which PayPal rejects if reused, so a retried call cannot pay
// twice.
func (p *PayPalProvider) Send(ctx context.Context, payout *models.Payout, account *models.PayoutAccount) (Result, error) {
	if account.PayPalEmail == "" {
		return Result{}, fmt.Errorf("%w: account has no PayPal email", ErrProviderRejected)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	ctx, span := telemetry.TraceExternalCall(ctx, telemetry.ExternalServiceCallAttrs{
		Service:    "paypal",
		Operation:  "create_payout",
		ResourceID: payout.ID,
		Attempt:    payout.Attempts + 1,
	})
	defer span.End()

	var body payPalBatchRequest
	body.SenderBatchHeader.SenderBatchID = payout.ID
	body.SenderBatchHeader.EmailSubject = "You have a payout from Vidlayer"
	body.Items = []payPalItem{{
		RecipientType: "EMAIL",
		Amount: payPalAmount{
			Value:    FormatAmount(payout.AmountCents),
			Currency: strings.ToUpper(payout.Currency),
		},
		Receiver:     account.PayPalEmail,
		Note:         "Creator earnings",
		SenderItemID: payout.ID,
	}}

	var result payPalBatchResponse
	var apiErr payPalError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post(payPalPayoutsPath)
	if err != nil {
		telemetry.RecordExternalCallError(span, err, 0, true)
		return Result{}, fmt.Errorf("paypal: create payout: %w", err)
	}

	status := resp.StatusCode()
	if resp.IsError() {
		err := fmt.Errorf("paypal: %s: %s (debug_id %s)", apiErr.Name, apiErr.Message, apiErr.DebugID)
		retryable := status >= 500 || status == http.StatusTooManyRequests || status == http.StatusUnauthorized
		telemetry.RecordExternalCallError(span, err, status, retryable)
		logger.Log.Warn("PayPal payout rejected",
			logger.WithPayoutID(payout.ID),
			logger.WithStatus(status),
			zap.String("name", apiErr.Name),
		)
		if !retryable {
			return Result{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
		}
		return Result{}, err
	}

	telemetry.RecordExternalCallSuccess(span, status)
	return Result{Reference: result.BatchHeader.PayoutBatchID}, nil
}
