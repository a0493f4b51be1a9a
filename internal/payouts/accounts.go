package payouts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	accountNumberPattern = regexp.MustCompile(`^[0-9]{4,17}$`)
	routingPattern       = regexp.MustCompile(`^[0-9]{9}$`)
	ibanPattern          = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{10,30}$`)
	walletPattern        = regexp.MustCompile(`^[A-Za-z0-9:]{20,128}$`)
)

var cryptoNetworks = map[string]bool{"bitcoin": true, "ethereum": true, "solana": true, "polygon": true}

// AccountInput adds a payout destination. Only the fields for Method are read.
type AccountInput struct {
	Method      models.PayoutMethod `json:"method" binding:"required"`
	MakeDefault bool                `json:"make_default"`

	PayPalEmail string `json:"paypal_email"`

	AccountHolder string `json:"account_holder"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number"`
	IBAN          string `json:"iban"`

	CryptoNetwork string `json:"crypto_network"`
	WalletAddress string `json:"wallet_address"`
}

// AccountResult is a created account plus, for Stripe, the onboarding link
type AccountResult struct {
	Account       *models.PayoutAccount `json:"account"`
	OnboardingURL string                `json:"onboarding_url,omitempty"`
}

func (in AccountInput) build(creatorID string) (*models.PayoutAccount, error) {
	account := &models.PayoutAccount{CreatorID: creatorID, Method: in.Method}

	switch in.Method {
	case models.PayoutStripeConnect:
		// Filled in from Stripe
	case models.PayoutPayPal:
		addr, err := mail.ParseAddress(strings.TrimSpace(in.PayPalEmail))
		if err != nil {
			return nil, apierrors.ValidationError("paypal_email", "a valid PayPal email is required")
		}
		account.PayPalEmail = strings.ToLower(addr.Address)
		account.Verified = true
	case models.PayoutBankTransfer:
		if strings.TrimSpace(in.AccountHolder) == "" {
			return nil, apierrors.ValidationError("account_holder", "account holder is required")
		}
		iban := strings.ToUpper(strings.ReplaceAll(in.IBAN, " ", ""))
		number := strings.ReplaceAll(in.AccountNumber, " ", "")
		switch {
		case iban != "":
			if !ibanPattern.MatchString(iban) {
				return nil, apierrors.ValidationError("iban", "IBAN is not valid")
			}
			account.IBAN = iban
			account.AccountNumberLast4 = iban[len(iban)-4:]
		case number != "":
			if !accountNumberPattern.MatchString(number) {
				return nil, apierrors.ValidationError("account_number", "account number must be 4 to 17 digits")
			}
			if !routingPattern.MatchString(in.RoutingNumber) {
				return nil, apierrors.ValidationError("routing_number", "routing number must be 9 digits")
			}
			account.AccountNumberLast4 = number[len(number)-4:]
			account.RoutingNumber = in.RoutingNumber
		default:
			return nil, apierrors.ValidationError("account_number", "an account number or IBAN is required")
		}
		account.AccountHolder = strings.TrimSpace(in.AccountHolder)
		account.BankName = strings.TrimSpace(in.BankName)
	case models.PayoutCrypto:
		network := strings.ToLower(strings.TrimSpace(in.CryptoNetwork))
		if !cryptoNetworks[network] {
			return nil, apierrors.ValidationError("crypto_network", "unsupported network")
		}
		address := strings.TrimSpace(in.WalletAddress)
		if !walletPattern.MatchString(address) {
			return nil, apierrors.ValidationError("wallet_address", "wallet address is not valid")
		}
		account.CryptoNetwork = network
		account.WalletAddress = address
	default:
		return nil, apierrors.ValidationError("method", "method must be stripe_connect, paypal, bank_transfer or crypto")
	}
	return account, nil
}

// CreateAccount adds a payout account. Stripe accounts start unverified and
// come with an onboarding link; Stripe verifies them through the
// account.updated webhook. Bank and crypto accounts wait for an admin.
func (s *Service) CreateAccount(ctx context.Context, creator *models.User, in AccountInput) (*AccountResult, error) {
	if !creator.IsCreator() {
		return nil, apierrors.Forbidden("only creators can add payout accounts")
	}
	account, err := in.build(creator.ID)
	if err != nil {
		return nil, err
	}

	result := &AccountResult{Account: account}
	if account.Method == models.PayoutStripeConnect {
		if s.stripe == nil {
			return nil, apierrors.ServiceUnavailable("stripe")
		}
		stripeID, err := s.stripe.CreateConnectAccount(ctx, creator.ID, creator.Email)
		if err != nil {
			return nil, apierrors.ServiceUnavailable("stripe").Wrap(err)
		}
		account.StripeAccountID = &stripeID
		link, err := s.stripe.CreateAccountLink(ctx, stripeID, s.opts.ConnectRefreshURL, s.opts.ConnectReturnURL)
		if err != nil {
			return nil, apierrors.ServiceUnavailable("stripe").Wrap(err)
		}
		result.OnboardingURL = link
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PayoutAccount{}).Where("creator_id = ?", creator.ID).Count(&count).Error; err != nil {
			return err
		}
		account.IsDefault = count == 0 || in.MakeDefault
		if account.IsDefault && count > 0 {
			if err := tx.Model(&models.PayoutAccount{}).Where("creator_id = ?", creator.ID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(account).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payout account: %w", err)
	}

	logger.Log.Info("Payout account added",
		logger.WithCreatorID(creator.ID),
		zap.String("method", string(account.Method)),
	)
	return result, nil
}

// OnboardingLink issues a fresh Stripe onboarding link for an account
func (s *Service) OnboardingLink(ctx context.Context, creator *models.User, accountID string) (string, error) {
	account, err := s.GetAccount(ctx, creator.ID, accountID)
	if err != nil {
		return "", err
	}
	if account.Method != models.PayoutStripeConnect || account.StripeAccountID == nil {
		return "", apierrors.BadRequest("onboarding links are only for Stripe accounts")
	}
	if s.stripe == nil {
		return "", apierrors.ServiceUnavailable("stripe")
	}
	link, err := s.stripe.CreateAccountLink(ctx, *account.StripeAccountID, s.opts.ConnectRefreshURL, s.opts.ConnectReturnURL)
	if err != nil {
		return "", apierrors.ServiceUnavailable("stripe").Wrap(err)
	}
	return link, nil
}

// GetAccount loads one of the creator's accounts
func (s *Service) GetAccount(ctx context.Context, creatorID, accountID string) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	err := s.db.WithContext(ctx).Where("id = ? AND creator_id = ?", accountID, creatorID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("payout account")
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns the creator's accounts, default first
func (s *Service) ListAccounts(ctx context.Context, creatorID string) ([]models.PayoutAccount, error) {
	var accounts []models.PayoutAccount
	err := s.db.WithContext(ctx).Where("creator_id = ?", creatorID).
		Order("is_default DESC, created_at").Find(&accounts).Error
	return accounts, err
}

// SetDefault makes accountID the creator's default destination
func (s *Service) SetDefault(ctx context.Context, creatorID, accountID string) (*models.PayoutAccount, error) {
	account, err := s.GetAccount(ctx, creatorID, accountID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PayoutAccount{}).Where("creator_id = ? AND id <> ?", creatorID, account.ID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(account).Update("is_default", true).Error
	})
	if err != nil {
		return nil, err
	}
	account.IsDefault = true
	return account, nil
}

// DeleteAccount removes an account that no open payout is using. If it was
// the default, the oldest remaining account becomes the default.
func (s *Service) DeleteAccount(ctx context.Context, creatorID, accountID string) error {
	account, err := s.GetAccount(ctx, creatorID, accountID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Payout{}).
			Where("account_id = ? AND status IN ?", account.ID, openStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrAccountInUse
		}
		if err := tx.Delete(account).Error; err != nil {
			return err
		}
		if !account.IsDefault {
			return nil
		}
		var next models.PayoutAccount
		err := tx.Where("creator_id = ?", creatorID).Order("created_at").First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Model(&next).Update("is_default", true).Error
	})
}

// VerifyAccount marks a manually checked bank or crypto account verified
func (s *Service) VerifyAccount(ctx context.Context, accountID string) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("payout account")
	}
	if err != nil {
		return nil, err
	}
	if account.Method == models.PayoutStripeConnect {
		return nil, apierrors.BadRequest("Stripe accounts are verified by Stripe")
	}
	if err := s.db.WithContext(ctx).Model(&account).Update("verified", true).Error; err != nil {
		return nil, err
	}
	account.Verified = true
	return &account, nil
}
