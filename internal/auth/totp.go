package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/pquerna/otp/totp"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
)

var (
	ErrTOTPAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTOTPNotSetUp       = errors.New("two-factor authentication not set up")
	ErrInvalidTOTPCode    = errors.New("invalid two-factor code")
)

// TOTPSetup is returned when a user starts enrolling an authenticator app
type TOTPSetup struct {
	Secret     string `json:"secret"`      // Base32-encoded secret for manual entry
	OTPAuthURL string `json:"otpauth_url"` // otpauth:// URL for QR code
}

// SetupTOTP generates and stores a new secret. Two-factor stays off until
// EnableTOTP confirms the user can produce codes.
func (s *Service) SetupTOTP(ctx context.Context, user *models.User) (*TOTPSetup, error) {
	if user.TwoFactorEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	secret := key.Secret()
	if err := s.db.WithContext(ctx).Model(user).Update("two_factor_secret", secret).Error; err != nil {
		return nil, fmt.Errorf("failed to store secret: %w", err)
	}
	user.TwoFactorSecret = &secret

	return &TOTPSetup{Secret: secret, OTPAuthURL: key.URL()}, nil
}

// EnableTOTP turns two-factor on after checking a code from the new secret
func (s *Service) EnableTOTP(ctx context.Context, user *models.User, code string) error {
	if user.TwoFactorEnabled {
		return ErrTOTPAlreadyEnabled
	}
	if user.TwoFactorSecret == nil || *user.TwoFactorSecret == "" {
		return ErrTOTPNotSetUp
	}
	if !totp.Validate(code, *user.TwoFactorSecret) {
		return ErrInvalidTOTPCode
	}

	if err := s.db.WithContext(ctx).Model(user).Update("two_factor_enabled", true).Error; err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	user.TwoFactorEnabled = true

	logger.Log.Info("Two-factor enabled", logger.WithUserID(user.ID))
	return nil
}

// DisableTOTP turns two-factor off; a current code is required
func (s *Service) DisableTOTP(ctx context.Context, user *models.User, code string) error {
	if !user.TwoFactorEnabled {
		return ErrTOTPNotSetUp
	}
	if err := s.VerifyTOTP(user, code); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"two_factor_enabled": false,
		"two_factor_secret":  nil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	user.TwoFactorEnabled = false
	user.TwoFactorSecret = nil
	return nil
}

// VerifyTOTP checks code against the user's secret. Users without
// two-factor always pass.
func (s *Service) VerifyTOTP(user *models.User, code string) error {
	if !user.TwoFactorEnabled {
		return nil
	}
	if user.TwoFactorSecret == nil || code == "" || !totp.Validate(code, *user.TwoFactorSecret) {
		return ErrInvalidTOTPCode
	}
	return nil
}
