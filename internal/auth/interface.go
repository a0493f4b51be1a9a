package auth

import (
	"context"

	"github.com/zfogg/vidlayer/internal/models"
)

// AuthServiceInterface defines the contract for authentication operations.
// This enables mocking for handler tests without signing real tokens.
type AuthServiceInterface interface {
	// Registration and Login
	RegisterNativeUser(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	LoginNativeUser(ctx context.Context, req LoginRequest) (*AuthResponse, error)

	// User lookup
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Token operations
	ValidateToken(ctx context.Context, tokenString string) (*models.User, error)

	// OAuth
	GetGoogleOAuthURL(state string) (string, error)
	HandleGoogleCallback(ctx context.Context, code string) (*AuthResponse, error)

	// Two-factor
	SetupTOTP(ctx context.Context, user *models.User) (*TOTPSetup, error)
	EnableTOTP(ctx context.Context, user *models.User, code string) error
	DisableTOTP(ctx context.Context, user *models.User, code string) error
}

// Ensure Service implements AuthServiceInterface
var _ AuthServiceInterface = (*Service)(nil)
