package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUsernameExists     = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrNoPassword         = errors.New("account has no password, sign in with Google")
	ErrInvalidToken       = errors.New("invalid token")
	ErrOAuthDisabled      = errors.New("oauth provider not configured")
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// ReferralRecorder attributes a new sign-up to the owner of a referral code
type ReferralRecorder interface {
	RecordSignup(ctx context.Context, referred *models.User, code string) error
}

// Service handles all authentication operations
type Service struct {
	db                *gorm.DB
	jwtSecret         []byte
	tokenTTL          time.Duration
	googleConfig      *oauth2.Config
	googleUserInfoURL string
	totpIssuer        string
	referrals         ReferralRecorder
	now               func() time.Time
}

// NewService creates a new authentication service
func NewService(db *gorm.DB, cfg *config.Config) *Service {
	ttl := cfg.JWT.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:                db,
		jwtSecret:         []byte(cfg.JWT.Secret),
		tokenTTL:          ttl,
		googleConfig:      cfg.GoogleOAuth(),
		googleUserInfoURL: googleUserInfoURL,
		totpIssuer:        cfg.OAuth.TOTPIssuer,
		now:               time.Now,
	}
}

// SetReferralRecorder enables referral attribution on registration
func (s *Service) SetReferralRecorder(r ReferralRecorder) {
	s.referrals = r
}

// AuthResponse represents authentication response
type AuthResponse struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// RegisterRequest represents native registration request
type RegisterRequest struct {
	Email        string          `json:"email" binding:"required,email"`
	Username     string          `json:"username" binding:"required,min=3,max=30,alphanum"`
	Password     string          `json:"password" binding:"required,min=8,max=72"`
	DisplayName  string          `json:"display_name" binding:"required,min=1,max=50"`
	Role         models.UserRole `json:"role"`
	ReferralCode string          `json:"referral_code"`
}

// LoginRequest represents native login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterNativeUser creates a new user with email/password
func (s *Service) RegisterNativeUser(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !req.Role.Valid() {
		return nil, ErrInvalidRole
	}

	db := s.db.WithContext(ctx)

	// Email and username are unique regardless of case
	var count int64
	if err := db.Model(&models.User{}).Where("LOWER(email) = LOWER(?)", req.Email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}
	if err := db.Model(&models.User{}).Where("LOWER(username) = LOWER(?)", req.Username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return nil, ErrUsernameExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hashedPasswordStr := string(hashedPassword)

	user := models.User{
		Email:        strings.TrimSpace(req.Email),
		Username:     strings.TrimSpace(req.Username),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Role:         req.Role,
		PasswordHash: &hashedPasswordStr,
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.attributeReferral(ctx, &user, req.ReferralCode)

	return s.generateAuthResponse(&user)
}

// attributeReferral never fails registration; a bad code only loses the credit
func (s *Service) attributeReferral(ctx context.Context, user *models.User, code string) {
	code = strings.TrimSpace(code)
	if code == "" || s.referrals == nil {
		return
	}
	if err := s.referrals.RecordSignup(ctx, user, code); err != nil {
		logger.Log.Warn("Referral attribution failed",
			logger.WithUserID(user.ID),
			zap.String("code", code),
			zap.Error(err),
		)
	}
}

// LoginNativeUser authenticates with email/password
func (s *Service) LoginNativeUser(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.FindUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == nil {
		return nil, ErrNoPassword
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.touchLastActive(ctx, user)
	return s.generateAuthResponse(user)
}

// FindUserByEmail finds user by email (case-insensitive)
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", strings.TrimSpace(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

func (s *Service) touchLastActive(ctx context.Context, user *models.User) {
	now := s.now().UTC()
	user.LastActiveAt = &now
	if err := s.db.WithContext(ctx).Model(user).UpdateColumn("last_active_at", now).Error; err != nil {
		logger.Log.Warn("Failed to update last_active_at", logger.WithUserID(user.ID), zap.Error(err))
	}
}

// GenerateTokenForUser creates JWT token and auth response for a user
func (s *Service) GenerateTokenForUser(user *models.User) (*AuthResponse, error) {
	return s.generateAuthResponse(user)
}

// generateAuthResponse creates JWT token and auth response
func (s *Service) generateAuthResponse(user *models.User) (*AuthResponse, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"email":    user.Email,
		"role":     string(user.Role),
		"is_admin": user.IsAdmin,
		"exp":      expiresAt.Unix(),
		"iat":      issuedAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &AuthResponse{
		Token:     tokenString,
		User:      *user,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateToken validates a JWT token and returns the current user it names
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*models.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	// Fetch fresh user data so role changes and deletions apply immediately
	var user models.User
	err = s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}
