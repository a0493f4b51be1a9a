package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// OAuthUserInfo represents user info from OAuth providers
type OAuthUserInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// GoogleUserInfo represents Google OAuth user response
type GoogleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9]+`)

// GoogleEnabled reports whether Google sign-in is configured
func (s *Service) GoogleEnabled() bool {
	return s.googleConfig != nil
}

// GetGoogleOAuthURL returns Google OAuth authorization URL
func (s *Service) GetGoogleOAuthURL(state string) (string, error) {
	if s.googleConfig == nil {
		return "", ErrOAuthDisabled
	}
	return s.googleConfig.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// HandleGoogleCallback exchanges the authorization code and signs the user in
func (s *Service) HandleGoogleCallback(ctx context.Context, code string) (*AuthResponse, error) {
	if s.googleConfig == nil {
		return nil, ErrOAuthDisabled
	}

	token, err := s.googleConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	userInfo, err := s.fetchGoogleUserInfo(ctx, s.googleConfig.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("failed to get Google user info: %w", err)
	}

	return s.findOrCreateUserFromOAuth(ctx, userInfo)
}

func (s *Service) fetchGoogleUserInfo(ctx context.Context, client *http.Client) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, string(body))
	}

	var info GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return nil, errors.New("userinfo missing sub or email")
	}
	if !info.EmailVerified {
		return nil, errors.New("google email is not verified")
	}

	return &OAuthUserInfo{
		ID:        info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}

// findOrCreateUserFromOAuth implements email-based account unification
func (s *Service) findOrCreateUserFromOAuth(ctx context.Context, info *OAuthUserInfo) (*AuthResponse, error) {
	db := s.db.WithContext(ctx)

	// Already linked
	var user models.User
	err := db.Where("google_id = ?", info.ID).First(&user).Error
	if err == nil {
		s.touchLastActive(ctx, &user)
		return s.generateAuthResponse(&user)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error checking OAuth: %w", err)
	}

	// Same email registered natively: link
	existing, err := s.FindUserByEmail(ctx, info.Email)
	if err == nil {
		updates := map[string]interface{}{"google_id": info.ID}
		if existing.AvatarURL == "" && info.AvatarURL != "" {
			updates["avatar_url"] = info.AvatarURL
		}
		if err := db.Model(existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to link google account: %w", err)
		}
		logger.Log.Info("Linked Google account", logger.WithUserID(existing.ID))
		return s.generateAuthResponse(existing)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	username, err := s.availableUsername(ctx, info)
	if err != nil {
		return nil, err
	}

	googleID := info.ID
	displayName := info.Name
	if displayName == "" {
		displayName = username
	}
	user = models.User{
		Email:       info.Email,
		Username:    username,
		DisplayName: displayName,
		AvatarURL:   info.AvatarURL,
		Role:        models.RoleViewer,
		GoogleID:    &googleID,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logger.Log.Info("Created user from Google sign-in",
		logger.WithUserID(user.ID),
		zap.String("username", user.Username),
	)
	return s.generateAuthResponse(&user)
}

// availableUsername derives a username from the email local part, adding a
// short random suffix when it is taken
func (s *Service) availableUsername(ctx context.Context, info *OAuthUserInfo) (string, error) {
	base := strings.ToLower(strings.SplitN(info.Email, "@", 2)[0])
	base = usernameStrip.ReplaceAllString(base, "")
	if len(base) < 3 {
		base = "user" + base
	}
	if len(base) > 24 {
		base = base[:24]
	}

	candidate := base
	for i := 0; i < 5; i++ {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).
			Where("LOWER(username) = ?", candidate).Count(&count).Error; err != nil {
			return "", fmt.Errorf("database error: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = base + strings.ReplaceAll(uuid.New().String(), "-", "")[:5]
	}
	return "", ErrUsernameExists
}
