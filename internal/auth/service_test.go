package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

type fakeReferrals struct {
	codes map[string]string // referred user ID -> code
	err   error
}

func (f *fakeReferrals) RecordSignup(ctx context.Context, referred *models.User, code string) error {
	if f.err != nil {
		return f.err
	}
	f.codes[referred.ID] = code
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		JWT:   config.JWTConfig{Secret: "test_jwt_secret_key_123", TTL: 24 * time.Hour},
		OAuth: config.OAuthConfig{TOTPIssuer: "Vidlayer"},
	}
}

// AuthServiceTestSuite contains auth service tests
type AuthServiceTestSuite struct {
	suite.Suite
	db          *gorm.DB
	authService *Service
	referrals   *fakeReferrals
}

func (suite *AuthServiceTestSuite) SetupTest() {
	suite.db = testutil.NewTestDB(suite.T())
	suite.authService = NewService(suite.db, testConfig())
	suite.referrals = &fakeReferrals{codes: map[string]string{}}
	suite.authService.SetReferralRecorder(suite.referrals)
}

func (suite *AuthServiceTestSuite) register(email, username string) *AuthResponse {
	resp, err := suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email:       email,
		Username:    username,
		Password:    "password123",
		DisplayName: "Test Creator",
		Role:        models.RoleCreator,
	})
	require.NoError(suite.T(), err)
	return resp
}

func (suite *AuthServiceTestSuite) TestRegisterNativeUser() {
	t := suite.T()

	authResp := suite.register("test@creator.com", "testcreator")

	assert.NotEmpty(t, authResp.Token)
	assert.Equal(t, "test@creator.com", authResp.User.Email)
	assert.Equal(t, models.RoleCreator, authResp.User.Role)
	assert.NotNil(t, authResp.User.PasswordHash)
	assert.NotEmpty(t, authResp.User.ReferralCode)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), authResp.ExpiresAt, time.Minute)

	// Duplicate email, different case
	_, err := suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "TEST@creator.com", Username: "other", Password: "password123", DisplayName: "x",
	})
	assert.ErrorIs(t, err, ErrUserExists)

	// Duplicate username, different case
	_, err = suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "different@creator.com", Username: "TestCreator", Password: "password456", DisplayName: "x",
	})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func (suite *AuthServiceTestSuite) TestRegisterDefaultsAndRoles() {
	t := suite.T()

	resp, err := suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "viewer@example.com", Username: "viewer1", Password: "password123", DisplayName: "V",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, resp.User.Role)

	_, err = suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "admin@example.com", Username: "sneaky", Password: "password123", DisplayName: "A",
		Role: models.RoleAdmin,
	})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func (suite *AuthServiceTestSuite) TestRegisterAttributesReferral() {
	t := suite.T()

	resp, err := suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "ref@example.com", Username: "referred", Password: "password123", DisplayName: "R",
		ReferralCode: " ABCD1234 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", suite.referrals.codes[resp.User.ID])

	// A failing recorder does not block registration
	suite.referrals.err = errors.New("unknown code")
	_, err = suite.authService.RegisterNativeUser(context.Background(), RegisterRequest{
		Email: "ref2@example.com", Username: "referred2", Password: "password123", DisplayName: "R",
		ReferralCode: "NOPE",
	})
	assert.NoError(t, err)
}

func (suite *AuthServiceTestSuite) TestLoginNativeUser() {
	t := suite.T()
	suite.register("login@test.com", "logintest")

	authResp, err := suite.authService.LoginNativeUser(context.Background(), LoginRequest{
		Email: "LOGIN@test.com", Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, authResp.Token)
	assert.NotNil(t, authResp.User.LastActiveAt)

	_, err = suite.authService.LoginNativeUser(context.Background(), LoginRequest{
		Email: "login@test.com", Password: "wrongpassword",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = suite.authService.LoginNativeUser(context.Background(), LoginRequest{
		Email: "nobody@test.com", Password: "password123",
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func (suite *AuthServiceTestSuite) TestLoginOAuthOnlyUser() {
	t := suite.T()
	googleID := "g-1"
	require.NoError(t, suite.db.Create(&models.User{
		Email: "oauth@test.com", Username: "oauthonly", DisplayName: "O", GoogleID: &googleID,
	}).Error)

	_, err := suite.authService.LoginNativeUser(context.Background(), LoginRequest{
		Email: "oauth@test.com", Password: "password123",
	})
	assert.ErrorIs(t, err, ErrNoPassword)
}

func (suite *AuthServiceTestSuite) TestValidateToken() {
	t := suite.T()
	authResp := suite.register("jwt@test.com", "jwttest")

	user, err := suite.authService.ValidateToken(context.Background(), authResp.Token)
	require.NoError(t, err)
	assert.Equal(t, authResp.User.ID, user.ID)

	token, err := jwt.Parse(authResp.Token, func(*jwt.Token) (interface{}, error) {
		return []byte("test_jwt_secret_key_123"), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "creator", claims["role"])
	assert.Equal(t, "jwt@test.com", claims["email"])

	_, err = suite.authService.ValidateToken(context.Background(), "invalid.token.here")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Wrong secret
	other := NewService(suite.db, &config.Config{JWT: config.JWTConfig{Secret: "another_secret_value", TTL: time.Hour}})
	_, err = other.ValidateToken(context.Background(), authResp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Expired
	suite.authService.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = suite.authService.ValidateToken(context.Background(), authResp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func (suite *AuthServiceTestSuite) TestValidateTokenDeletedUser() {
	t := suite.T()
	authResp := suite.register("gone@test.com", "gonetest")
	require.NoError(t, suite.db.Delete(&models.User{}, "id = ?", authResp.User.ID).Error)

	_, err := suite.authService.ValidateToken(context.Background(), authResp.Token)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func (suite *AuthServiceTestSuite) TestTOTPLifecycle() {
	t := suite.T()
	ctx := context.Background()
	authResp := suite.register("totp@test.com", "totptest")
	user := &authResp.User

	// Not enabled yet: every code passes
	assert.NoError(t, suite.authService.VerifyTOTP(user, ""))

	err := suite.authService.EnableTOTP(ctx, user, "123456")
	assert.ErrorIs(t, err, ErrTOTPNotSetUp)

	setup, err := suite.authService.SetupTOTP(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://totp/Vidlayer")

	assert.ErrorIs(t, suite.authService.EnableTOTP(ctx, user, "000000x"), ErrInvalidTOTPCode)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, suite.authService.EnableTOTP(ctx, user, code))

	var stored models.User
	require.NoError(t, suite.db.First(&stored, "id = ?", user.ID).Error)
	assert.True(t, stored.TwoFactorEnabled)

	assert.ErrorIs(t, suite.authService.VerifyTOTP(&stored, ""), ErrInvalidTOTPCode)
	assert.NoError(t, suite.authService.VerifyTOTP(&stored, code))

	_, err = suite.authService.SetupTOTP(ctx, &stored)
	assert.ErrorIs(t, err, ErrTOTPAlreadyEnabled)

	require.NoError(t, suite.authService.DisableTOTP(ctx, &stored, code))
	require.NoError(t, suite.db.First(&stored, "id = ?", user.ID).Error)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Nil(t, stored.TwoFactorSecret)
}

func (suite *AuthServiceTestSuite) TestGoogleDisabled() {
	_, err := suite.authService.GetGoogleOAuthURL("state")
	suite.ErrorIs(err, ErrOAuthDisabled)
	_, err = suite.authService.HandleGoogleCallback(context.Background(), "code")
	suite.ErrorIs(err, ErrOAuthDisabled)
}

func (suite *AuthServiceTestSuite) TestGoogleCallbackCreatesAndLinks() {
	t := suite.T()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
		case "/userinfo":
			assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"sub":"google-42","email":"new.person@gmail.com","email_verified":true,"name":"New Person","picture":"https://img/p.png"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	suite.authService.googleConfig = &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: server.URL + "/auth", TokenURL: server.URL + "/token"},
	}
	suite.authService.googleUserInfoURL = server.URL + "/userinfo"

	url, err := suite.authService.GetGoogleOAuthURL("abc")
	require.NoError(t, err)
	assert.Contains(t, url, "state=abc")

	resp, err := suite.authService.HandleGoogleCallback(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "newperson", resp.User.Username)
	require.NotNil(t, resp.User.GoogleID)
	assert.Equal(t, "google-42", *resp.User.GoogleID)

	// Second sign-in returns the same account
	again, err := suite.authService.HandleGoogleCallback(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, again.User.ID)

	var count int64
	suite.db.Model(&models.User{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func (suite *AuthServiceTestSuite) TestGoogleCallbackLinksExistingEmail() {
	t := suite.T()
	native := suite.register("new.person@gmail.com", "native")

	resp, err := suite.authService.findOrCreateUserFromOAuth(context.Background(), &OAuthUserInfo{
		ID: "google-7", Email: "New.Person@gmail.com", Name: "N",
	})
	require.NoError(t, err)
	assert.Equal(t, native.User.ID, resp.User.ID)

	var stored models.User
	require.NoError(t, suite.db.First(&stored, "id = ?", native.User.ID).Error)
	require.NotNil(t, stored.GoogleID)
	assert.Equal(t, "google-7", *stored.GoogleID)
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}
