package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zfogg/vidlayer/internal/models"
)

// MockCall records a method call for assertion
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockAuthService is a mock implementation of AuthServiceInterface for testing.
type MockAuthService struct {
	mu sync.Mutex

	// Call tracking
	Calls []MockCall

	// Configurable function overrides
	RegisterNativeUserFunc   func(req RegisterRequest) (*AuthResponse, error)
	LoginNativeUserFunc      func(req LoginRequest) (*AuthResponse, error)
	FindUserByEmailFunc      func(email string) (*models.User, error)
	ValidateTokenFunc        func(tokenString string) (*models.User, error)
	GetGoogleOAuthURLFunc    func(state string) (string, error)
	HandleGoogleCallbackFunc func(code string) (*AuthResponse, error)
	SetupTOTPFunc            func(user *models.User) (*TOTPSetup, error)
	EnableTOTPFunc           func(user *models.User, code string) error
	DisableTOTPFunc          func(user *models.User, code string) error

	// Default error to return
	DefaultError error

	// Pre-configured users for testing
	Users map[string]*models.User // keyed by email
}

// NewMockAuthService creates a new mock auth service with sensible defaults
func NewMockAuthService() *MockAuthService {
	return &MockAuthService{
		Calls: make([]MockCall, 0),
		Users: make(map[string]*models.User),
	}
}

// recordCall records a method call for later assertion
func (m *MockAuthService) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCalls returns all recorded calls (thread-safe)
func (m *MockAuthService) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// GetCallsForMethod returns calls for a specific method
func (m *MockAuthService) GetCallsForMethod(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []MockCall
	for _, call := range m.Calls {
		if call.Method == method {
			result = append(result, call)
		}
	}
	return result
}

// Reset clears all recorded calls
func (m *MockAuthService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]MockCall, 0)
}

// AssertCalled checks if a method was called at least once
func (m *MockAuthService) AssertCalled(method string) bool {
	return len(m.GetCallsForMethod(method)) > 0
}

// AddUser adds a test user to the mock service
func (m *MockAuthService) AddUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[user.Email] = user
}

// ============================================================================
// AuthServiceInterface implementation
// ============================================================================

func (m *MockAuthService) mockResponse(user *models.User) *AuthResponse {
	return &AuthResponse{
		Token:     "mock_token_" + user.ID,
		User:      *user,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func (m *MockAuthService) RegisterNativeUser(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	m.recordCall("RegisterNativeUser", req)
	if m.RegisterNativeUserFunc != nil {
		return m.RegisterNativeUserFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	_, exists := m.Users[req.Email]
	m.mu.Unlock()
	if exists {
		return nil, ErrUserExists
	}

	role := req.Role
	if role == "" {
		role = models.RoleViewer
	}
	user := &models.User{
		ID:          uuid.New().String(),
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Role:        role,
	}
	m.AddUser(user)

	return m.mockResponse(user), nil
}

func (m *MockAuthService) LoginNativeUser(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	m.recordCall("LoginNativeUser", req)
	if m.LoginNativeUserFunc != nil {
		return m.LoginNativeUserFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	user, exists := m.Users[req.Email]
	m.mu.Unlock()
	if !exists {
		return nil, ErrInvalidCredentials
	}
	return m.mockResponse(user), nil
}

func (m *MockAuthService) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.recordCall("FindUserByEmail", email)
	if m.FindUserByEmailFunc != nil {
		return m.FindUserByEmailFunc(email)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	user, exists := m.Users[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (m *MockAuthService) ValidateToken(ctx context.Context, tokenString string) (*models.User, error) {
	m.recordCall("ValidateToken", tokenString)
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	// Default: tokens issued by this mock are valid
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.Users {
		if tokenString == "mock_token_"+user.ID {
			return user, nil
		}
	}
	return nil, ErrInvalidToken
}

func (m *MockAuthService) GetGoogleOAuthURL(state string) (string, error) {
	m.recordCall("GetGoogleOAuthURL", state)
	if m.GetGoogleOAuthURLFunc != nil {
		return m.GetGoogleOAuthURLFunc(state)
	}
	return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state, nil
}

func (m *MockAuthService) HandleGoogleCallback(ctx context.Context, code string) (*AuthResponse, error) {
	m.recordCall("HandleGoogleCallback", code)
	if m.HandleGoogleCallbackFunc != nil {
		return m.HandleGoogleCallbackFunc(code)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return nil, ErrOAuthDisabled
}

func (m *MockAuthService) SetupTOTP(ctx context.Context, user *models.User) (*TOTPSetup, error) {
	m.recordCall("SetupTOTP", user.ID)
	if m.SetupTOTPFunc != nil {
		return m.SetupTOTPFunc(user)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return &TOTPSetup{
		Secret:     "JBSWY3DPEHPK3PXP",
		OTPAuthURL: "otpauth://totp/Vidlayer:" + user.Email + "?secret=JBSWY3DPEHPK3PXP&issuer=Vidlayer",
	}, nil
}

func (m *MockAuthService) EnableTOTP(ctx context.Context, user *models.User, code string) error {
	m.recordCall("EnableTOTP", user.ID, code)
	if m.EnableTOTPFunc != nil {
		return m.EnableTOTPFunc(user, code)
	}
	return m.DefaultError
}

func (m *MockAuthService) DisableTOTP(ctx context.Context, user *models.User, code string) error {
	m.recordCall("DisableTOTP", user.ID, code)
	if m.DisableTOTPFunc != nil {
		return m.DisableTOTPFunc(user, code)
	}
	return m.DefaultError
}

// Ensure MockAuthService implements AuthServiceInterface
var _ AuthServiceInterface = (*MockAuthService)(nil)
