package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/BradenHooton/pitlane/internal/services"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response and returns it
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockPasswordService implements PasswordServiceInterface for testing
type MockPasswordService struct {
	RegisterFunc       func(ctx context.Context, email, password string) (*models.Credential, error)
	AuthenticateFunc   func(ctx context.Context, email, password string) (*models.Credential, error)
	ChangePasswordFunc func(ctx context.Context, email, current, next string) error
}

func (m *MockPasswordService) CheckStrength(password string) pkgauth.StrengthResult {
	return pkgauth.EvaluatePassword(password)
}

func (m *MockPasswordService) Register(ctx context.Context, email, password string) (*models.Credential, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password)
}

func (m *MockPasswordService) Authenticate(ctx context.Context, email, password string) (*models.Credential, error) {
	if m.AuthenticateFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.AuthenticateFunc(ctx, email, password)
}

func (m *MockPasswordService) ChangePassword(ctx context.Context, email, current, next string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, email, current, next)
}

// MockBreachLookup implements BreachLookupInterface for testing
type MockBreachLookup struct {
	LookupFunc func(ctx context.Context, password string) (*models.BreachInfo, error)
}

func (m *MockBreachLookup) Lookup(ctx context.Context, password string) (*models.BreachInfo, error) {
	if m.LookupFunc == nil {
		return &models.BreachInfo{}, nil
	}
	return m.LookupFunc(ctx, password)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestResetFunc  func(ctx context.Context, email string, meta models.RequestMetadata) (*services.ResetChallenge, error)
	VerifyCodeFunc    func(ctx context.Context, email, code string) (*services.ResetGrant, error)
	CompleteResetFunc func(ctx context.Context, grantToken, newPassword string) error
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email string, meta models.RequestMetadata) (*services.ResetChallenge, error) {
	if m.RequestResetFunc == nil {
		return &services.ResetChallenge{Message: "sent", ExpiresInSeconds: 600}, nil
	}
	return m.RequestResetFunc(ctx, email, meta)
}

func (m *MockPasswordResetService) VerifyCode(ctx context.Context, email, code string) (*services.ResetGrant, error) {
	if m.VerifyCodeFunc == nil {
		return nil, models.ErrOTPNotFound
	}
	return m.VerifyCodeFunc(ctx, email, code)
}

func (m *MockPasswordResetService) CompleteReset(ctx context.Context, grantToken, newPassword string) error {
	if m.CompleteResetFunc == nil {
		return nil
	}
	return m.CompleteResetFunc(ctx, grantToken, newPassword)
}

// MockOTPStatus implements OTPStatusInterface for testing
type MockOTPStatus struct {
	Remaining time.Duration
}

func (m *MockOTPStatus) RemainingTime(ctx context.Context, email string) time.Duration {
	return m.Remaining
}

func (m *MockOTPStatus) CanResend(ctx context.Context, email string) bool {
	return m.Remaining <= 5*time.Minute
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	GeneratePasswordFunc  func(length int) (string, error)
	ResetUserPasswordFunc func(ctx context.Context, email string, actor models.RequestMetadata) (string, error)
}

func (m *MockAdminService) GeneratePassword(length int) (string, error) {
	if m.GeneratePasswordFunc == nil {
		return pkgauth.GeneratePassword(length)
	}
	return m.GeneratePasswordFunc(length)
}

func (m *MockAdminService) ResetUserPassword(ctx context.Context, email string, actor models.RequestMetadata) (string, error) {
	if m.ResetUserPasswordFunc == nil {
		return "", models.ErrNotFound
	}
	return m.ResetUserPasswordFunc(ctx, email, actor)
}
