package handlers_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/pitlane/internal/handlers"
	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/BradenHooton/pitlane/internal/services"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResetHandler(svc *handlers.MockPasswordResetService, status *handlers.MockOTPStatus) *handlers.PasswordResetHandler {
	if status == nil {
		status = &handlers.MockOTPStatus{}
	}
	return handlers.NewPasswordResetHandler(svc, status, &pkghttp.IPConfig{}, testLogger())
}

func TestRequestCode_Accepted(t *testing.T) {
	var gotMeta models.RequestMetadata
	mock := &handlers.MockPasswordResetService{
		RequestResetFunc: func(ctx context.Context, email string, meta models.RequestMetadata) (*services.ResetChallenge, error) {
			gotMeta = meta
			return &services.ResetChallenge{Message: "If an account exists, a code was sent", ExpiresInSeconds: 600}, nil
		},
	}
	handler := newResetHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/otp/request", handlers.RequestCodeRequest{Email: "driver@pitlane.test"})
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("User-Agent", "sim-rig/1.0")
	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	var resp services.ResetChallenge
	handlers.AssertJSONResponse(t, w, 202, &resp)
	assert.Equal(t, 600, resp.ExpiresInSeconds)
	assert.Equal(t, "203.0.113.9", gotMeta.IPAddress)
	assert.Equal(t, "sim-rig/1.0", gotMeta.UserAgent)
}

func TestRequestCode_RateLimited(t *testing.T) {
	mock := &handlers.MockPasswordResetService{
		RequestResetFunc: func(ctx context.Context, email string, meta models.RequestMetadata) (*services.ResetChallenge, error) {
			return nil, &models.RateLimitError{RetryAfter: 90*time.Second + 200*time.Millisecond, Reason: "please wait"}
		},
	}
	handler := newResetHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/otp/request", handlers.RequestCodeRequest{Email: "driver@pitlane.test"})
	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	resp := handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
	assert.Equal(t, "91", w.Header().Get("Retry-After"))
	assert.Equal(t, 91, resp.RetryAfterSeconds)
}

func TestRequestCode_DeliveryFailure(t *testing.T) {
	mock := &handlers.MockPasswordResetService{
		RequestResetFunc: func(ctx context.Context, email string, meta models.RequestMetadata) (*services.ResetChallenge, error) {
			return nil, fmt.Errorf("%w: ses throttled", models.ErrDeliveryFailure)
		},
	}
	handler := newResetHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/otp/request", handlers.RequestCodeRequest{Email: "driver@pitlane.test"})
	w := httptest.NewRecorder()
	handler.RequestCode(w, req)

	resp := handlers.AssertErrorResponse(t, w, 502, "delivery_failed")
	assert.NotContains(t, resp.Message, "ses")
}

func TestVerifyCode_Success(t *testing.T) {
	expires := time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC)
	mock := &handlers.MockPasswordResetService{
		VerifyCodeFunc: func(ctx context.Context, email, code string) (*services.ResetGrant, error) {
			assert.Equal(t, "042517", code)
			return &services.ResetGrant{Token: "grant-token", ExpiresAt: expires}, nil
		},
	}
	handler := newResetHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/otp/verify", handlers.VerifyCodeRequest{Email: "driver@pitlane.test", Code: "042517"})
	w := httptest.NewRecorder()
	handler.VerifyCode(w, req)

	var resp services.ResetGrant
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "grant-token", resp.Token)
	assert.True(t, expires.Equal(resp.ExpiresAt))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), `"reset_token"`)
}

func TestVerifyCode_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no code", models.ErrOTPNotFound, 404, "code_not_found"},
		{"expired", models.ErrOTPExpired, 410, "code_expired"},
		{"exhausted", models.ErrOTPExhausted, 410, "code_exhausted"},
		{"already used", models.ErrOTPAlreadyUsed, 409, "code_already_used"},
		{"contention", fmt.Errorf("%w: busy", models.ErrConflict), 409, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockPasswordResetService{
				VerifyCodeFunc: func(ctx context.Context, email, code string) (*services.ResetGrant, error) {
					return nil, tt.err
				},
			}
			handler := newResetHandler(mock, nil)

			req := handlers.NewTestRequest(t, "POST", "/auth/otp/verify", handlers.VerifyCodeRequest{Email: "driver@pitlane.test", Code: "123456"})
			w := httptest.NewRecorder()
			handler.VerifyCode(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestVerifyCode_MismatchReportsAttemptsRemaining(t *testing.T) {
	mock := &handlers.MockPasswordResetService{
		VerifyCodeFunc: func(ctx context.Context, email, code string) (*services.ResetGrant, error) {
			return nil, &models.OTPMismatchError{AttemptsRemaining: 2}
		},
	}
	handler := newResetHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/otp/verify", handlers.VerifyCodeRequest{Email: "driver@pitlane.test", Code: "123456"})
	w := httptest.NewRecorder()
	handler.VerifyCode(w, req)

	resp := handlers.AssertErrorResponse(t, w, 401, "invalid_code")
	require.NotNil(t, resp.AttemptsRemaining)
	assert.Equal(t, 2, *resp.AttemptsRemaining)
}

func TestVerifyCode_RejectsMalformedCode(t *testing.T) {
	handler := newResetHandler(&handlers.MockPasswordResetService{}, nil)

	for _, code := range []string{"12345", "1234567", "12a456", ""} {
		req := handlers.NewTestRequest(t, "POST", "/auth/otp/verify", handlers.VerifyCodeRequest{Email: "driver@pitlane.test", Code: code})
		w := httptest.NewRecorder()
		handler.VerifyCode(w, req)

		handlers.AssertErrorResponse(t, w, 400, "bad_request")
	}
}

func TestOTPStatus(t *testing.T) {
	handler := newResetHandler(&handlers.MockPasswordResetService{}, &handlers.MockOTPStatus{Remaining: 4*time.Minute + 30*time.Second})

	w := httptest.NewRecorder()
	handler.Status(w, httptest.NewRequest("GET", "/auth/otp/status?email=driver@pitlane.test", nil))

	var resp handlers.OTPStatusResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 270, resp.RemainingSeconds)
	assert.True(t, resp.CanResend)
}

func TestOTPStatus_InvalidEmail(t *testing.T) {
	handler := newResetHandler(&handlers.MockPasswordResetService{}, nil)

	w := httptest.NewRecorder()
	handler.Status(w, httptest.NewRequest("GET", "/auth/otp/status", nil))

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestCompleteReset(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid grant", models.ErrInvalidResetGrant, 401, "invalid_reset_token"},
		{"weak password", &models.WeakPasswordError{Message: "too weak"}, 400, "weak_password"},
		{"breached password", &models.BreachedPasswordError{Count: 7}, 400, "breached_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockPasswordResetService{
				CompleteResetFunc: func(ctx context.Context, grantToken, newPassword string) error {
					return tt.err
				},
			}
			handler := newResetHandler(mock, nil)

			req := handlers.NewTestRequest(t, "POST", "/auth/password/reset", handlers.CompleteResetRequest{
				ResetToken:  "grant",
				NewPassword: "N3w-Pit$top-2026",
			})
			w := httptest.NewRecorder()
			handler.CompleteReset(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}

	t.Run("success", func(t *testing.T) {
		handler := newResetHandler(&handlers.MockPasswordResetService{}, nil)

		req := handlers.NewTestRequest(t, "POST", "/auth/password/reset", handlers.CompleteResetRequest{
			ResetToken:  "grant",
			NewPassword: "N3w-Pit$top-2026",
		})
		w := httptest.NewRecorder()
		handler.CompleteReset(w, req)

		var resp handlers.MessageResponse
		handlers.AssertJSONResponse(t, w, 200, &resp)
	})
}
