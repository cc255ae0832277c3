package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/BradenHooton/pitlane/internal/services"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
)

// PasswordResetServiceInterface defines the forgot-password flow
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email string, meta models.RequestMetadata) (*services.ResetChallenge, error)
	VerifyCode(ctx context.Context, email, code string) (*services.ResetGrant, error)
	CompleteReset(ctx context.Context, grantToken, newPassword string) error
}

// OTPStatusInterface exposes the countdown hints
type OTPStatusInterface interface {
	RemainingTime(ctx context.Context, email string) time.Duration
	CanResend(ctx context.Context, email string) bool
}

// PasswordResetHandler handles the OTP based password reset endpoints
type PasswordResetHandler struct {
	service  PasswordResetServiceInterface
	status   OTPStatusInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(service PasswordResetServiceInterface, status OTPStatusInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *PasswordResetHandler {
	return &PasswordResetHandler{
		service:  service,
		status:   status,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// RequestCodeRequest represents the request body for requesting a reset code
type RequestCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// VerifyCodeRequest represents the request body for verifying a reset code
type VerifyCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// CompleteResetRequest represents the request body for setting the new password
type CompleteResetRequest struct {
	ResetToken  string `json:"reset_token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// OTPStatusResponse drives the resend countdown in the UI
type OTPStatusResponse struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	CanResend        bool `json:"can_resend"`
}

// RequestCode handles POST /auth/otp/request
func (h *PasswordResetHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	meta := models.RequestMetadata{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.ExtractUserAgent(r),
	}

	challenge, err := h.service.RequestReset(r.Context(), req.Email, meta)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("reset code request failed", slog.Any("error", err))
		}
		writeServiceError(w, err, "Failed to request verification code")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, challenge)
}

// VerifyCode handles POST /auth/otp/verify
func (h *PasswordResetHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	grant, err := h.service.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("reset code verification failed", slog.Any("error", err))
		}
		writeServiceError(w, err, "Failed to verify code")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, grant)
}

// Status handles GET /auth/otp/status?email=
func (h *PasswordResetHandler) Status(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		pkghttp.WriteBadRequest(w, "validation failed: email: must be a valid email address")
		return
	}

	remaining := h.status.RemainingTime(r.Context(), email)
	pkghttp.WriteJSON(w, http.StatusOK, OTPStatusResponse{
		RemainingSeconds: pkghttp.RetryAfterSeconds(remaining),
		CanResend:        h.status.CanResend(r.Context(), email),
	})
}

// CompleteReset handles POST /auth/password/reset
func (h *PasswordResetHandler) CompleteReset(w http.ResponseWriter, r *http.Request) {
	var req CompleteResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.CompleteReset(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		if !isExpected(err) {
			h.logger.Error("password reset failed", slog.Any("error", err))
		}
		writeServiceError(w, err, "Failed to reset password")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset"})
}
