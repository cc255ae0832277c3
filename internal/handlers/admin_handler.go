package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/pitlane/internal/models"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
)

// AdminServiceInterface defines the admin console password tools.
type AdminServiceInterface interface {
	GeneratePassword(length int) (string, error)
	ResetUserPassword(ctx context.Context, email string, actor models.RequestMetadata) (string, error)
}

// AdminHandler handles admin password HTTP requests.
type AdminHandler struct {
	service  AdminServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, ipConfig: ipConfig, logger: logger}
}

// GeneratePasswordRequest is optional; an empty body uses the default length.
type GeneratePasswordRequest struct {
	Length int `json:"length" validate:"omitempty,gte=12,lte=64"`
}

// GeneratePasswordResponse returns the password with its evaluation.
type GeneratePasswordResponse struct {
	Password string                 `json:"password"`
	Strength pkgauth.StrengthResult `json:"strength"`
}

// AdminResetRequest names the account to reset.
type AdminResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// AdminResetResponse carries the temporary password for the admin to hand over.
type AdminResetResponse struct {
	Email             string `json:"email"`
	TemporaryPassword string `json:"temporary_password"`
}

// GeneratePassword handles POST /admin/passwords/generate
func (h *AdminHandler) GeneratePassword(w http.ResponseWriter, r *http.Request) {
	var req GeneratePasswordRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	password, err := h.service.GeneratePassword(req.Length)
	if err != nil {
		if errors.Is(err, pkgauth.ErrInvalidPasswordLength) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to generate password", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to generate password")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, GeneratePasswordResponse{
		Password: password,
		Strength: pkgauth.EvaluatePassword(password),
	})
}

// ResetUserPassword handles POST /admin/users/password-reset
func (h *AdminHandler) ResetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req AdminResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	actor := models.RequestMetadata{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.ExtractUserAgent(r),
	}

	password, err := h.service.ResetUserPassword(r.Context(), req.Email, actor)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("admin password reset failed", slog.Any("error", err))
		}
		writeServiceError(w, err, "Failed to reset password")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, AdminResetResponse{
		Email:             models.NormalizeEmail(req.Email),
		TemporaryPassword: password,
	})
}
