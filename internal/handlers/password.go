package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/pitlane/internal/models"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
)

// PasswordServiceInterface defines the credential operations exposed over HTTP
type PasswordServiceInterface interface {
	CheckStrength(password string) pkgauth.StrengthResult
	Register(ctx context.Context, email, password string) (*models.Credential, error)
	Authenticate(ctx context.Context, email, password string) (*models.Credential, error)
	ChangePassword(ctx context.Context, email, current, next string) error
}

// BreachLookupInterface reports breach exposure, distinguishing "unavailable" from "clean"
type BreachLookupInterface interface {
	Lookup(ctx context.Context, password string) (*models.BreachInfo, error)
}

// PasswordHandler handles password strength, registration and login requests
type PasswordHandler struct {
	service PasswordServiceInterface
	breach  BreachLookupInterface
	logger  *slog.Logger
}

// NewPasswordHandler creates a new PasswordHandler
func NewPasswordHandler(service PasswordServiceInterface, breach BreachLookupInterface, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{
		service: service,
		breach:  breach,
		logger:  logger,
	}
}

// Request DTOs

// PasswordRequest carries a single candidate password
type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// CredentialsRequest represents the request body for register and login
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Response DTOs

// BreachCheckResponse reports a breach lookup. Checked is false when the
// lookup service could not be reached, in which case nothing is known.
type BreachCheckResponse struct {
	Checked     bool `json:"checked"`
	Compromised bool `json:"is_compromised"`
	Count       int  `json:"count"`
}

// LoginResponse confirms the authenticated identity
type LoginResponse struct {
	Authenticated bool   `json:"authenticated"`
	ID            string `json:"id"`
	Email         string `json:"email"`
}

// MessageResponse is a plain confirmation body
type MessageResponse struct {
	Message string `json:"message"`
}

// decodeAndValidate decodes a JSON body into dst and runs struct validation.
// It writes the 400 itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := pkghttp.DecodeJSON(w, r, dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// CheckStrength handles POST /auth/password/strength
func (h *PasswordHandler) CheckStrength(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.service.CheckStrength(req.Password))
}

// CheckBreach handles POST /auth/password/breach
func (h *PasswordHandler) CheckBreach(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	info, err := h.breach.Lookup(r.Context(), req.Password)
	if err != nil {
		if !errors.Is(err, models.ErrBreachServiceUnavailable) {
			h.logger.Error("breach lookup failed", slog.Any("error", err))
		}
		pkghttp.WriteJSON(w, http.StatusOK, BreachCheckResponse{Checked: false})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BreachCheckResponse{
		Checked:     true,
		Compromised: info.Compromised,
		Count:       info.Count,
	})
}

// Register handles POST /auth/register
func (h *PasswordHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cred, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "An account with this email already exists")
			return
		}
		h.logFailure("registration failed", err)
		writeServiceError(w, err, "Failed to register")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, cred)
}

// Login handles POST /auth/login
func (h *PasswordHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cred, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure("login failed", err)
		writeServiceError(w, err, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Authenticated: true,
		ID:            cred.ID,
		Email:         cred.Email,
	})
}

// ChangePassword handles POST /auth/password/change
func (h *PasswordHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), req.Email, req.CurrentPassword, req.NewPassword); err != nil {
		h.logFailure("password change failed", err)
		writeServiceError(w, err, "Failed to change password")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password changed"})
}

// logFailure logs only unexpected errors; expected rejections are audited by the services
func (h *PasswordHandler) logFailure(msg string, err error) {
	if isExpected(err) {
		return
	}
	h.logger.Error(msg, slog.Any("error", err))
}

func isExpected(err error) bool {
	for _, target := range []error{
		models.ErrWeakPassword,
		models.ErrBreachedPassword,
		models.ErrInvalidCredentials,
		models.ErrRateLimited,
		models.ErrOTPNotFound,
		models.ErrOTPExpired,
		models.ErrOTPExhausted,
		models.ErrOTPAlreadyUsed,
		models.ErrOTPMismatch,
		models.ErrInvalidResetGrant,
		models.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
