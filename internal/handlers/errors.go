package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/pitlane/internal/models"
	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
)

// writeServiceError maps a service error onto a status code and error body.
// Anything unrecognised becomes a 500 carrying fallback, never err itself.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		weak     *models.WeakPasswordError
		breached *models.BreachedPasswordError
		limited  *models.RateLimitError
		mismatch *models.OTPMismatchError
	)

	switch {
	case errors.As(err, &weak):
		pkghttp.WriteError(w, http.StatusBadRequest, "weak_password", weak.Message)
	case errors.As(err, &breached):
		pkghttp.WriteError(w, http.StatusBadRequest, "breached_password", breached.Error())
	case errors.As(err, &limited):
		pkghttp.WriteTooManyRequests(w, limited.Error(), limited.RetryAfter)
	case errors.As(err, &mismatch):
		remaining := mismatch.AttemptsRemaining
		pkghttp.WriteErrorResponse(w, http.StatusUnauthorized, pkghttp.ErrorResponse{
			Error:             "invalid_code",
			Message:           mismatch.Error(),
			AttemptsRemaining: &remaining,
		})
	case errors.Is(err, models.ErrOTPNotFound):
		pkghttp.WriteError(w, http.StatusNotFound, "code_not_found", models.ErrOTPNotFound.Error())
	case errors.Is(err, models.ErrOTPExpired):
		pkghttp.WriteError(w, http.StatusGone, "code_expired", models.ErrOTPExpired.Error())
	case errors.Is(err, models.ErrOTPExhausted):
		pkghttp.WriteError(w, http.StatusGone, "code_exhausted", models.ErrOTPExhausted.Error())
	case errors.Is(err, models.ErrOTPAlreadyUsed):
		pkghttp.WriteError(w, http.StatusConflict, "code_already_used", models.ErrOTPAlreadyUsed.Error())
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Request conflicts with the current state, please retry")
	case errors.Is(err, models.ErrDeliveryFailure):
		pkghttp.WriteBadGateway(w, "delivery_failed", "Could not send the verification code, please try again")
	case errors.Is(err, models.ErrInvalidResetGrant):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_reset_token", models.ErrInvalidResetGrant.Error())
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Account not found")
	default:
		pkghttp.WriteInternalError(w, fallback)
	}
}
