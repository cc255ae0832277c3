package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential errors
	ErrWeakPassword       = errors.New("password does not meet strength requirements")
	ErrBreachedPassword   = errors.New("password appears in a known data breach")
	ErrInvalidCredentials = errors.New("invalid email or password")

	// OTP errors
	ErrRateLimited    = errors.New("too many verification codes requested")
	ErrOTPNotFound    = errors.New("no verification code found for this email")
	ErrOTPExpired     = errors.New("verification code has expired")
	ErrOTPExhausted   = errors.New("too many failed attempts, request a new code")
	ErrOTPAlreadyUsed = errors.New("verification code has already been used")
	ErrOTPMismatch    = errors.New("invalid verification code")

	// Collaborator errors
	ErrBreachServiceUnavailable = errors.New("breach lookup service unavailable")
	ErrDeliveryFailure          = errors.New("failed to deliver verification code")

	ErrInvalidResetGrant = errors.New("invalid or expired password reset grant")
)

// WeakPasswordError carries the evaluator's first unmet rule
type WeakPasswordError struct {
	Message string
	Score   int
}

func (e *WeakPasswordError) Error() string {
	return e.Message
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}

// BreachedPasswordError reports how often the password was seen in breaches
type BreachedPasswordError struct {
	Count int
}

func (e *BreachedPasswordError) Error() string {
	return fmt.Sprintf("password has appeared in %d known data breaches, choose a different password", e.Count)
}

func (e *BreachedPasswordError) Is(target error) bool {
	return target == ErrBreachedPassword
}

// RateLimitError reports how long the caller must wait before requesting another code
type RateLimitError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, try again in %s", e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// OTPMismatchError is returned for a wrong code while attempts remain
type OTPMismatchError struct {
	AttemptsRemaining int
}

func (e *OTPMismatchError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.AttemptsRemaining)
}

func (e *OTPMismatchError) Is(target error) bool {
	return target == ErrOTPMismatch
}
