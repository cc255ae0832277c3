package models

import (
	"time"
)

// OTPPurpose scopes what a verification code may be used for
type OTPPurpose string

const (
	OTPPurposePasswordReset     OTPPurpose = "password_reset"
	OTPPurposeEmailVerification OTPPurpose = "email_verification"
)

// RequestMetadata describes the request that triggered an issuance. Informational only.
type RequestMetadata struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// OTPRecord is the plaintext form of an issued code. It only exists in memory;
// stores receive it encrypted inside a StoredOTP.
type OTPRecord struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Email         string          `json:"email"`
	Purpose       OTPPurpose      `json:"purpose"`
	IssuedAt      time.Time       `json:"issued_at"`
	ExpiryMinutes int             `json:"expiry_minutes"`
	Attempts      int             `json:"attempts"`
	Used          bool            `json:"used"`
	Metadata      RequestMetadata `json:"metadata"`
}

// ExpiresAt returns the instant the code stops being accepted
func (r *OTPRecord) ExpiresAt() time.Time {
	return r.IssuedAt.Add(time.Duration(r.ExpiryMinutes) * time.Minute)
}

// IsExpired checks if the code has expired at now
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// Remaining returns the validity left at now, never negative
func (r *OTPRecord) Remaining(now time.Time) time.Duration {
	d := r.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// StoredOTP is what OTP stores persist. Revision changes on every write and
// guards conditional updates.
type StoredOTP struct {
	Email      string
	Ciphertext string
	ExpiresAt  time.Time
	Revision   string
}

// OTPValidation is the outcome of checking a submitted code
type OTPValidation struct {
	Valid             bool          `json:"is_valid"`
	Message           string        `json:"message"`
	AttemptsRemaining *int          `json:"attempts_remaining,omitempty"`
	TimeRemaining     time.Duration `json:"-"`
	Purpose           OTPPurpose    `json:"-"`
}
