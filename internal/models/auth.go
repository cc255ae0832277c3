package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const TokenTypePasswordReset = "password_reset"

// ResetClaims are carried by the short-lived grant minted after a reset code is verified
type ResetClaims struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	// PasswordStamp binds the grant to the password hash it was minted
	// against. Any later change invalidates the grant.
	PasswordStamp string `json:"pwd"`
	jwt.RegisteredClaims
}
