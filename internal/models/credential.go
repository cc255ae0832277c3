package models

import (
	"strings"
	"time"
)

// Credential is the password record of an account, keyed by lower-case email
type Credential struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasLegacyPlaintext reports a stored value that predates hashing.
// bcrypt output is self-describing, so anything without the "$2" prefix is legacy.
func (c *Credential) HasLegacyPlaintext() bool {
	return c.PasswordHash != "" && !strings.HasPrefix(c.PasswordHash, "$2")
}

// NormalizeEmail trims and lower-cases an email for use as a lookup key
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
