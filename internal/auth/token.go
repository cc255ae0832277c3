package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ResetTokenManager mints and checks the short-lived grant that authorises a
// password change after the reset code was verified
type ResetTokenManager struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

func NewResetTokenManager(secret string, expiry time.Duration, issuer string) *ResetTokenManager {
	return &ResetTokenManager{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		now:    time.Now,
	}
}

// SetClock replaces the time source, used by tests to simulate expiry
func (m *ResetTokenManager) SetClock(now func() time.Time) {
	m.now = now
}

// Issue signs a grant for email, bound to the current password hash, and
// returns it with its expiry
func (m *ResetTokenManager) Issue(email, passwordHash string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.expiry)

	claims := &models.ResetClaims{
		Type:          models.TokenTypePasswordReset,
		Email:         email,
		PasswordStamp: m.stamp(passwordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    m.issuer,
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign reset grant: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies signature, expiry, issuer and token type
func (m *ResetTokenManager) Validate(tokenString string) (*models.ResetClaims, error) {
	claims := &models.ResetClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidResetGrant, err)
	}
	if !token.Valid {
		return nil, models.ErrInvalidResetGrant
	}

	if claims.Type != models.TokenTypePasswordReset || claims.Email == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: wrong token type", models.ErrInvalidResetGrant)
	}

	return claims, nil
}

// MatchesPassword reports whether the grant was minted against passwordHash
func (m *ResetTokenManager) MatchesPassword(claims *models.ResetClaims, passwordHash string) bool {
	return hmac.Equal([]byte(claims.PasswordStamp), []byte(m.stamp(passwordHash)))
}

// stamp is keyed so the grant, which the user can read, reveals nothing about
// the stored hash
func (m *ResetTokenManager) stamp(passwordHash string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:16])
}
