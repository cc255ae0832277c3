package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
)

const resetRequestedMessage = "If an account exists for this email, a verification code has been sent"

// OTPManager is the OTP surface the reset flow depends on
type OTPManager interface {
	Issue(ctx context.Context, req IssueRequest) (*models.OTPRecord, error)
	ReserveIssuance(ctx context.Context, email string, meta models.RequestMetadata) error
	ValidateFor(ctx context.Context, email, code string, purpose models.OTPPurpose) (*models.OTPValidation, error)
	InvalidateAll(ctx context.Context, email string) error
}

// PasswordReplacer stores a new password only over the expected current hash
type PasswordReplacer interface {
	ReplacePassword(ctx context.Context, email, expectedHash, password string) error
}

// ResetGrantManager mints and verifies reset grants
type ResetGrantManager interface {
	Issue(email, passwordHash string) (string, time.Time, error)
	Validate(token string) (*models.ResetClaims, error)
	MatchesPassword(claims *models.ResetClaims, passwordHash string) bool
}

// CredentialFinder looks up credentials by email
type CredentialFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.Credential, error)
}

// ResetChallenge is returned for every reset request, known email or not
type ResetChallenge struct {
	Message          string `json:"message"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// ResetGrant authorises one password change
type ResetGrant struct {
	Token     string    `json:"reset_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordResetService runs forgot-password: request code, verify code, set password
type PasswordResetService struct {
	credentials CredentialFinder
	passwords   PasswordReplacer
	otp         OTPManager
	grants      ResetGrantManager
	email       EmailService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	expiry      time.Duration
}

func NewPasswordResetService(
	credentials CredentialFinder,
	passwords PasswordReplacer,
	otp OTPManager,
	grants ResetGrantManager,
	email EmailService,
	expiryMinutes int,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetService {
	return &PasswordResetService{
		credentials: credentials,
		passwords:   passwords,
		otp:         otp,
		grants:      grants,
		email:       email,
		logger:      logger,
		auditLogger: auditLogger,
		expiry:      time.Duration(expiryMinutes) * time.Minute,
	}
}

// RequestReset issues and emails a reset code. Unknown emails get the same
// response and the same rate limiting, but nothing is issued or sent.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, meta models.RequestMetadata) (*ResetChallenge, error) {
	email = models.NormalizeEmail(email)
	challenge := &ResetChallenge{
		Message:          resetRequestedMessage,
		ExpiresInSeconds: int(s.expiry.Seconds()),
	}

	_, err := s.credentials.FindByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return s.requestForUnknown(ctx, email, meta, challenge)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	rec, err := s.otp.Issue(ctx, IssueRequest{
		Email:    email,
		Purpose:  models.OTPPurposePasswordReset,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	if err := s.email.SendOTPEmail(ctx, email, rec.Code, rec.ExpiresAt()); err != nil {
		// the user never saw this code; drop it so a retry starts clean
		if invErr := s.otp.InvalidateAll(ctx, email); invErr != nil {
			s.logger.Error("failed to invalidate undelivered otp", pkglogger.EmailAttr(email), slog.Any("error", invErr))
		}
		if !errors.Is(err, models.ErrDeliveryFailure) {
			err = fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
		}
		return nil, err
	}

	return challenge, nil
}

func (s *PasswordResetService) requestForUnknown(ctx context.Context, email string, meta models.RequestMetadata, challenge *ResetChallenge) (*ResetChallenge, error) {
	if err := s.otp.ReserveIssuance(ctx, email, meta); err != nil {
		return nil, err
	}

	s.logger.Info("password reset requested for unknown email")
	return challenge, nil
}

// VerifyCode validates the emailed code and returns a reset grant
func (s *PasswordResetService) VerifyCode(ctx context.Context, email, code string) (*ResetGrant, error) {
	email = models.NormalizeEmail(email)

	if _, err := s.otp.ValidateFor(ctx, email, code, models.OTPPurposePasswordReset); err != nil {
		return nil, err
	}

	cred, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	token, expiresAt, err := s.grants.Issue(email, cred.PasswordHash)
	if err != nil {
		return nil, err
	}
	return &ResetGrant{Token: token, ExpiresAt: expiresAt}, nil
}

// CompleteReset sets the new password. A grant is single use: it is bound to
// the password hash it was minted against, and the write only lands over that
// same hash, so of two concurrent uses at most one succeeds.
func (s *PasswordResetService) CompleteReset(ctx context.Context, grantToken, newPassword string) error {
	claims, err := s.grants.Validate(grantToken)
	if err != nil {
		return err
	}

	cred, err := s.credentials.FindByEmail(ctx, claims.Email)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrInvalidResetGrant
	}
	if err != nil {
		return fmt.Errorf("failed to look up credential: %w", err)
	}

	if !s.grants.MatchesPassword(claims, cred.PasswordHash) {
		return fmt.Errorf("%w: password changed since grant was issued", models.ErrInvalidResetGrant)
	}

	if err := s.passwords.ReplacePassword(ctx, claims.Email, cred.PasswordHash, newPassword); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return fmt.Errorf("%w: password changed since grant was issued", models.ErrInvalidResetGrant)
		}
		return err
	}

	if err := s.otp.InvalidateAll(ctx, claims.Email); err != nil {
		s.logger.Error("failed to invalidate otps after reset", pkglogger.EmailAttr(claims.Email), slog.Any("error", err))
	}

	s.auditLogger.LogPassword(ctx, pkglogger.AuditEvent{
		Type:     pkglogger.EventPasswordReset,
		Email:    claims.Email,
		Success:  true,
		Metadata: map[string]string{"grant_id": claims.ID},
	})
	return nil
}
