package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/pitlane/internal/models"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
)

// PasswordSetter stores a new password for an existing credential
type PasswordSetter interface {
	SetPassword(ctx context.Context, email, password string) error
}

// OTPInvalidator drops live codes for an email
type OTPInvalidator interface {
	InvalidateAll(ctx context.Context, email string) error
}

// AdminService backs the admin console's password tools
type AdminService struct {
	passwords   PasswordSetter
	otp         OTPInvalidator
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewAdminService(passwords PasswordSetter, otp OTPInvalidator, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AdminService {
	return &AdminService{
		passwords:   passwords,
		otp:         otp,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// GeneratePassword returns a random password that satisfies the strength policy
func (s *AdminService) GeneratePassword(length int) (string, error) {
	password, err := pkgauth.GeneratePassword(length)
	if err != nil {
		return "", err
	}
	return password, nil
}

// ResetUserPassword replaces a user's password with a generated one and
// returns it for the admin to hand over. Any outstanding codes are dropped.
func (s *AdminService) ResetUserPassword(ctx context.Context, email string, actor models.RequestMetadata) (string, error) {
	email = models.NormalizeEmail(email)

	password, err := pkgauth.GeneratePassword(pkgauth.DefaultGeneratedLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}

	if err := s.passwords.SetPassword(ctx, email, password); err != nil {
		s.auditLogger.LogPassword(ctx, pkglogger.AuditEvent{
			Type:          pkglogger.EventAdminPasswordReset,
			Email:         email,
			IPAddress:     actor.IPAddress,
			UserAgent:     actor.UserAgent,
			FailureReason: err.Error(),
		})
		return "", err
	}

	if err := s.otp.InvalidateAll(ctx, email); err != nil {
		s.logger.Error("failed to invalidate otps after admin reset", pkglogger.EmailAttr(email), slog.Any("error", err))
	}

	s.auditLogger.LogPassword(ctx, pkglogger.AuditEvent{
		Type:      pkglogger.EventAdminPasswordReset,
		Email:     email,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
		Success:   true,
	})
	return password, nil
}
