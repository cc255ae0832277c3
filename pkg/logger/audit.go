package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventOTPIssued          = "otp_issued"
	EventOTPRateLimited     = "otp_rate_limited"
	EventOTPVerified        = "otp_verified"
	EventOTPRejected        = "otp_rejected"
	EventOTPInvalidated     = "otp_invalidated"
	EventPasswordSet        = "password_set"
	EventPasswordChange     = "password_change"
	EventPasswordReset      = "password_reset"
	EventAdminPasswordReset = "admin_password_reset"
	EventLogin              = "login"
	EventRegister           = "register"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	Type          string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events as structured "audit" records
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log records an event. Emails are masked; failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, auditType string, event AuditEvent) {
	if al == nil || al.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.Type),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Email != "" {
		attrs = append(attrs, EmailAttr(event.Email))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogOTP logs one-time passcode lifecycle events
func (al *AuditLogger) LogOTP(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "otp", event)
}

// LogPassword logs credential changes
func (al *AuditLogger) LogPassword(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "password", event)
}

// LogAuthAttempt logs authentication attempts
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "auth", event)
}
