package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
)

// IssuanceRepository stores the per-email OTP issuance history
type IssuanceRepository interface {
	RecordIssuance(ctx context.Context, email string, at time.Time, keep int) error
	IssuancesSince(ctx context.Context, email string, since time.Time) ([]time.Time, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IssuanceLimitConfig holds the two issuance gates
type IssuanceLimitConfig struct {
	MaxPerWindow int           // issuances allowed per rolling window
	Window       time.Duration // rolling window length
	MinSpacing   time.Duration // minimum gap between two issuances
	HistorySize  int           // entries kept per email
}

// DefaultIssuanceLimitConfig is 3 per rolling hour, 2 minutes apart, last 10 kept
func DefaultIssuanceLimitConfig() IssuanceLimitConfig {
	return IssuanceLimitConfig{
		MaxPerWindow: 3,
		Window:       time.Hour,
		MinSpacing:   2 * time.Minute,
		HistorySize:  10,
	}
}

// IssuanceLimiter decides whether another code may be issued for an email
type IssuanceLimiter struct {
	repo   IssuanceRepository
	config IssuanceLimitConfig
	logger *slog.Logger
}

func NewIssuanceLimiter(repo IssuanceRepository, config IssuanceLimitConfig, logger *slog.Logger) *IssuanceLimiter {
	return &IssuanceLimiter{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// CheckIssuance returns a *models.RateLimitError when either gate is closed.
// The hourly cap is checked first so its (longer) wait is reported.
func (l *IssuanceLimiter) CheckIssuance(ctx context.Context, email string, now time.Time) error {
	recent, err := l.repo.IssuancesSince(ctx, email, now.Add(-l.config.Window))
	if err != nil {
		// Fail open: a history outage must not lock everyone out of password reset
		l.logger.Error("failed to load otp issuance history",
			pkglogger.EmailAttr(email),
			slog.Any("error", err))
		return nil
	}

	if n := len(recent); n >= l.config.MaxPerWindow {
		// the window reopens when the oldest of the last MaxPerWindow entries ages out
		oldest := recent[n-l.config.MaxPerWindow]
		return &models.RateLimitError{
			RetryAfter: oldest.Add(l.config.Window).Sub(now),
			Reason:     "too many verification codes requested",
		}
	}

	if n := len(recent); n > 0 {
		last := recent[n-1]
		if wait := last.Add(l.config.MinSpacing).Sub(now); wait > 0 {
			return &models.RateLimitError{
				RetryAfter: wait,
				Reason:     "please wait before requesting another code",
			}
		}
	}

	return nil
}

// RecordIssuance appends now to the email's history
func (l *IssuanceLimiter) RecordIssuance(ctx context.Context, email string, now time.Time) error {
	return l.repo.RecordIssuance(ctx, email, now, l.config.HistorySize)
}

// Prune drops history that can no longer affect any decision
func (l *IssuanceLimiter) Prune(ctx context.Context, now time.Time) (int64, error) {
	return l.repo.DeleteBefore(ctx, now.Add(-l.config.Window))
}
