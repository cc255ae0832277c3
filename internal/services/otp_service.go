package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
	"github.com/google/uuid"
)

const (
	otpCodeLength = 6

	// attempts at a conditional write before giving up under contention
	maxSwapRetries = 4

	lockStripes = 64
)

// OTPRepository persists sealed OTP records keyed by normalised email
type OTPRepository interface {
	Get(ctx context.Context, email string) (*models.StoredOTP, error)
	Put(ctx context.Context, rec *models.StoredOTP) error
	Swap(ctx context.Context, next *models.StoredOTP, expectedRevision string) error
	Remove(ctx context.Context, email, revision string) error
	Delete(ctx context.Context, email string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RecordSealer encrypts records before they are stored
type RecordSealer interface {
	Encrypt(plaintext, aad []byte) (string, error)
	Decrypt(sealed string, aad []byte) ([]byte, error)
}

// OTPConfig holds code lifetime and attempt limits
type OTPConfig struct {
	ExpiryMinutes   int
	MaxAttempts     int
	ResendThreshold time.Duration
}

func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		ExpiryMinutes:   10,
		MaxAttempts:     5,
		ResendThreshold: 5 * time.Minute,
	}
}

// IssueRequest describes a code to issue. Zero ExpiryMinutes uses the configured default.
type IssueRequest struct {
	Email         string
	Purpose       models.OTPPurpose
	ExpiryMinutes int
	Metadata      models.RequestMetadata
}

// OTPService issues and validates emailed one-time codes
type OTPService struct {
	repo        OTPRepository
	limiter     *IssuanceLimiter
	sealer      RecordSealer
	config      OTPConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
	locks       stripedLock
}

func NewOTPService(
	repo OTPRepository,
	limiter *IssuanceLimiter,
	sealer RecordSealer,
	config OTPConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *OTPService {
	return &OTPService{
		repo:        repo,
		limiter:     limiter,
		sealer:      sealer,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock replaces the time source, used by tests to skip time
func (s *OTPService) SetClock(now func() time.Time) {
	s.now = now
}

// Issue creates a fresh code for the email, superseding any previous one
func (s *OTPService) Issue(ctx context.Context, req IssueRequest) (*models.OTPRecord, error) {
	email := models.NormalizeEmail(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}

	expiry := req.ExpiryMinutes
	if expiry <= 0 {
		expiry = s.config.ExpiryMinutes
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = models.OTPPurposePasswordReset
	}

	// serialise issuance per email so two requests cannot both pass the rate check
	unlock := s.locks.lock(email)
	defer unlock()

	now := s.now()

	if err := s.checkIssuance(ctx, email, now, req.Metadata); err != nil {
		return nil, err
	}

	code, err := pkgauth.GenerateNumericCode(otpCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}

	rec := &models.OTPRecord{
		ID:            uuid.New().String(),
		Code:          code,
		Email:         email,
		Purpose:       purpose,
		IssuedAt:      now,
		ExpiryMinutes: expiry,
		Metadata:      req.Metadata,
	}

	stored, err := s.seal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, stored); err != nil {
		s.logger.Error("failed to store otp", pkglogger.EmailAttr(email), slog.Any("error", err))
		return nil, fmt.Errorf("failed to store otp: %w", err)
	}

	if err := s.limiter.RecordIssuance(ctx, email, now); err != nil {
		s.logger.Error("failed to record otp issuance", pkglogger.EmailAttr(email), slog.Any("error", err))
	}

	s.auditLogger.LogOTP(ctx, pkglogger.AuditEvent{
		Type:      pkglogger.EventOTPIssued,
		Email:     email,
		IPAddress: req.Metadata.IPAddress,
		UserAgent: req.Metadata.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"purpose": string(purpose), "otp_id": rec.ID},
	})

	return rec, nil
}

// ReserveIssuance counts an issuance against the email's limits without
// creating a code, under the same per-email lock as Issue.
func (s *OTPService) ReserveIssuance(ctx context.Context, email string, meta models.RequestMetadata) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}

	unlock := s.locks.lock(email)
	defer unlock()

	now := s.now()
	if err := s.checkIssuance(ctx, email, now, meta); err != nil {
		return err
	}
	if err := s.limiter.RecordIssuance(ctx, email, now); err != nil {
		s.logger.Error("failed to record otp issuance", pkglogger.EmailAttr(email), slog.Any("error", err))
	}
	return nil
}

func (s *OTPService) checkIssuance(ctx context.Context, email string, now time.Time, meta models.RequestMetadata) error {
	err := s.limiter.CheckIssuance(ctx, email, now)
	if err != nil {
		s.auditLogger.LogOTP(ctx, pkglogger.AuditEvent{
			Type:          pkglogger.EventOTPRateLimited,
			Email:         email,
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			FailureReason: err.Error(),
		})
	}
	return err
}

// Validate checks a submitted code of any purpose. The returned OTPValidation
// is never nil; on failure the error is one of the models.ErrOTP* kinds.
func (s *OTPService) Validate(ctx context.Context, email, code string) (*models.OTPValidation, error) {
	return s.ValidateFor(ctx, email, code, "")
}

// ValidateFor is Validate restricted to codes issued for purpose. A code
// issued for anything else reports models.ErrOTPNotFound and is left untouched.
func (s *OTPService) ValidateFor(ctx context.Context, email, code string, purpose models.OTPPurpose) (*models.OTPValidation, error) {
	email = models.NormalizeEmail(email)
	code = strings.ToUpper(strings.TrimSpace(code))

	for i := 0; i < maxSwapRetries; i++ {
		result, err := s.validateOnce(ctx, email, code, purpose)
		if errors.Is(err, models.ErrConflict) {
			// another request changed the record between our read and write
			continue
		}
		s.auditValidation(ctx, email, err)
		return result, err
	}

	s.logger.Warn("otp validation gave up under contention", pkglogger.EmailAttr(email))
	err := fmt.Errorf("%w: verification code is being checked concurrently", models.ErrConflict)
	return rejected(err), err
}

func (s *OTPService) validateOnce(ctx context.Context, email, code string, purpose models.OTPPurpose) (*models.OTPValidation, error) {
	stored, err := s.repo.Get(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return rejected(models.ErrOTPNotFound), models.ErrOTPNotFound
	}
	if err != nil {
		return rejected(models.ErrInternalServer), fmt.Errorf("failed to load otp: %w", err)
	}

	rec, err := s.open(stored)
	if err != nil {
		s.logger.Error("discarding unreadable otp record", pkglogger.EmailAttr(email), slog.Any("error", err))
		if err := s.repo.Remove(ctx, email, stored.Revision); err != nil {
			return rejected(models.ErrOTPNotFound), err
		}
		return rejected(models.ErrOTPNotFound), models.ErrOTPNotFound
	}

	if purpose != "" && rec.Purpose != purpose {
		return rejected(models.ErrOTPNotFound), models.ErrOTPNotFound
	}

	now := s.now()

	if rec.Used {
		return rejected(models.ErrOTPAlreadyUsed), models.ErrOTPAlreadyUsed
	}

	if rec.IsExpired(now) {
		if err := s.repo.Remove(ctx, email, stored.Revision); err != nil {
			return rejected(models.ErrOTPExpired), err
		}
		return rejected(models.ErrOTPExpired), models.ErrOTPExpired
	}

	if rec.Attempts >= s.config.MaxAttempts {
		if err := s.repo.Remove(ctx, email, stored.Revision); err != nil {
			return rejected(models.ErrOTPExhausted), err
		}
		return rejected(models.ErrOTPExhausted), models.ErrOTPExhausted
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(strings.ToUpper(rec.Code))) != 1 {
		rec.Attempts++
		if err := s.swap(ctx, rec, stored.Revision); err != nil {
			return rejected(models.ErrOTPMismatch), err
		}

		remaining := s.config.MaxAttempts - rec.Attempts
		mismatch := &models.OTPMismatchError{AttemptsRemaining: remaining}
		result := rejected(mismatch)
		result.AttemptsRemaining = &remaining
		return result, mismatch
	}

	// the used flag is written with a conditional swap, so of two racing
	// submissions of the right code only one can succeed
	rec.Used = true
	if err := s.swap(ctx, rec, stored.Revision); err != nil {
		return rejected(models.ErrOTPAlreadyUsed), err
	}

	return &models.OTPValidation{
		Valid:         true,
		Message:       "Verification successful",
		TimeRemaining: rec.Remaining(now),
		Purpose:       rec.Purpose,
	}, nil
}

// InvalidateAll removes any live code for the email
func (s *OTPService) InvalidateAll(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if err := s.repo.Delete(ctx, email); err != nil {
		return fmt.Errorf("failed to invalidate otp: %w", err)
	}

	s.auditLogger.LogOTP(ctx, pkglogger.AuditEvent{
		Type:    pkglogger.EventOTPInvalidated,
		Email:   email,
		Success: true,
	})
	return nil
}

// RemainingTime returns how long the current code stays valid. It never
// fails: absent, unreadable, used or expired records all report zero.
func (s *OTPService) RemainingTime(ctx context.Context, email string) time.Duration {
	email = models.NormalizeEmail(email)

	stored, err := s.repo.Get(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("failed to read otp for remaining time", pkglogger.EmailAttr(email), slog.Any("error", err))
		}
		return 0
	}

	rec, err := s.open(stored)
	if err != nil || rec.Used {
		return 0
	}
	return rec.Remaining(s.now())
}

// CanResend is a display hint for the countdown UI. It is not a security
// control; the issuance limiter is authoritative.
func (s *OTPService) CanResend(ctx context.Context, email string) bool {
	return s.RemainingTime(ctx, email) <= s.config.ResendThreshold
}

// CleanupExpired deletes expired records and stale issuance history
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()

	removed, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otps: %w", err)
	}

	if _, err := s.limiter.Prune(ctx, now); err != nil {
		s.logger.Warn("failed to prune otp issuance history", slog.Any("error", err))
	}

	return removed, nil
}

func (s *OTPService) swap(ctx context.Context, rec *models.OTPRecord, expectedRevision string) error {
	next, err := s.seal(rec)
	if err != nil {
		return err
	}
	return s.repo.Swap(ctx, next, expectedRevision)
}

func (s *OTPService) seal(rec *models.OTPRecord) (*models.StoredOTP, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode otp: %w", err)
	}

	ciphertext, err := s.sealer.Encrypt(plaintext, []byte(rec.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt otp: %w", err)
	}

	return &models.StoredOTP{
		Email:      rec.Email,
		Ciphertext: ciphertext,
		ExpiresAt:  rec.ExpiresAt(),
		Revision:   uuid.New().String(),
	}, nil
}

func (s *OTPService) open(stored *models.StoredOTP) (*models.OTPRecord, error) {
	plaintext, err := s.sealer.Decrypt(stored.Ciphertext, []byte(stored.Email))
	if err != nil {
		return nil, err
	}

	var rec models.OTPRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode otp: %w", err)
	}
	if rec.Email != stored.Email {
		return nil, fmt.Errorf("otp record email mismatch")
	}
	return &rec, nil
}

func (s *OTPService) auditValidation(ctx context.Context, email string, err error) {
	event := pkglogger.AuditEvent{Type: pkglogger.EventOTPVerified, Email: email, Success: err == nil}
	if err != nil {
		event.Type = pkglogger.EventOTPRejected
		event.FailureReason = err.Error()
	}
	s.auditLogger.LogOTP(ctx, event)
}

func rejected(err error) *models.OTPValidation {
	return &models.OTPValidation{Valid: false, Message: err.Error()}
}

// stripedLock hashes keys onto a fixed set of mutexes
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
