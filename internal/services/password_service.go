package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/pitlane/internal/auth"
	"github.com/BradenHooton/pitlane/internal/models"
	pkgauth "github.com/BradenHooton/pitlane/pkg/auth"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
)

// CredentialRepository is the account store collaborator
type CredentialRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Credential, error)
	Create(ctx context.Context, cred *models.Credential) (*models.Credential, error)
	Upsert(ctx context.Context, cred *models.Credential) (*models.Credential, error)
	// SwapPassword writes next's password only while the stored hash still
	// equals expectedHash, returning models.ErrConflict otherwise
	SwapPassword(ctx context.Context, next *models.Credential, expectedHash string) (*models.Credential, error)
}

// BreachChecker reports whether a password appears in a breach corpus.
// Implementations fail open.
type BreachChecker interface {
	CheckBreach(ctx context.Context, password string) models.BreachInfo
}

// PasswordService accepts, stores and verifies password credentials
type PasswordService struct {
	repo        CredentialRepository
	breach      BreachChecker
	hasher      *pkgauth.Hasher
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewPasswordService(
	repo CredentialRepository,
	breach BreachChecker,
	hasher *pkgauth.Hasher,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordService {
	if timing == nil {
		timing = auth.NoTimingDelay()
	}
	return &PasswordService{
		repo:        repo,
		breach:      breach,
		hasher:      hasher,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for change timestamps
func (s *PasswordService) SetClock(now func() time.Time) {
	s.now = now
}

// CheckStrength evaluates a candidate password without side effects
func (s *PasswordService) CheckStrength(password string) pkgauth.StrengthResult {
	return pkgauth.EvaluatePassword(password)
}

// PreparePassword runs strength, breach and hash in that order and returns
// the hash to store
func (s *PasswordService) PreparePassword(ctx context.Context, password string) (string, error) {
	strength := pkgauth.EvaluatePassword(password)
	if !strength.IsValid {
		return "", &models.WeakPasswordError{Message: strength.Message, Score: strength.Score}
	}
	if len(password) > pkgauth.MaxPasswordBytes {
		return "", &models.WeakPasswordError{
			Message: fmt.Sprintf("Password must be at most %d bytes long", pkgauth.MaxPasswordBytes),
			Score:   strength.Score,
		}
	}

	if s.breach != nil {
		if info := s.breach.CheckBreach(ctx, password); info.Compromised {
			return "", &models.BreachedPasswordError{Count: info.Count}
		}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// Register creates a credential for a new email
func (s *PasswordService) Register(ctx context.Context, email, password string) (*models.Credential, error) {
	email = models.NormalizeEmail(email)

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	hash, err := s.PreparePassword(ctx, password)
	if err != nil {
		return nil, err
	}

	cred, err := s.repo.Create(ctx, &models.Credential{Email: email, PasswordHash: hash})
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogPassword(ctx, pkglogger.AuditEvent{Type: pkglogger.EventRegister, Email: email, Success: true})
	return cred, nil
}

// Authenticate verifies a password. Legacy plaintext records are migrated to
// a hash on the first successful match, and hashes below the configured cost
// are upgraded.
func (s *PasswordService) Authenticate(ctx context.Context, email, password string) (*models.Credential, error) {
	start := time.Now()
	email = models.NormalizeEmail(email)

	cred, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up credential: %w", err)
		}
		// burn a comparable amount of time so unknown emails are not distinguishable
		s.hasher.Verify(password, s.dummy())
		s.timing.WaitFrom(start, false)
		s.auditLogin(ctx, email, false, "unknown_email")
		return nil, models.ErrInvalidCredentials
	}

	var matched bool
	if cred.HasLegacyPlaintext() {
		matched = subtle.ConstantTimeCompare([]byte(password), []byte(cred.PasswordHash)) == 1
	} else {
		matched = s.hasher.Verify(password, cred.PasswordHash)
	}

	if !matched {
		s.timing.WaitFrom(start, false)
		s.auditLogin(ctx, email, false, "invalid_password")
		return nil, models.ErrInvalidCredentials
	}

	if cred.HasLegacyPlaintext() || s.hasher.NeedsRehash(cred.PasswordHash) {
		cred = s.upgradeHash(ctx, cred, password)
	}

	s.timing.WaitFrom(start, true)
	s.auditLogin(ctx, email, true, "")
	return cred, nil
}

// ChangePassword replaces the password after re-checking the current one
func (s *PasswordService) ChangePassword(ctx context.Context, email, current, next string) error {
	if _, err := s.Authenticate(ctx, email, current); err != nil {
		return err
	}
	if current == next {
		return &models.WeakPasswordError{Message: "New password must be different from the current password"}
	}

	if err := s.SetPassword(ctx, email, next); err != nil {
		return err
	}

	s.auditLogger.LogPassword(ctx, pkglogger.AuditEvent{Type: pkglogger.EventPasswordChange, Email: email, Success: true})
	return nil
}

// SetPassword validates and stores a new password for an existing credential.
// The new hash invalidates earlier reset grants.
func (s *PasswordService) SetPassword(ctx context.Context, email, password string) error {
	return s.ReplacePassword(ctx, email, "", password)
}

// ReplacePassword is SetPassword conditioned on the stored hash. An empty
// expectedHash means the hash read at the start of the call. A write that
// lost a race to another password change returns models.ErrConflict.
func (s *PasswordService) ReplacePassword(ctx context.Context, email, expectedHash, password string) error {
	email = models.NormalizeEmail(email)

	cred, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if expectedHash == "" {
		expectedHash = cred.PasswordHash
	} else if cred.PasswordHash != expectedHash {
		return fmt.Errorf("%w: password changed concurrently", models.ErrConflict)
	}

	hash, err := s.PreparePassword(ctx, password)
	if err != nil {
		return err
	}

	changedAt := s.now()
	next := *cred
	next.PasswordHash = hash
	next.PasswordChangedAt = &changedAt
	if _, err := s.repo.SwapPassword(ctx, &next, expectedHash); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}

	s.auditLogger.LogPassword(ctx, pkglogger.AuditEvent{Type: pkglogger.EventPasswordSet, Email: email, Success: true})
	return nil
}

// upgradeHash is best effort: a failed write leaves the old value in place and login still succeeds
func (s *PasswordService) upgradeHash(ctx context.Context, cred *models.Credential, password string) *models.Credential {
	legacy := cred.HasLegacyPlaintext()

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to rehash password", pkglogger.EmailAttr(cred.Email), slog.Any("error", err))
		return cred
	}

	// conditional so a reset that landed since the read is never overwritten
	updated := *cred
	updated.PasswordHash = hash
	saved, err := s.repo.SwapPassword(ctx, &updated, cred.PasswordHash)
	if errors.Is(err, models.ErrConflict) {
		s.logger.Info("skipped rehash of concurrently changed password", pkglogger.EmailAttr(cred.Email))
		return cred
	}
	if err != nil {
		s.logger.Error("failed to store rehashed password", pkglogger.EmailAttr(cred.Email), slog.Any("error", err))
		return cred
	}

	if legacy {
		s.logger.Info("migrated legacy plaintext credential", pkglogger.EmailAttr(cred.Email))
	} else {
		s.logger.Info("upgraded password hash cost", pkglogger.EmailAttr(cred.Email), slog.Int("cost", s.hasher.Cost()))
	}
	return saved
}

func (s *PasswordService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("timing-equaliser-placeholder")
		if err != nil {
			s.logger.Error("failed to build timing placeholder hash", slog.Any("error", err))
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *PasswordService) auditLogin(ctx context.Context, email string, success bool, reason string) {
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		Type:          pkglogger.EventLogin,
		Email:         email,
		Success:       success,
		FailureReason: reason,
	})
}
