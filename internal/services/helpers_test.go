package services_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/pitlane/internal/auth"
	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/BradenHooton/pitlane/internal/repositories"
	"github.com/BradenHooton/pitlane/internal/services"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable time source shared by every service under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCipher(t *testing.T) *auth.RecordCipher {
	t.Helper()
	ring, err := auth.NewStaticKeyRing("test", map[string][]byte{"test": bytes.Repeat([]byte{7}, 32)})
	require.NoError(t, err)
	return auth.NewRecordCipher(ring)
}

// otpFixture wires an OTPService to in-memory stores and a fake clock
type otpFixture struct {
	svc       *services.OTPService
	limiter   *services.IssuanceLimiter
	repo      *repositories.MemoryOTPRepository
	issuances *repositories.MemoryOTPIssuanceRepository
	clock     *fakeClock
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()

	logger := discardLogger()
	repo := repositories.NewMemoryOTPRepository()
	issuances := repositories.NewMemoryOTPIssuanceRepository()
	limiter := services.NewIssuanceLimiter(issuances, services.DefaultIssuanceLimitConfig(), logger)
	clock := newFakeClock()

	svc := services.NewOTPService(repo, limiter, testCipher(t), services.DefaultOTPConfig(), logger, pkglogger.NewAuditLogger(logger))
	svc.SetClock(clock.Now)

	return &otpFixture{svc: svc, limiter: limiter, repo: repo, issuances: issuances, clock: clock}
}

func (f *otpFixture) issue(t *testing.T, email string) *models.OTPRecord {
	t.Helper()
	rec, err := f.svc.Issue(context.Background(), services.IssueRequest{Email: email})
	require.NoError(t, err)
	return rec
}

// wrongCode returns a six digit code different from code
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

// mockEmailService records deliveries and can be told to fail
type mockEmailService struct {
	mu    sync.Mutex
	sent  map[string]string
	calls int
	err   error
}

func newMockEmailService() *mockEmailService {
	return &mockEmailService{sent: make(map[string]string)}
}

func (m *mockEmailService) SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return m.err
	}
	m.sent[email] = code
	return nil
}

func (m *mockEmailService) codeFor(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.sent[email]
	return code, ok
}

func (m *mockEmailService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// stubBreachChecker returns a fixed answer
type stubBreachChecker struct {
	info models.BreachInfo
}

func (s *stubBreachChecker) CheckBreach(ctx context.Context, password string) models.BreachInfo {
	return s.info
}
