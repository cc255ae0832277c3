package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/BradenHooton/pitlane/internal/repositories"
	"github.com/BradenHooton/pitlane/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingIssuanceRepo struct{}

func (failingIssuanceRepo) RecordIssuance(ctx context.Context, email string, at time.Time, keep int) error {
	return errors.New("history unavailable")
}

func (failingIssuanceRepo) IssuancesSince(ctx context.Context, email string, since time.Time) ([]time.Time, error) {
	return nil, errors.New("history unavailable")
}

func (failingIssuanceRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("history unavailable")
}

func newTestLimiter() (*services.IssuanceLimiter, *repositories.MemoryOTPIssuanceRepository) {
	repo := repositories.NewMemoryOTPIssuanceRepository()
	return services.NewIssuanceLimiter(repo, services.DefaultIssuanceLimitConfig(), discardLogger()), repo
}

func TestIssuanceLimiter_AllowsFirstIssuance(t *testing.T) {
	limiter, _ := newTestLimiter()
	assert.NoError(t, limiter.CheckIssuance(context.Background(), driverEmail, testEpoch))
}

func TestIssuanceLimiter_HourlyCap(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		at := testEpoch.Add(time.Duration(i) * 10 * time.Minute)
		require.NoError(t, limiter.CheckIssuance(ctx, driverEmail, at))
		require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, at))
	}

	now := testEpoch.Add(25 * time.Minute)
	err := limiter.CheckIssuance(ctx, driverEmail, now)

	var limited *models.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 35*time.Minute, limited.RetryAfter)
	assert.Contains(t, limited.Reason, "too many")
}

func TestIssuanceLimiter_WindowIsRolling(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	for _, offset := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute} {
		require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, testEpoch.Add(offset)))
	}

	// at exactly one hour the first entry has left the window
	assert.NoError(t, limiter.CheckIssuance(ctx, driverEmail, testEpoch.Add(time.Hour)))
	assert.Error(t, limiter.CheckIssuance(ctx, driverEmail, testEpoch.Add(59*time.Minute)))
}

func TestIssuanceLimiter_RetryAfterUsesOldestOfLastCap(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	// four issuances inside the window, only the newest three decide the wait
	for _, offset := range []time.Duration{0, 5 * time.Minute, 30 * time.Minute, 40 * time.Minute} {
		require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, testEpoch.Add(offset)))
	}

	err := limiter.CheckIssuance(ctx, driverEmail, testEpoch.Add(50*time.Minute))

	var limited *models.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 15*time.Minute, limited.RetryAfter)
}

func TestIssuanceLimiter_MinimumSpacing(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, testEpoch))

	err := limiter.CheckIssuance(ctx, driverEmail, testEpoch.Add(45*time.Second))
	var limited *models.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 75*time.Second, limited.RetryAfter)
	assert.Contains(t, limited.Reason, "wait")

	assert.NoError(t, limiter.CheckIssuance(ctx, driverEmail, testEpoch.Add(2*time.Minute)))
}

func TestIssuanceLimiter_HistoryIsBounded(t *testing.T) {
	limiter, repo := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, testEpoch.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, 10, repo.Count(driverEmail))
}

func TestIssuanceLimiter_FailsOpen(t *testing.T) {
	limiter := services.NewIssuanceLimiter(failingIssuanceRepo{}, services.DefaultIssuanceLimitConfig(), discardLogger())

	assert.NoError(t, limiter.CheckIssuance(context.Background(), driverEmail, testEpoch))
}

func TestIssuanceLimiter_Prune(t *testing.T) {
	limiter, repo := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, testEpoch))
	require.NoError(t, limiter.RecordIssuance(ctx, driverEmail, testEpoch.Add(30*time.Minute)))

	removed, err := limiter.Prune(ctx, testEpoch.Add(70*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, repo.Count(driverEmail))
}
