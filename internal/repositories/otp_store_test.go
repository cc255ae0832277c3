package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type otpStore interface {
	Get(ctx context.Context, email string) (*models.StoredOTP, error)
	Put(ctx context.Context, rec *models.StoredOTP) error
	Swap(ctx context.Context, next *models.StoredOTP, expectedRevision string) error
	Remove(ctx context.Context, email, revision string) error
	Delete(ctx context.Context, email string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type issuanceStore interface {
	RecordIssuance(ctx context.Context, email string, at time.Time, keep int) error
	IssuancesSince(ctx context.Context, email string, since time.Time) ([]time.Time, error)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func otpStores(t *testing.T) map[string]otpStore {
	_, rdb := newTestRedis(t)
	return map[string]otpStore{
		"memory": NewMemoryOTPRepository(),
		"redis":  NewRedisOTPRepository(rdb, "test"),
	}
}

func issuanceStores(t *testing.T) map[string]issuanceStore {
	_, rdb := newTestRedis(t)
	return map[string]issuanceStore{
		"memory": NewMemoryOTPIssuanceRepository(),
		"redis":  NewRedisOTPIssuanceRepository(rdb, "test"),
	}
}

func sealed(email string, expiresAt time.Time) *models.StoredOTP {
	return &models.StoredOTP{
		Email:      email,
		Ciphertext: "v1:k1:" + uuid.New().String(),
		ExpiresAt:  expiresAt.UTC().Truncate(time.Millisecond),
		Revision:   uuid.New().String(),
	}
}

func TestOTPStore_PutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "alice@example.com")
			assert.ErrorIs(t, err, models.ErrNotFound)

			first := sealed("alice@example.com", expires)
			require.NoError(t, store.Put(ctx, first))

			got, err := store.Get(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, first.Ciphertext, got.Ciphertext)
			assert.Equal(t, first.Revision, got.Revision)
			assert.True(t, first.ExpiresAt.Equal(got.ExpiresAt))

			second := sealed("alice@example.com", expires)
			require.NoError(t, store.Put(ctx, second))

			got, err = store.Get(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, second.Ciphertext, got.Ciphertext, "a new issuance supersedes the previous record")
		})
	}
}

func TestOTPStore_Swap(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			current := sealed("bob@example.com", expires)
			require.NoError(t, store.Put(ctx, current))

			next := sealed("bob@example.com", expires)
			require.NoError(t, store.Swap(ctx, next, current.Revision))

			stale := sealed("bob@example.com", expires)
			assert.ErrorIs(t, store.Swap(ctx, stale, current.Revision), models.ErrConflict)

			got, err := store.Get(ctx, "bob@example.com")
			require.NoError(t, err)
			assert.Equal(t, next.Revision, got.Revision)

			missing := sealed("nobody@example.com", expires)
			assert.ErrorIs(t, store.Swap(ctx, missing, "whatever"), models.ErrConflict)
		})
	}
}

func TestOTPStore_Swap_OnlyOneConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			current := sealed("race@example.com", expires)
			require.NoError(t, store.Put(ctx, current))

			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if store.Swap(ctx, sealed("race@example.com", expires), current.Revision) == nil {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins)
		})
	}
}

func TestOTPStore_Remove(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, store.Remove(ctx, "carol@example.com", "any"), "absent record is not an error")

			rec := sealed("carol@example.com", expires)
			require.NoError(t, store.Put(ctx, rec))

			assert.ErrorIs(t, store.Remove(ctx, "carol@example.com", "stale"), models.ErrConflict)
			require.NoError(t, store.Remove(ctx, "carol@example.com", rec.Revision))

			_, err := store.Get(ctx, "carol@example.com")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestOTPStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, sealed("dave@example.com", time.Now().Add(time.Minute))))

			require.NoError(t, store.Delete(ctx, "dave@example.com"))
			require.NoError(t, store.Delete(ctx, "dave@example.com"))

			_, err := store.Get(ctx, "dave@example.com")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestOTPStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, sealed("old1@example.com", now.Add(-time.Minute))))
			require.NoError(t, store.Put(ctx, sealed("old2@example.com", now.Add(-30*time.Minute))))
			require.NoError(t, store.Put(ctx, sealed("live@example.com", now.Add(time.Minute))))

			removed, err := store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			_, err = store.Get(ctx, "old1@example.com")
			assert.ErrorIs(t, err, models.ErrNotFound)
			_, err = store.Get(ctx, "live@example.com")
			assert.NoError(t, err)

			removed, err = store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, int64(0), removed)
		})
	}
}

func TestOTPStore_DeleteExpired_SparesReissuedRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, store := range otpStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, sealed("erin@example.com", now.Add(-time.Minute))))
			fresh := sealed("erin@example.com", now.Add(10*time.Minute))
			require.NoError(t, store.Put(ctx, fresh))

			removed, err := store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, int64(0), removed)

			got, err := store.Get(ctx, "erin@example.com")
			require.NoError(t, err)
			assert.Equal(t, fresh.Revision, got.Revision)
		})
	}
}

func TestIssuanceStore_SinceAndTrim(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for name, store := range issuanceStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 12; i++ {
				require.NoError(t, store.RecordIssuance(ctx, "frank@example.com", base.Add(time.Duration(i)*time.Minute), 10))
			}

			all, err := store.IssuancesSince(ctx, "frank@example.com", base.Add(-time.Hour))
			require.NoError(t, err)
			require.Len(t, all, 10, "history is bounded")
			assert.True(t, all[0].Equal(base.Add(2*time.Minute)), "oldest entries are trimmed first")
			assert.True(t, all[9].Equal(base.Add(11*time.Minute)))

			recent, err := store.IssuancesSince(ctx, "frank@example.com", base.Add(9*time.Minute))
			require.NoError(t, err)
			assert.Len(t, recent, 2, "since is exclusive")

			none, err := store.IssuancesSince(ctx, "nobody@example.com", base)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestIssuanceStore_SameInstantEntriesAreDistinct(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for name, store := range issuanceStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.RecordIssuance(ctx, "gina@example.com", at, 10))
			require.NoError(t, store.RecordIssuance(ctx, "gina@example.com", at, 10))

			got, err := store.IssuancesSince(ctx, "gina@example.com", at.Add(-time.Second))
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestRedisOTPRepository_KeysCarryTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	repo := NewRedisOTPRepository(rdb, "test")
	require.NoError(t, repo.Put(ctx, sealed("hank@example.com", time.Now().Add(10*time.Minute))))

	assert.True(t, mr.Exists("test:otp:hank@example.com"))
	assert.Greater(t, mr.TTL("test:otp:hank@example.com"), 10*time.Minute)

	issuances := NewRedisOTPIssuanceRepository(rdb, "test")
	require.NoError(t, issuances.RecordIssuance(ctx, "hank@example.com", time.Now(), 10))
	assert.Equal(t, issuanceRetention, mr.TTL("test:otp:issued:hank@example.com"))
}
