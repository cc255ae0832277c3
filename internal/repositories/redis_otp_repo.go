package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	otpKeySegment      = "otp"
	otpIndexSegment    = "otp:expiry"
	issuanceKeySegment = "otp:issued"

	// sealed records outlive their expiry so late submissions still see "expired"
	// rather than "not found" until the sweep removes them
	otpRetention = time.Hour

	// history older than a day can no longer influence any rate-limit window
	issuanceRetention = 24 * time.Hour

	fieldCiphertext = "c"
	fieldExpiresAt  = "e"
	fieldRevision   = "r"
)

// RedisOTPRepository stores sealed records as hashes keyed by email.
// Conditional writes use WATCH/MULTI; an expiry-ordered sorted set backs the sweep.
type RedisOTPRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisOTPRepository(client *redis.Client, prefix string) *RedisOTPRepository {
	return &RedisOTPRepository{client: client, prefix: prefix}
}

func (r *RedisOTPRepository) key(email string) string {
	return r.prefix + ":" + otpKeySegment + ":" + email
}

func (r *RedisOTPRepository) indexKey() string {
	return r.prefix + ":" + otpIndexSegment
}

func (r *RedisOTPRepository) Get(ctx context.Context, email string) (*models.StoredOTP, error) {
	return r.read(ctx, r.client, email)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (r *RedisOTPRepository) read(ctx context.Context, c hashReader, email string) (*models.StoredOTP, error) {
	fields, err := c.HGetAll(ctx, r.key(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read otp record: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	expiresMs, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt otp record expiry: %w", err)
	}

	return &models.StoredOTP{
		Email:      email,
		Ciphertext: fields[fieldCiphertext],
		ExpiresAt:  time.UnixMilli(expiresMs).UTC(),
		Revision:   fields[fieldRevision],
	}, nil
}

func (r *RedisOTPRepository) write(ctx context.Context, pipe redis.Pipeliner, rec *models.StoredOTP) {
	key := r.key(rec.Email)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		fieldCiphertext, rec.Ciphertext,
		fieldExpiresAt, strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
		fieldRevision, rec.Revision,
	)
	pipe.PExpireAt(ctx, key, rec.ExpiresAt.Add(otpRetention))
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(rec.ExpiresAt.UnixMilli()), Member: rec.Email})
}

func (r *RedisOTPRepository) Put(ctx context.Context, rec *models.StoredOTP) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.write(ctx, pipe, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store otp record: %w", err)
	}
	return nil
}

// watch runs fn under WATCH on the email's key. A concurrent writer surfaces as models.ErrConflict.
func (r *RedisOTPRepository) watch(ctx context.Context, email string, fn func(tx *redis.Tx) error) error {
	err := r.client.Watch(ctx, fn, r.key(email))
	if errors.Is(err, redis.TxFailedErr) {
		return models.ErrConflict
	}
	return err
}

func (r *RedisOTPRepository) Swap(ctx context.Context, next *models.StoredOTP, expectedRevision string) error {
	return r.watch(ctx, next.Email, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, r.key(next.Email), fieldRevision).Result()
		if errors.Is(err, redis.Nil) {
			return models.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to read otp revision: %w", err)
		}
		if current != expectedRevision {
			return models.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, next)
			return nil
		})
		return err
	})
}

func (r *RedisOTPRepository) Remove(ctx context.Context, email, revision string) error {
	return r.watch(ctx, email, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, r.key(email), fieldRevision).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read otp revision: %w", err)
		}
		if current != revision {
			return models.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.key(email))
			pipe.ZRem(ctx, r.indexKey(), email)
			return nil
		})
		return err
	})
}

func (r *RedisOTPRepository) Delete(ctx context.Context, email string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(email))
		pipe.ZRem(ctx, r.indexKey(), email)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

// DeleteExpired walks the expiry index up to now. Each candidate is removed
// under WATCH so a record reissued mid-sweep survives.
func (r *RedisOTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	emails, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan otp expiry index: %w", err)
	}

	var removed int64
	for _, email := range emails {
		err := r.watch(ctx, email, func(tx *redis.Tx) error {
			rec, err := r.read(ctx, tx, email)
			if errors.Is(err, models.ErrNotFound) {
				return tx.ZRem(ctx, r.indexKey(), email).Err()
			}
			if err != nil {
				return err
			}
			if !rec.ExpiresAt.Before(now) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, r.key(email))
				pipe.ZRem(ctx, r.indexKey(), email)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		})
		if err != nil && !errors.Is(err, models.ErrConflict) {
			return removed, err
		}
	}
	return removed, nil
}

// RedisOTPIssuanceRepository keeps issuance history in a sorted set per email scored by unix milliseconds
type RedisOTPIssuanceRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisOTPIssuanceRepository(client *redis.Client, prefix string) *RedisOTPIssuanceRepository {
	return &RedisOTPIssuanceRepository{client: client, prefix: prefix}
}

func (r *RedisOTPIssuanceRepository) key(email string) string {
	return r.prefix + ":" + issuanceKeySegment + ":" + email
}

func (r *RedisOTPIssuanceRepository) RecordIssuance(ctx context.Context, email string, at time.Time, keep int) error {
	key := r.key(email)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.New().String(),
		})
		if keep > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, int64(-keep-1))
		}
		pipe.Expire(ctx, key, issuanceRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record otp issuance: %w", err)
	}
	return nil
}

func (r *RedisOTPIssuanceRepository) IssuancesSince(ctx context.Context, email string, since time.Time) ([]time.Time, error) {
	entries, err := r.client.ZRangeByScoreWithScores(ctx, r.key(email), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query otp issuances: %w", err)
	}

	times := make([]time.Time, 0, len(entries))
	for _, z := range entries {
		times = append(times, time.UnixMilli(int64(z.Score)).UTC())
	}
	return times, nil
}

// DeleteBefore is a no-op: issuance keys carry their own TTL
func (r *RedisOTPIssuanceRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
