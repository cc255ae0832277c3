package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/pitlane/internal/database"
	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OTPRepository stores sealed OTP records in Postgres, one row per email
type OTPRepository struct {
	pool *pgxpool.Pool
}

func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{pool: db.Pool}
}

// Get returns models.ErrNotFound when no record exists
func (r *OTPRepository) Get(ctx context.Context, email string) (*models.StoredOTP, error) {
	query := `
		SELECT email, ciphertext, expires_at, revision
		FROM otp_records
		WHERE email = $1
	`

	var rec models.StoredOTP
	err := r.pool.QueryRow(ctx, query, email).Scan(&rec.Email, &rec.Ciphertext, &rec.ExpiresAt, &rec.Revision)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

// Put overwrites whatever record exists for the email
func (r *OTPRepository) Put(ctx context.Context, rec *models.StoredOTP) error {
	query := `
		INSERT INTO otp_records (email, ciphertext, expires_at, revision)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET ciphertext = EXCLUDED.ciphertext,
		    expires_at = EXCLUDED.expires_at,
		    revision = EXCLUDED.revision,
		    updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, rec.Email, rec.Ciphertext, rec.ExpiresAt, rec.Revision); err != nil {
		return fmt.Errorf("failed to store otp record: %w", err)
	}
	return nil
}

// Swap replaces the record only if its revision is still expectedRevision.
// Returns models.ErrConflict otherwise.
func (r *OTPRepository) Swap(ctx context.Context, next *models.StoredOTP, expectedRevision string) error {
	query := `
		UPDATE otp_records
		SET ciphertext = $2, expires_at = $3, revision = $4, updated_at = NOW()
		WHERE email = $1 AND revision = $5
	`

	result, err := r.pool.Exec(ctx, query, next.Email, next.Ciphertext, next.ExpiresAt, next.Revision, expectedRevision)
	if err != nil {
		return fmt.Errorf("failed to update otp record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// Remove deletes the record if it still has the given revision. A missing
// record is not an error; a newer revision returns models.ErrConflict.
func (r *OTPRepository) Remove(ctx context.Context, email, revision string) error {
	query := `
		WITH target AS (
			SELECT revision FROM otp_records WHERE email = $1
		), deleted AS (
			DELETE FROM otp_records WHERE email = $1 AND revision = $2
			RETURNING 1
		)
		SELECT
			(SELECT COUNT(*) FROM deleted),
			(SELECT COUNT(*) FROM target)
	`

	var deleted, existed int
	if err := r.pool.QueryRow(ctx, query, email, revision).Scan(&deleted, &existed); err != nil {
		return fmt.Errorf("failed to remove otp record: %w", err)
	}
	if deleted == 0 && existed > 0 {
		return models.ErrConflict
	}
	return nil
}

// Delete removes any record for the email
func (r *OTPRepository) Delete(ctx context.Context, email string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM otp_records WHERE email = $1`, email); err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

// DeleteExpired removes every record whose expiry is before now
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired otp records: %w", err)
	}
	return result.RowsAffected(), nil
}
