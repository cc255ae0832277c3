package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/pitlane/internal/database"
	"github.com/jackc/pgx/v5"
)

// OTPIssuanceRepository keeps the per-email issuance history used for rate limiting
type OTPIssuanceRepository struct {
	db *database.DB
}

func NewOTPIssuanceRepository(db *database.DB) *OTPIssuanceRepository {
	return &OTPIssuanceRepository{db: db}
}

// RecordIssuance appends an entry and trims the history to the newest keep entries
func (r *OTPIssuanceRepository) RecordIssuance(ctx context.Context, email string, at time.Time, keep int) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO otp_issuances (email, issued_at) VALUES ($1, $2)`,
			email, at,
		); err != nil {
			return fmt.Errorf("failed to record otp issuance: %w", err)
		}

		trim := `
			DELETE FROM otp_issuances
			WHERE email = $1 AND id NOT IN (
				SELECT id FROM otp_issuances
				WHERE email = $1
				ORDER BY issued_at DESC, id DESC
				LIMIT $2
			)
		`
		if _, err := tx.Exec(ctx, trim, email, keep); err != nil {
			return fmt.Errorf("failed to trim otp issuance history: %w", err)
		}
		return nil
	})
}

// IssuancesSince returns issuance times after since, oldest first
func (r *OTPIssuanceRepository) IssuancesSince(ctx context.Context, email string, since time.Time) ([]time.Time, error) {
	query := `
		SELECT issued_at FROM otp_issuances
		WHERE email = $1 AND issued_at > $2
		ORDER BY issued_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, email, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query otp issuances: %w", err)
	}

	times, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("failed to scan otp issuances: %w", err)
	}
	return times, nil
}

// DeleteBefore prunes history older than cutoff
func (r *OTPIssuanceRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM otp_issuances WHERE issued_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune otp issuances: %w", err)
	}
	return result.RowsAffected(), nil
}
