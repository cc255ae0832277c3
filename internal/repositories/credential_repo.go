package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/pitlane/internal/database"
	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CredentialRepository stores password credentials in Postgres
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{pool: db.Pool}
}

const credentialColumns = `id, email, password_hash, password_changed_at, created_at, updated_at`

func scanCredentialRow(row rowScanner) (*models.Credential, error) {
	var cred models.Credential

	err := row.Scan(
		&cred.ID, &cred.Email, &cred.PasswordHash,
		&cred.PasswordChangedAt, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &cred, nil
}

// FindByEmail returns models.ErrNotFound when no credential exists
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE email = $1`

	cred, err := scanCredentialRow(r.pool.QueryRow(ctx, query, models.NormalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Create inserts a new credential, returning models.ErrConflict for an existing email
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO credentials (id, email, password_hash, password_changed_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + credentialColumns

	created, err := scanCredentialRow(r.pool.QueryRow(ctx, query,
		uuid.New().String(),
		models.NormalizeEmail(cred.Email),
		cred.PasswordHash,
		cred.PasswordChangedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}
	return created, nil
}

// Upsert inserts or replaces the password of the credential keyed by email
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO credentials (id, email, password_hash, password_changed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    password_changed_at = EXCLUDED.password_changed_at,
		    updated_at = NOW()
		RETURNING ` + credentialColumns

	saved, err := scanCredentialRow(r.pool.QueryRow(ctx, query,
		uuid.New().String(),
		models.NormalizeEmail(cred.Email),
		cred.PasswordHash,
		cred.PasswordChangedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return saved, nil
}

// SwapPassword replaces the password only while the stored hash equals
// expectedHash. Of two racing swaps from the same hash only one matches a row;
// the other gets models.ErrConflict.
func (r *CredentialRepository) SwapPassword(ctx context.Context, next *models.Credential, expectedHash string) (*models.Credential, error) {
	query := `
		UPDATE credentials
		SET password_hash = $2,
		    password_changed_at = $3,
		    updated_at = NOW()
		WHERE email = $1 AND password_hash = $4
		RETURNING ` + credentialColumns

	saved, err := scanCredentialRow(r.pool.QueryRow(ctx, query,
		models.NormalizeEmail(next.Email),
		next.PasswordHash,
		next.PasswordChangedAt,
		expectedHash,
	))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to swap credential password: %w", err)
	}
	return saved, nil
}
