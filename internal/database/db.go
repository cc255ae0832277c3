package database

import (
	"context"
	"errors"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the credential and OTP tables can raise
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateNotNullViolation     = "23502"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// MapPostgresError translates driver errors into model sentinels.
// Serialization failures and deadlocks map to models.ErrConflict, the same
// retryable outcome a lost compare-and-swap reports.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case sqlStateUniqueViolation, sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return models.ErrConflict
	case sqlStateNotNullViolation, sqlStateCheckViolation:
		// the lowercase email CHECK lands here
		return models.ErrBadRequest
	}
	return err
}

// InTx runs fn in a read-committed transaction that pgx commits when fn
// returns nil and rolls back otherwise
func (db *DB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
	return MapPostgresError(err)
}
