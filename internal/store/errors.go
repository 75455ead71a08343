package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique-constraint violation: another writer got there first.
	ErrConflict = errors.New("conflict")
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// retryOnce runs op and repeats it a single time after a short pause when the
// first attempt lost a write race.
func retryOnce[T any](ctx context.Context, op func() (T, error)) (T, error) {
	result, err := op()
	if err == nil || !isRetryable(err) {
		return result, err
	}
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-time.After(25 * time.Millisecond):
	}
	return op()
}
