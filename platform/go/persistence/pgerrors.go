package persistence

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the stores treat as expected, typed outcomes rather
// than failures. The schema is designed so that races surface here: the
// partial unique index turns a double-enroll into 23505 and the balance
// floor turns an overdraw into 23514.
const (
	pgUniqueViolation   = "23505"
	pgCheckViolation    = "23514"
	pgLockNotAvailable  = "55P03"
	pgQueryCanceled     = "57014"
	pgSerializationFail = "40001"
	pgDeadlockDetected  = "40P01"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// isUniqueViolation reports whether err is a unique-constraint violation,
// optionally restricted to a specific constraint name.
func isUniqueViolation(err error, constraint string) bool {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != pgUniqueViolation {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.EqualFold(pgErr.ConstraintName, constraint)
}

// isCheckViolation reports whether err is a check-constraint violation,
// optionally restricted to a specific constraint name.
func isCheckViolation(err error, constraint string) bool {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != pgCheckViolation {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.EqualFold(pgErr.ConstraintName, constraint)
}

// isLockTimeout reports whether err means a critical section could not be
// entered within the bounded wait. Callers map this to a retryable
// contention outcome.
func isLockTimeout(err error) bool {
	pgErr, ok := pgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case pgLockNotAvailable, pgSerializationFail, pgDeadlockDetected:
		return true
	}
	return false
}
