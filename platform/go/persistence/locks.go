package persistence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrLockNotAcquired is returned when a per-tournament critical section could
// not be entered within the configured lock wait. It is retryable: the racing
// writer's transaction will release the lock when it commits or rolls back.
var ErrLockNotAcquired = errors.New("tournament lock not acquired")

// DefaultLockWait bounds how long a transaction blocks on the advisory lock
// before giving up with ErrLockNotAcquired.
const DefaultLockWait = 2 * time.Second

// tournamentLockKey derives a stable bigint advisory-lock key from the
// tournament UUID. The first 8 bytes are enough: collisions only cost a
// little extra serialization, never correctness.
func tournamentLockKey(tournamentID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(tournamentID[:8])) // #nosec G115 -- wraparound is fine for a lock key
}

// acquireTournamentLock takes the transaction-scoped advisory lock for the
// tournament, waiting at most lockWait. The lock is released automatically
// when tx commits or rolls back. A timeout surfaces as ErrLockNotAcquired.
func acquireTournamentLock(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID, lockWait time.Duration) error {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockWait.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tournamentLockKey(tournamentID)); err != nil {
		if isLockTimeout(err) {
			return ErrLockNotAcquired
		}
		return fmt.Errorf("acquire tournament lock: %w", err)
	}

	return nil
}
