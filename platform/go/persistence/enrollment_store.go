package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const EnrollmentsTable = "enrollments"

var (
	// ErrEnrollmentNotFound indicates a missing enrollment record.
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	// ErrEnrollmentInactive indicates a cancel on an already-deactivated row.
	ErrEnrollmentInactive = errors.New("enrollment already inactive")
	// ErrDuplicateActiveEnrollment indicates the (tournament, user) pair
	// already has an active row. Reachable both via the application pre-check
	// and via the partial unique index when two admissions race.
	ErrDuplicateActiveEnrollment = errors.New("duplicate active enrollment")
	// ErrEnrollmentNotOpen indicates the tournament is not accepting enrollments.
	ErrEnrollmentNotOpen = errors.New("tournament not open for enrollment")
	// ErrCapacityFull indicates the active-enrollment count reached the
	// admission ceiling.
	ErrCapacityFull = errors.New("tournament capacity full")
	// ErrIdempotencyKeyConflict indicates the key was already committed for a
	// different (user, tournament) pair. Replay only ever matches the
	// original requester against the original tournament.
	ErrIdempotencyKeyConflict = errors.New("idempotency key already used")
)

// EnrollmentRecord represents a row in the enrollments table.
type EnrollmentRecord struct {
	EnrollmentID   uuid.UUID  `db:"enrollment_id"`
	TournamentID   uuid.UUID  `db:"tournament_id"`
	UserID         uuid.UUID  `db:"user_id"`
	IsActive       bool       `db:"is_active"`
	IdempotencyKey *string    `db:"idempotency_key"`
	EnrolledAt     time.Time  `db:"enrolled_at"`
	DeactivatedAt  *time.Time `db:"deactivated_at"`
}

const enrollmentColumns = `enrollment_id, tournament_id, user_id, is_active, idempotency_key, enrolled_at, deactivated_at`

// AdmitParams captures a single admission attempt.
type AdmitParams struct {
	EnrollmentID   uuid.UUID
	TournamentID   uuid.UUID
	UserID         uuid.UUID
	IdempotencyKey *string
	LockWait       time.Duration
}

// AdmitResult carries the committed (or replayed) enrollment row.
type AdmitResult struct {
	Enrollment EnrollmentRecord
	// AlreadyApplied is true when the idempotency key matched a previously
	// committed admission; no new row was written and no credit was spent.
	AlreadyApplied bool
}

// EnrollmentStore owns the enrollments table and the admission transaction.
type EnrollmentStore struct {
	pool *pgxpool.Pool
}

// NewEnrollmentStore returns a store instance; assumes the schema was bootstrapped.
func NewEnrollmentStore(ctx context.Context, pool *pgxpool.Pool) (*EnrollmentStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &EnrollmentStore{pool: pool}, nil
}

// AdmitEnrollment validates and commits one admission as a single transaction
// under the per-tournament advisory lock. The lifecycle state, the active
// count, the balance check and the insert all happen inside the same critical
// section, and the partial unique index plus the balance floor turn any
// remaining race into a deterministic failure for exactly one writer.
//
// Precondition failures surface in a fixed order: lifecycle state, duplicate
// active enrollment, capacity, credit.
func (s *EnrollmentStore) AdmitEnrollment(ctx context.Context, params AdmitParams) (AdmitResult, error) {
	if params.EnrollmentID == uuid.Nil || params.TournamentID == uuid.Nil || params.UserID == uuid.Nil {
		return AdmitResult{}, errors.New("enrollment, tournament and user ids are required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AdmitResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := acquireTournamentLock(ctx, tx, params.TournamentID, params.LockWait); err != nil {
		return AdmitResult{}, err
	}

	// Idempotent replay: a key that already committed reports the original
	// outcome as success, before any precondition can reject the retry. The
	// row must belong to the same (user, tournament) pair; anything else is a
	// conflict, never a replay of someone else's enrollment.
	if params.IdempotencyKey != nil && *params.IdempotencyKey != "" {
		existing, found, lookupErr := s.findByIdempotencyKey(ctx, tx, *params.IdempotencyKey)
		if lookupErr != nil {
			return AdmitResult{}, lookupErr
		}
		if found {
			if existing.UserID != params.UserID || existing.TournamentID != params.TournamentID {
				return AdmitResult{}, ErrIdempotencyKeyConflict
			}
			return AdmitResult{Enrollment: existing, AlreadyApplied: true}, nil
		}
	}

	tournament, err := getTournament(ctx, tx, params.TournamentID)
	if err != nil {
		return AdmitResult{}, err
	}
	if tournament.Status != "ENROLLMENT_OPEN" {
		return AdmitResult{}, ErrEnrollmentNotOpen
	}

	var hasActive bool
	if err := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT EXISTS (
            SELECT 1 FROM %s WHERE tournament_id = $1 AND user_id = $2 AND is_active
        )
    `, EnrollmentsTable), params.TournamentID, params.UserID).Scan(&hasActive); err != nil {
		return AdmitResult{}, fmt.Errorf("check active enrollment: %w", err)
	}
	if hasActive {
		return AdmitResult{}, ErrDuplicateActiveEnrollment
	}

	// Admission ceiling: the explicit max_players override when present,
	// otherwise the format template's maximum. A NULL override is not
	// unlimited; admitting past the template maximum would make session
	// generation fail later.
	capacity := tournament.TemplateMaxPlayers
	if tournament.MaxPlayers != nil {
		capacity = *tournament.MaxPlayers
	}
	count, err := countActiveTx(ctx, tx, params.TournamentID)
	if err != nil {
		return AdmitResult{}, err
	}
	if count >= capacity {
		return AdmitResult{}, ErrCapacityFull
	}

	if err := debitTx(ctx, tx, params.UserID, tournament.EnrollmentCost); err != nil {
		return AdmitResult{}, err
	}

	row := tx.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (enrollment_id, tournament_id, user_id, is_active, idempotency_key)
        VALUES ($1, $2, $3, TRUE, $4)
        RETURNING %s
    `, EnrollmentsTable, enrollmentColumns),
		params.EnrollmentID, params.TournamentID, params.UserID, params.IdempotencyKey,
	)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if isUniqueViolation(err, "enrollments_active_user_unique") {
			return AdmitResult{}, ErrDuplicateActiveEnrollment
		}
		if isUniqueViolation(err, "enrollments_idempotency_key_unique") {
			return AdmitResult{}, ErrIdempotencyKeyConflict
		}
		return AdmitResult{}, fmt.Errorf("insert enrollment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AdmitResult{}, fmt.Errorf("commit admission: %w", err)
	}

	return AdmitResult{Enrollment: enrollment}, nil
}

// CancelEnrollment deactivates the row and refunds the tournament's
// enrollment cost in one transaction. The row is never deleted; cancellation
// history stays behind and re-enrollment inserts a fresh row.
func (s *EnrollmentStore) CancelEnrollment(ctx context.Context, enrollmentID uuid.UUID) (EnrollmentRecord, error) {
	if enrollmentID == uuid.Nil {
		return EnrollmentRecord{}, ErrEnrollmentNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return EnrollmentRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET is_active = FALSE, deactivated_at = NOW()
        WHERE enrollment_id = $1 AND is_active
        RETURNING %s
    `, EnrollmentsTable, enrollmentColumns), enrollmentID)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if scanErr := tx.QueryRow(ctx, fmt.Sprintf(`
                SELECT EXISTS (SELECT 1 FROM %s WHERE enrollment_id = $1)
            `, EnrollmentsTable), enrollmentID).Scan(&exists); scanErr != nil {
				return EnrollmentRecord{}, fmt.Errorf("check enrollment: %w", scanErr)
			}
			if exists {
				return EnrollmentRecord{}, ErrEnrollmentInactive
			}
			return EnrollmentRecord{}, ErrEnrollmentNotFound
		}
		return EnrollmentRecord{}, fmt.Errorf("deactivate enrollment: %w", err)
	}

	tournament, err := getTournament(ctx, tx, enrollment.TournamentID)
	if err != nil {
		return EnrollmentRecord{}, err
	}
	if tournament.EnrollmentCost > 0 {
		if err := creditTx(ctx, tx, enrollment.UserID, tournament.EnrollmentCost); err != nil {
			return EnrollmentRecord{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return EnrollmentRecord{}, fmt.Errorf("commit cancellation: %w", err)
	}

	return enrollment, nil
}

// GetEnrollment returns a single enrollment by identifier.
func (s *EnrollmentStore) GetEnrollment(ctx context.Context, enrollmentID uuid.UUID) (EnrollmentRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE enrollment_id = $1
    `, enrollmentColumns, EnrollmentsTable), enrollmentID)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnrollmentRecord{}, ErrEnrollmentNotFound
		}
		return EnrollmentRecord{}, err
	}
	return enrollment, nil
}

// CountActive returns the live active-enrollment count for a tournament.
func (s *EnrollmentStore) CountActive(ctx context.Context, tournamentID uuid.UUID) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT COUNT(*) FROM %s WHERE tournament_id = $1 AND is_active
    `, EnrollmentsTable), tournamentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// ListActiveParticipantIDsTx returns participant user ids in enrollment
// order. Ordering matters: the generator seeds participants by it, so two
// reads of the same enrollment set produce the same schedule.
func (s *EnrollmentStore) ListActiveParticipantIDsTx(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
        SELECT user_id FROM %s
        WHERE tournament_id = $1 AND is_active
        ORDER BY enrolled_at ASC, enrollment_id ASC
    `, EnrollmentsTable), tournamentID)
	if err != nil {
		return nil, fmt.Errorf("list active participants: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return ids, nil
}

func (s *EnrollmentStore) findByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (EnrollmentRecord, bool, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE idempotency_key = $1
    `, enrollmentColumns, EnrollmentsTable), key)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnrollmentRecord{}, false, nil
		}
		return EnrollmentRecord{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return enrollment, true, nil
}

func countActiveTx(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) (int, error) {
	var count int
	if err := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT COUNT(*) FROM %s WHERE tournament_id = $1 AND is_active
    `, EnrollmentsTable), tournamentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

func scanEnrollment(row pgx.Row) (EnrollmentRecord, error) {
	var rec EnrollmentRecord
	if err := row.Scan(
		&rec.EnrollmentID, &rec.TournamentID, &rec.UserID, &rec.IsActive,
		&rec.IdempotencyKey, &rec.EnrolledAt, &rec.DeactivatedAt,
	); err != nil {
		return EnrollmentRecord{}, err
	}
	return rec, nil
}
