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

const TournamentsTable = "tournaments"

var (
	// ErrTournamentNotFound indicates a missing tournament record.
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrStatusConflict indicates a conditional status update lost the race:
	// the row's status no longer matches what the caller read. Retryable.
	ErrStatusConflict = errors.New("tournament status changed concurrently")
)

// TournamentRecord represents a row in the tournaments table. Template
// columns are flattened onto the row; the scheduling domain rehydrates them
// into a typed template before generation.
type TournamentRecord struct {
	TournamentID        uuid.UUID  `db:"tournament_id"`
	Name                string     `db:"name"`
	Status              string     `db:"status"`
	AssignmentType      string     `db:"assignment_type"`
	InstructorID        *uuid.UUID `db:"instructor_id"`
	MaxPlayers          *int       `db:"max_players"`
	EnrollmentCost      int64      `db:"enrollment_cost"`
	Format              string     `db:"format"`
	MinPlayers          int        `db:"min_players"`
	TemplateMaxPlayers  int        `db:"template_max_players"`
	RequiresPowerOfTwo  bool       `db:"requires_power_of_two"`
	RoundCount          int        `db:"round_count"`
	SessionDurationMins int        `db:"session_duration_mins"`
	BreakBetweenMins    int        `db:"break_between_mins"`
	ParallelFields      int        `db:"parallel_fields"`
	OpensAt             time.Time  `db:"opens_at"`
	EnrollmentDeadline  *time.Time `db:"enrollment_deadline"`
	SessionsGenerated   bool       `db:"sessions_generated"`
	SessionsGeneratedAt *time.Time `db:"sessions_generated_at"`
	RewardDispatched    bool       `db:"reward_dispatched"`
	StatusReason        *string    `db:"status_reason"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

const tournamentColumns = `tournament_id, name, status, assignment_type, instructor_id,
        max_players, enrollment_cost, format, min_players, template_max_players,
        requires_power_of_two, round_count, session_duration_mins, break_between_mins,
        parallel_fields, opens_at, enrollment_deadline, sessions_generated,
        sessions_generated_at, reward_dispatched, status_reason, created_at, updated_at`

// TournamentStore exposes persistence helpers for the tournaments table.
type TournamentStore struct {
	pool *pgxpool.Pool
}

// NewTournamentStore returns a store instance; assumes the schema was bootstrapped.
func NewTournamentStore(ctx context.Context, pool *pgxpool.Pool) (*TournamentStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TournamentStore{pool: pool}, nil
}

// CreateTournament inserts a new tournament and returns the persisted record.
func (s *TournamentStore) CreateTournament(ctx context.Context, rec TournamentRecord) (TournamentRecord, error) {
	if rec.TournamentID == uuid.Nil {
		return TournamentRecord{}, errors.New("tournament id is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (
            tournament_id, name, status, assignment_type, instructor_id,
            max_players, enrollment_cost, format, min_players, template_max_players,
            requires_power_of_two, round_count, session_duration_mins, break_between_mins,
            parallel_fields, opens_at, enrollment_deadline
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
        )
        RETURNING %s
    `, TournamentsTable, tournamentColumns),
		rec.TournamentID, rec.Name, rec.Status, rec.AssignmentType, rec.InstructorID,
		rec.MaxPlayers, rec.EnrollmentCost, rec.Format, rec.MinPlayers, rec.TemplateMaxPlayers,
		rec.RequiresPowerOfTwo, rec.RoundCount, rec.SessionDurationMins, rec.BreakBetweenMins,
		rec.ParallelFields, rec.OpensAt, rec.EnrollmentDeadline,
	)

	return scanTournament(row)
}

// GetTournament returns a single tournament by identifier.
func (s *TournamentStore) GetTournament(ctx context.Context, id uuid.UUID) (TournamentRecord, error) {
	return getTournament(ctx, s.pool, id)
}

// GetTournamentTx reads the tournament inside an open transaction, typically
// after the advisory lock was taken so the read is current for the whole
// critical section.
func (s *TournamentStore) GetTournamentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (TournamentRecord, error) {
	return getTournament(ctx, tx, id)
}

func getTournament(ctx context.Context, db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id uuid.UUID) (TournamentRecord, error) {
	row := db.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE tournament_id = $1
    `, tournamentColumns, TournamentsTable), id)

	rec, err := scanTournament(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TournamentRecord{}, ErrTournamentNotFound
		}
		return TournamentRecord{}, err
	}
	return rec, nil
}

// UpdateStatusTx flips the status, guarded by the status the caller observed.
// Zero rows means another writer got there first; the caller re-reads and
// re-evaluates rather than overwriting blind.
func (s *TournamentStore) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to, reason string) (TournamentRecord, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET status = $1, status_reason = $2, updated_at = NOW()
        WHERE tournament_id = $3 AND status = $4
        RETURNING %s
    `, TournamentsTable, tournamentColumns), to, nullIfEmpty(reason), id, from)

	rec, err := scanTournament(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := getTournament(ctx, tx, id); errors.Is(getErr, ErrTournamentNotFound) {
				return TournamentRecord{}, ErrTournamentNotFound
			}
			return TournamentRecord{}, ErrStatusConflict
		}
		return TournamentRecord{}, err
	}
	return rec, nil
}

// SetInstructor persists the bound instructor onto the tournament row.
func (s *TournamentStore) SetInstructor(ctx context.Context, id, instructorID uuid.UUID) (TournamentRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET instructor_id = $1, updated_at = NOW()
        WHERE tournament_id = $2
        RETURNING %s
    `, TournamentsTable, tournamentColumns), instructorID, id)

	rec, err := scanTournament(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TournamentRecord{}, ErrTournamentNotFound
		}
		return TournamentRecord{}, err
	}
	return rec, nil
}

// SetSessionsGeneratedTx stamps (or clears) the generation flag inside the
// same transaction that wrote or purged the session set, so the flag and the
// rows can never disagree.
func (s *TournamentStore) SetSessionsGeneratedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, generated bool) error {
	var tag string
	if generated {
		tag = fmt.Sprintf(`UPDATE %s SET sessions_generated = TRUE, sessions_generated_at = NOW(), updated_at = NOW() WHERE tournament_id = $1`, TournamentsTable)
	} else {
		tag = fmt.Sprintf(`UPDATE %s SET sessions_generated = FALSE, sessions_generated_at = NULL, updated_at = NOW() WHERE tournament_id = $1`, TournamentsTable)
	}

	cmd, err := tx.Exec(ctx, tag, id)
	if err != nil {
		return fmt.Errorf("set sessions generated: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrTournamentNotFound
	}
	return nil
}

// SetRewardDispatchedTx marks the reward handoff on the tournament row.
func (s *TournamentStore) SetRewardDispatchedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	cmd, err := tx.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET reward_dispatched = TRUE, updated_at = NOW() WHERE tournament_id = $1
    `, TournamentsTable), id)
	if err != nil {
		return fmt.Errorf("set reward dispatched: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrTournamentNotFound
	}
	return nil
}

// ListDueEnrollmentClose returns enrollment-open tournaments whose deadline
// has passed. Consumed by the lifecycle sweeper.
func (s *TournamentStore) ListDueEnrollmentClose(ctx context.Context, now time.Time) ([]TournamentRecord, error) {
	return s.listByDue(ctx, `status = 'ENROLLMENT_OPEN' AND enrollment_deadline IS NOT NULL AND enrollment_deadline <= $1`, now)
}

// ListDueStart returns enrollment-closed tournaments whose opening slot has
// arrived. Consumed by the lifecycle sweeper.
func (s *TournamentStore) ListDueStart(ctx context.Context, now time.Time) ([]TournamentRecord, error) {
	return s.listByDue(ctx, `status = 'ENROLLMENT_CLOSED' AND opens_at <= $1`, now)
}

func (s *TournamentStore) listByDue(ctx context.Context, where string, now time.Time) ([]TournamentRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE %s ORDER BY opens_at ASC
    `, tournamentColumns, TournamentsTable, where), now)
	if err != nil {
		return nil, fmt.Errorf("list due tournaments: %w", err)
	}
	defer rows.Close()

	records := make([]TournamentRecord, 0)
	for rows.Next() {
		rec, scanErr := scanTournament(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan tournament: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tournaments: %w", err)
	}
	return records, nil
}

// WithTournamentTx runs fn inside a transaction holding the per-tournament
// advisory lock. Status change plus its side effects form one critical
// section; the lock falls with the transaction either way.
func (s *TournamentStore) WithTournamentTx(ctx context.Context, tournamentID uuid.UUID, lockWait time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := acquireTournamentLock(ctx, tx, tournamentID, lockWait); err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanTournament(row pgx.Row) (TournamentRecord, error) {
	var rec TournamentRecord
	if err := row.Scan(
		&rec.TournamentID, &rec.Name, &rec.Status, &rec.AssignmentType, &rec.InstructorID,
		&rec.MaxPlayers, &rec.EnrollmentCost, &rec.Format, &rec.MinPlayers, &rec.TemplateMaxPlayers,
		&rec.RequiresPowerOfTwo, &rec.RoundCount, &rec.SessionDurationMins, &rec.BreakBetweenMins,
		&rec.ParallelFields, &rec.OpensAt, &rec.EnrollmentDeadline, &rec.SessionsGenerated,
		&rec.SessionsGeneratedAt, &rec.RewardDispatched, &rec.StatusReason, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return TournamentRecord{}, err
	}
	return rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
