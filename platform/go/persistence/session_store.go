package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const SessionsTable = "sessions"

// SessionRecord represents a row in the sessions table. Participants is the
// ordered slot list serialized as JSONB; unresolved knockout slots carry a
// placeholder label instead of a user id.
type SessionRecord struct {
	SessionID     uuid.UUID       `db:"session_id"`
	TournamentID  uuid.UUID       `db:"tournament_id"`
	RoundNumber   int             `db:"round_number"`
	MatchNumber   *int            `db:"match_number"`
	Phase         string          `db:"phase"`
	FieldNumber   int             `db:"field_number"`
	Participants  json.RawMessage `db:"participants"`
	StartsAt      time.Time       `db:"starts_at"`
	EndsAt        time.Time       `db:"ends_at"`
	AutoGenerated bool            `db:"auto_generated"`
	CreatedAt     time.Time       `db:"created_at"`
}

const sessionColumns = `session_id, tournament_id, round_number, match_number, phase, field_number, participants, starts_at, ends_at, auto_generated, created_at`

// SessionStore owns the sessions table. Generated rows are only ever written
// or purged as a whole set; manual rows (auto_generated = FALSE) are never
// touched by regeneration.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore returns a store instance; assumes the schema was bootstrapped.
func NewSessionStore(ctx context.Context, pool *pgxpool.Pool) (*SessionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SessionStore{pool: pool}, nil
}

// ReplaceGeneratedTx deletes the previous auto-generated set and inserts the
// new one inside the caller's transaction, then stamps the generation flag
// via the tournament row. Returns the number of sessions written.
func (s *SessionStore) ReplaceGeneratedTx(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID, sessions []SessionRecord) (int, error) {
	if err := deleteGeneratedTx(ctx, tx, tournamentID); err != nil {
		return 0, err
	}

	for i := range sessions {
		rec := sessions[i]
		if rec.SessionID == uuid.Nil {
			return 0, errors.New("session id is required")
		}
		participants := rec.Participants
		if len(participants) == 0 {
			participants = json.RawMessage("[]")
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
            INSERT INTO %s (session_id, tournament_id, round_number, match_number, phase, field_number, participants, starts_at, ends_at, auto_generated)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
        `, SessionsTable),
			rec.SessionID, tournamentID, rec.RoundNumber, rec.MatchNumber, rec.Phase,
			rec.FieldNumber, participants, rec.StartsAt, rec.EndsAt,
		); err != nil {
			return 0, fmt.Errorf("insert session: %w", err)
		}
	}

	return len(sessions), nil
}

// DeleteGeneratedTx purges the auto-generated set for the tournament.
func (s *SessionStore) DeleteGeneratedTx(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) error {
	return deleteGeneratedTx(ctx, tx, tournamentID)
}

func deleteGeneratedTx(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
        DELETE FROM %s WHERE tournament_id = $1 AND auto_generated
    `, SessionsTable), tournamentID); err != nil {
		return fmt.Errorf("delete generated sessions: %w", err)
	}
	return nil
}

// ListByTournament returns the tournament's sessions in schedule order.
func (s *SessionStore) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]SessionRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE tournament_id = $1
        ORDER BY round_number ASC, match_number ASC NULLS LAST, field_number ASC
    `, sessionColumns, SessionsTable), tournamentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionRecord, 0)
	for rows.Next() {
		rec, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session: %w", scanErr)
		}
		sessions = append(sessions, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CountGenerated returns how many auto-generated sessions exist.
func (s *SessionStore) CountGenerated(ctx context.Context, tournamentID uuid.UUID) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT COUNT(*) FROM %s WHERE tournament_id = $1 AND auto_generated
    `, SessionsTable), tournamentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count generated sessions: %w", err)
	}
	return count, nil
}

func scanSession(row pgx.Row) (SessionRecord, error) {
	var rec SessionRecord
	if err := row.Scan(
		&rec.SessionID, &rec.TournamentID, &rec.RoundNumber, &rec.MatchNumber, &rec.Phase,
		&rec.FieldNumber, &rec.Participants, &rec.StartsAt, &rec.EndsAt, &rec.AutoGenerated, &rec.CreatedAt,
	); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}
