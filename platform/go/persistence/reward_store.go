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

const RewardDispatchesTable = "reward_dispatches"

// RewardDispatchStore records which tournaments already handed their
// completion snapshot to the progression collaborator. The primary key is
// the idempotency barrier.
type RewardDispatchStore struct {
	pool *pgxpool.Pool
}

// NewRewardDispatchStore returns a store instance; assumes the schema was bootstrapped.
func NewRewardDispatchStore(ctx context.Context, pool *pgxpool.Pool) (*RewardDispatchStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RewardDispatchStore{pool: pool}, nil
}

// MarkDispatched inserts the dispatch record inside the caller's transaction.
// Returns false when the tournament was already marked, without error: the
// caller skips the collaborator call and reports success.
func (s *RewardDispatchStore) MarkDispatched(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) (bool, error) {
	if tournamentID == uuid.Nil {
		return false, errors.New("tournament id is required")
	}

	_, err := tx.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (tournament_id) VALUES ($1)
    `, RewardDispatchesTable), tournamentID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return false, nil
		}
		return false, fmt.Errorf("mark reward dispatched: %w", err)
	}
	return true, nil
}

// Dispatched reports whether the tournament's reward handoff is recorded.
func (s *RewardDispatchStore) Dispatched(ctx context.Context, tournamentID uuid.UUID) (bool, *time.Time, error) {
	var dispatchedAt time.Time
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT dispatched_at FROM %s WHERE tournament_id = $1
    `, RewardDispatchesTable), tournamentID).Scan(&dispatchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("lookup reward dispatch: %w", err)
	}
	return true, &dispatchedAt, nil
}

// BeginTx starts a transaction on the underlying pool for callers that need
// to couple the dispatch mark with other writes.
func (s *RewardDispatchStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{})
}
