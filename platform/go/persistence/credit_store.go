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

const CreditAccountsTable = "credit_accounts"

var (
	// ErrCreditAccountNotFound indicates a missing credit account row.
	ErrCreditAccountNotFound = errors.New("credit account not found")
	// ErrInsufficientBalance indicates a conditional debit found less balance
	// than requested. The balance floor constraint backstops the same rule.
	ErrInsufficientBalance = errors.New("insufficient credit balance")
)

// CreditAccount represents a row in the credit_accounts table.
type CreditAccount struct {
	UserID    uuid.UUID `db:"user_id"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CreditStore exposes atomic balance operations. Balance is never mutated via
// read-then-write; every debit is a single conditional UPDATE so concurrent
// spenders race on the row, not on a stale read.
type CreditStore struct {
	pool *pgxpool.Pool
}

// NewCreditStore returns a store instance; assumes the schema was bootstrapped.
func NewCreditStore(ctx context.Context, pool *pgxpool.Pool) (*CreditStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &CreditStore{pool: pool}, nil
}

// EnsureAccount creates the account with the given starting balance if it
// does not exist yet. Existing accounts are left untouched.
func (s *CreditStore) EnsureAccount(ctx context.Context, userID uuid.UUID, startingBalance int64) (CreditAccount, error) {
	if userID == uuid.Nil {
		return CreditAccount{}, errors.New("user id is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (user_id, balance)
        VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET updated_at = %s.updated_at
        RETURNING user_id, balance, created_at, updated_at
    `, CreditAccountsTable, CreditAccountsTable), userID, startingBalance)

	return scanCreditAccount(row)
}

// GetAccount returns the account for the given user.
func (s *CreditStore) GetAccount(ctx context.Context, userID uuid.UUID) (CreditAccount, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT user_id, balance, created_at, updated_at FROM %s WHERE user_id = $1
    `, CreditAccountsTable), userID)

	account, err := scanCreditAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditAccount{}, ErrCreditAccountNotFound
		}
		return CreditAccount{}, err
	}
	return account, nil
}

// DebitTx decrements the balance only when enough remains, as one statement.
// Zero affected rows means the account is missing or the balance is short;
// the two cases are told apart with a follow-up read.
func (s *CreditStore) DebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	return debitTx(ctx, tx, userID, amount)
}

func debitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	if amount < 0 {
		return errors.New("debit amount must not be negative")
	}
	if amount == 0 {
		return nil
	}

	cmd, err := tx.Exec(ctx, fmt.Sprintf(`
        UPDATE %s
        SET balance = balance - $1, updated_at = NOW()
        WHERE user_id = $2 AND balance >= $1
    `, CreditAccountsTable), amount, userID)
	if err != nil {
		if isCheckViolation(err, "credit_accounts_balance_floor") {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("debit credit account: %w", err)
	}

	if cmd.RowsAffected() == 0 {
		var exists bool
		if scanErr := tx.QueryRow(ctx, fmt.Sprintf(`
            SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1)
        `, CreditAccountsTable), userID).Scan(&exists); scanErr != nil {
			return fmt.Errorf("check credit account: %w", scanErr)
		}
		if !exists {
			return ErrCreditAccountNotFound
		}
		return ErrInsufficientBalance
	}

	return nil
}

// CreditTx increments the balance unconditionally (refunds, top-ups).
func (s *CreditStore) CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	return creditTx(ctx, tx, userID, amount)
}

func creditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	if amount < 0 {
		return errors.New("credit amount must not be negative")
	}
	if amount == 0 {
		return nil
	}

	cmd, err := tx.Exec(ctx, fmt.Sprintf(`
        UPDATE %s
        SET balance = balance + $1, updated_at = NOW()
        WHERE user_id = $2
    `, CreditAccountsTable), amount, userID)
	if err != nil {
		return fmt.Errorf("credit credit account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrCreditAccountNotFound
	}
	return nil
}

func scanCreditAccount(row pgx.Row) (CreditAccount, error) {
	var account CreditAccount
	if err := row.Scan(&account.UserID, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return CreditAccount{}, err
	}
	return account, nil
}
