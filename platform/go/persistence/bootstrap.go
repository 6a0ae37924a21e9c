package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/opencourt/opencourt/database"
)

// BootstrapCoreSchema applies the core DDL in a single transaction, in
// dependency order:
//  1. core/credit_accounts.sql
//  2. core/tournaments.sql
//  3. core/enrollments.sql
//  4. core/sessions.sql
//  5. core/reward_dispatches.sql
//
// SQL is embedded at build time so binaries stay self-contained. The helper is
// idempotent and intended for CLI bootstrap and tests.
func BootstrapCoreSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap core schema: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.CreditAccountsSQL)...)
	statements = append(statements, splitStatements(sqlassets.TournamentsSQL)...)
	statements = append(statements, splitStatements(sqlassets.EnrollmentsSQL)...)
	statements = append(statements, splitStatements(sqlassets.SessionsSQL)...)
	statements = append(statements, splitStatements(sqlassets.RewardDispatchesSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks an embedded SQL asset into individual statements.
// The DDL files use semicolons only as statement terminators, so a plain
// split is sufficient; empty fragments and comment-only fragments are dropped.
func splitStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		if onlyComments(stmt) {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		return false
	}
	return true
}
