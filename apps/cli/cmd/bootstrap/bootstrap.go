package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencourt/opencourt/platform/go/persistence"
)

// Command groups bootstrap helpers (schema init, future seed steps).
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources (database schema)",
		Long:  "Bootstrap platform resources such as the core database schema.",
	}

	cmd.AddCommand(schemaCommand())
	return cmd
}

func schemaCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "schema",
		Short: "Apply the core schema DDL",
		Long:  "Apply the embedded DDL for tournaments, sessions, enrollments, credit accounts and the reward dispatch ledger. Statements are idempotent and safe to re-run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapCoreSchema(ctx, pool); err != nil {
				return fmt.Errorf("apply core schema: %w", err)
			}

			cmd.Println("core schema applied")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	_ = c.MarkFlagRequired("database-url")
	return c
}
