package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opencourt/opencourt/platform/go/persistence"
)

// Command groups credit account helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Manage player credit accounts",
	}

	cmd.AddCommand(ensureCommand())
	cmd.AddCommand(showCommand())
	return cmd
}

func ensureCommand() *cobra.Command {
	var (
		databaseURL     string
		userIDs         []string
		startingBalance int64
	)

	c := &cobra.Command{
		Use:   "ensure",
		Short: "Create credit accounts for users that lack one",
		Long:  "Create a credit account with the given starting balance for each user id. Existing accounts keep their current balance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if len(userIDs) == 0 {
				return fmt.Errorf("at least one --user is required")
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			store, err := persistence.NewCreditStore(ctx, pool)
			if err != nil {
				return fmt.Errorf("init credit store: %w", err)
			}

			for _, raw := range userIDs {
				userID, parseErr := uuid.Parse(raw)
				if parseErr != nil {
					return fmt.Errorf("invalid user id %q: %w", raw, parseErr)
				}
				account, ensureErr := store.EnsureAccount(ctx, userID, startingBalance)
				if ensureErr != nil {
					return fmt.Errorf("ensure account for %s: %w", userID, ensureErr)
				}
				cmd.Printf("%s balance=%d\n", account.UserID, account.Balance)
			}
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringSliceVar(&userIDs, "user", nil, "User id to ensure an account for (repeatable)")
	c.Flags().Int64Var(&startingBalance, "starting-balance", 1000, "Balance granted when the account is created")
	_ = c.MarkFlagRequired("database-url")
	return c
}

func showCommand() *cobra.Command {
	var (
		databaseURL string
		userIDRaw   string
	)

	c := &cobra.Command{
		Use:   "show",
		Short: "Print a user's credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			userID, err := uuid.Parse(userIDRaw)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", userIDRaw, err)
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			store, err := persistence.NewCreditStore(ctx, pool)
			if err != nil {
				return fmt.Errorf("init credit store: %w", err)
			}

			account, err := store.GetAccount(ctx, userID)
			if err != nil {
				return fmt.Errorf("get account: %w", err)
			}

			cmd.Printf("%s balance=%d updated=%s\n", account.UserID, account.Balance, account.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&userIDRaw, "user", "", "User id to look up")
	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("user")
	return c
}
