package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/db"
	"github.com/oilwatch/priceintel/internal/resilience"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Applies all pending embedded SQL migrations in lexicographic order under an advisory lock.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		// The whole run is one transaction, so a deadlock or a dropped
		// connection rolls back cleanly and can be retried.
		retry := resilience.WithAttempts(cfg.Store.ConnectRetries)
		retry.OnRetry = resilience.RetryLogger("db.migrate")
		if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return db.Migrate(ctx, pool)
		}); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
