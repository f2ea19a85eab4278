package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/practicecore/libs/db"
	"github.com/md-rashed-zaman/practicecore/libs/runtime"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage != storagePostgres {
				return fmt.Errorf("migrate needs STORAGE=%s", storagePostgres)
			}
			logger := runtime.NewLogger(cfg.Service)
			pool, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()
			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("schema migrated")
			return nil
		},
	}
}
