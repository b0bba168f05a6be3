package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"designdesk/api/internal/store"
)

func migrateCmd(envFile *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if err := store.ApplyMigrations(ctx, db, dir); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			log.WithField("dir", dir).Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	return cmd
}
