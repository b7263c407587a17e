package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/symptom-expert-server/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL knowledge-base schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrationRunner(cmd, func(mr *database.MigrationRunner) error {
			return mr.Up(cmd.Context())
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrationRunner(cmd, func(mr *database.MigrationRunner) error {
			return mr.Down(cmd.Context())
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrationRunner(cmd, func(mr *database.MigrationRunner) error {
			version, dirty, err := mr.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withMigrationRunner(cmd *cobra.Command, fn func(*database.MigrationRunner) error) error {
	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}

	mr, err := database.NewMigrationRunner(cm.GetDatabaseURL(), cm.GetConfig().Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer mr.Close()

	return fn(mr)
}
