package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zcc-reporting/shared/dbx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		version, err := dbx.Migrate(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create the configured admin user if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cfg, cleanup, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		created, err := rt.SeedAdmin(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s\n", cfg.AdminEmail)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s already exists\n", cfg.AdminEmail)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedAdminCmd)
}
