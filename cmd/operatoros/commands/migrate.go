package commands

import (
	"fmt"

	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/pkg/models"
	"github.com/spf13/cobra"
)

// MigrateCmd rappresenta il comando migrate
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Manage the conversation and step tables.

Migrations are also applied automatically when a persistent store is opened.`,
	Example: `  # Create or update the schema
  operatoros migrate up

  # Drop and recreate every table
  operatoros migrate reset --confirm

  # Show table status
  operatoros migrate status`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or update the schema",
	RunE:  runMigrateUp,
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and recreate the schema. This deletes all data.",
	RunE:  runMigrateReset,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show table status",
	RunE:  runMigrateStatus,
}

var migrateConfirm bool

func init() {
	migrateResetCmd.Flags().BoolVar(&migrateConfirm, "confirm", false, "Confirm reset action")

	MigrateCmd.AddCommand(migrateUpCmd)
	MigrateCmd.AddCommand(migrateResetCmd)
	MigrateCmd.AddCommand(migrateStatusCmd)
}

func initDB(cmd *cobra.Command) (*database.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	initLogging(cmd, cfg)

	if cfg.Database.Type == "memory" {
		return nil, fmt.Errorf("the memory store has no schema; configure sqlite or postgres")
	}
	return database.New(&cfg.Database)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	db, err := initDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
	return nil
}

func runMigrateReset(cmd *cobra.Command, args []string) error {
	if !migrateConfirm {
		return fmt.Errorf("reset requires --confirm flag to proceed")
	}

	db, err := initDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DropAll(); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to recreate schema: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Database reset successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	db, err := initDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	tables := []struct {
		name  string
		model interface{}
	}{
		{"conversations", &models.Conversation{}},
		{"step_records", &models.StepRecord{}},
	}

	for _, table := range tables {
		status := "not created"
		if db.Migrator().HasTable(table.model) {
			var count int64
			db.Model(table.model).Count(&count)
			status = fmt.Sprintf("created (%d records)", count)
		}
		fmt.Fprintf(out, "%-16s %s\n", table.name+":", status)
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	stats := sqlDB.Stats()
	fmt.Fprintf(out, "\nOpen connections: %d (in use %d, idle %d)\n", stats.OpenConnections, stats.InUse, stats.Idle)
	return nil
}
