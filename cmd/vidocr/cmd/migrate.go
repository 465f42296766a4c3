package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/vidocr/internal/store"
)

// migrateCmd manages the database schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply or roll back the embedded schema migrations of the SQLite store.
Other commands migrate up automatically when they open the database.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSQLite(func(db *store.SQLite) error {
			if err := db.MigrateUp(); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSQLite(func(db *store.SQLite) error {
			if err := db.MigrateDown(); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSQLite(func(db *store.SQLite) error {
			return printVersion(cmd, db)
		})
	},
}

// withSQLite opens the configured database without migrating it.
func withSQLite(fn func(*store.SQLite) error) error {
	cfg := GetConfig()
	if cfg.Database.Driver != "" && cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("migrations need the sqlite driver, not %s", cfg.Database.Driver)
	}
	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *store.SQLite) error {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return err
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}
