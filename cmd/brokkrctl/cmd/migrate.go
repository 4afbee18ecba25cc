package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/brokkr-labs/brokkr/migrations"
)

var (
	migrateDatabaseURL string
	migrateDown        int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply decision log schema migrations",
	Long: `Migrate brings the decision log schema up to date, or rolls back the
last --down migrations. The migration files are embedded in the binary, so
nothing needs to be shipped alongside it.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDatabaseURL, "database-url", "", "postgres connection URL (defaults to BROKKR_DATABASE_URL)")
	migrateCmd.Flags().IntVar(&migrateDown, "down", 0, "roll back this many migrations instead of applying")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dsn := migrateDatabaseURL
	if dsn == "" {
		dsn = os.Getenv("BROKKR_DATABASE_URL")
	}
	if dsn == "" {
		return fmt.Errorf("--database-url required (or set BROKKR_DATABASE_URL)")
	}
	if migrateDown < 0 {
		return fmt.Errorf("--down must be positive")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate instance: %w", err)
	}
	defer m.Close()

	if migrateDown > 0 {
		err = m.Steps(-migrateDown)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if migrateDown > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", migrateDown)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "Schema version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d (dirty)\n", version)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	}
	return nil
}
