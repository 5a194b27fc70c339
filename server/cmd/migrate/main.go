// Command migrate applies the server's SQL schema as a one-shot step. It must
// run to completion before any server worker starts — the server itself never
// issues DDL (see db.VerifySchema), which is what lets N worker processes
// start concurrently without racing on CREATE TABLE.
package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"database/sql"

	_ "modernc.org/sqlite"
)

//go:embed all:migrations
var migrationsFS embed.FS

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		driver string
		dsn    string
		down   bool
	)

	root := &cobra.Command{
		Use:   "fleet-migrate",
		Short: "Apply (or roll back) the fleet server's database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(driver, dsn, down)
		},
	}

	root.Flags().StringVar(&driver, "db-driver", envOrDefault("FLEET_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.Flags().StringVar(&dsn, "db-dsn", envOrDefault("FLEET_DB_DSN", "./fleet.db"), "Database DSN or file path for SQLite")
	root.Flags().BoolVar(&down, "down", false, "Roll back the most recent migration instead of applying pending ones")

	return root
}

func run(driver, dsn string, down bool) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: failed to load embedded migrations: %w", err)
	}

	sqlDB, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return fmt.Errorf("migrate: failed to open %s: %w", driver, err)
	}
	defer sqlDB.Close()

	var m *migrate.Migrate
	switch driver {
	case "sqlite", "":
		drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("migrate: failed to create sqlite driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("migrate: failed to create migrator: %w", err)
		}
	case "postgres":
		drv, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
		if err != nil {
			return fmt.Errorf("migrate: failed to create postgres driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			return fmt.Errorf("migrate: failed to create migrator: %w", err)
		}
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}

	if down {
		if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migrate: rollback failed: %w", err)
		}
		fmt.Println("migrate: rolled back one migration")
		return nil
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate: apply failed: %w", err)
	}
	fmt.Println("migrate: schema up to date")
	return nil
}

func sqlDriverName(driver string) string {
	if driver == "postgres" {
		return "postgres"
	}
	return "sqlite"
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
