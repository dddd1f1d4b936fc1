package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported database types.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations
var migrations embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// NewDB opens the database, applies pending migrations and returns a ready
// connection. For sqlite, source is a file path; for postgres, a DSN.
func NewDB(driver, source string, logger *zap.Logger) (*sqlx.DB, error) {
	dsn, err := dataSourceName(driver, source)
	if err != nil {
		return nil, err
	}

	if err := MigrateDB(driver, dsn, logger); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer keeps sqlite from returning SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	}

	logger.Info("Successfully connected to the database", zap.String("driver", driver))
	return db, nil
}

// MigrateDB runs the embedded migrations on a dedicated connection.
func MigrateDB(driver, dsn string, logger *zap.Logger) error {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case DriverSQLite:
		dbDriver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(conn, &postgres.Config{})
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Database migration was run successfully", zap.Uint("version", version))
	return nil
}

func dataSourceName(driver, source string) (string, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(source); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return "file:" + source + "?_pragma=busy_timeout(5000)&_time_format=sqlite", nil
	case DriverPostgres:
		if source == "" {
			return "", errors.New("postgres database url is empty")
		}
		return source, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", driver)
	}
}
