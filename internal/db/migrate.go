package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations exposes the embedded schema files.
func Migrations() embed.FS {
	return migrationFiles
}

// MigrateURL rewrites a postgres:// connection string for the pgx5 migrate driver.
func MigrateURL(databaseURL string) (string, error) {
	trimmed := strings.TrimSpace(databaseURL)
	switch {
	case trimmed == "":
		return "", errors.New("db: database url is required")
	case strings.HasPrefix(trimmed, "pgx5://"):
		return trimmed, nil
	case strings.HasPrefix(trimmed, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(trimmed, "postgres://"), nil
	case strings.HasPrefix(trimmed, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(trimmed, "postgresql://"), nil
	default:
		return "", fmt.Errorf("db: unsupported database url scheme in %q", redact(trimmed))
	}
}

// NewMigrator opens a migrate instance over the embedded schema.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	target, err := MigrateURL(databaseURL)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("db: open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("db: init migrate: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending migration. An up-to-date schema is not an error.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the source and database handles of m.
func Close(m *migrate.Migrate) error {
	srcErr, dbErr := m.Close()
	return errors.Join(srcErr, dbErr)
}

func redact(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
