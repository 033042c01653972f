// Package migrations embeds the schema for the sandbox's persisted
// entities and applies it with golang-migrate at process start.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Up applies every pending migration against the given database URL.
// Returns nil both when migrations ran and when the schema was already
// current (migrate.ErrNoChange).
func Up(databaseURL string) error {
	source, err := iofs.New(schemaFS, "sql")
	if err != nil {
		return fmt.Errorf("loading embedded schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("opening migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

// Down rolls back every applied migration. Nothing in this module calls
// it.
func Down(databaseURL string) error {
	source, err := iofs.New(schemaFS, "sql")
	if err != nil {
		return fmt.Errorf("loading embedded schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("opening migrator: %w", err)
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}

	return nil
}
