package database

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations brings the api_keys, series_runs and webhook tables up to
// the newest version found in dir. A dirty schema, left behind by a
// migration that failed halfway, stops startup instead of being migrated
// further.
func (db *DB) RunMigrations(dir string) error {
	driver, err := postgres.WithInstance(db.DB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations from %s: %w", dir, err)
	}

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("📦 Database: empty schema, applying all migrations")
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return fmt.Errorf("schema is dirty at version %d; repair it and force the version before restarting", before)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("📦 Database: schema at version %d, nothing to apply", before)
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	after, _, _ := m.Version()
	log.Printf("📦 Database: migrated from version %d to %d", before, after)
	return nil
}
