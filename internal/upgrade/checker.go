// Package upgrade versions the SQLite state schema.
package upgrade

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RequiredSchemaVersion is the schema version this binary reads and writes.
const RequiredSchemaVersion uint = 1

//go:embed migrations/*.sql
var migrationFS embed.FS

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaDirty = errors.New("state schema is dirty (failed migration)")
	ErrSchemaAhead = errors.New("state schema is newer than this binary")
)

func newMigrator(dbPath string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func status(m *migrate.Migrate) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		s.NeedsMigration = true
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	s.CurrentVersion = version
	s.Dirty = dirty
	if dirty {
		return s, nil
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// CheckSchema reports the schema state of the database at dbPath without
// changing it.
func CheckSchema(dbPath string) (*SchemaStatus, error) {
	m, err := newMigrator(dbPath)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return status(m)
}

// Apply brings the database at dbPath up to RequiredSchemaVersion. A dirty
// or newer schema is returned as an error with FormatError's advice.
func Apply(dbPath string) (*SchemaStatus, error) {
	m, err := newMigrator(dbPath)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	s, err := status(m)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Dirty:
		return s, fmt.Errorf("%w: %s", ErrSchemaDirty, FormatError(s))
	case s.CurrentVersion > s.RequiredVersion:
		return s, fmt.Errorf("%w: %s", ErrSchemaAhead, FormatError(s))
	case s.Compatible:
		return s, nil
	}

	if err := m.Migrate(RequiredSchemaVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate state schema: %w", err)
	}
	slog.Info("state schema migrated", "from", s.CurrentVersion, "to", RequiredSchemaVersion)
	return status(m)
}

// FormatError returns a user-facing explanation for an unusable schema.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf("state database is dirty at version %d; a migration failed partway. "+
			"Restore the database from backup or delete it to start fresh.", s.CurrentVersion)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf("state database schema v%d is newer than this binary (requires v%d); upgrade zalouser.",
			s.CurrentVersion, s.RequiredVersion)
	}
	return fmt.Sprintf("state database schema v%d is behind v%d.", s.CurrentVersion, s.RequiredVersion)
}
