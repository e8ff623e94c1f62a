package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration is one versioned schema change
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies migrations and validates the resulting schema
type MigrationManager struct {
	db         *sql.DB
	migrations fs.FS
}

// NewMigrationManager uses the migrations compiled into the binary
func NewMigrationManager(db *sql.DB) *MigrationManager {
	sub, _ := fs.Sub(embeddedMigrations, "migrations")
	return NewMigrationManagerFS(db, sub)
}

// NewMigrationManagerFS reads *.sql migrations from the root of fsys
func NewMigrationManagerFS(db *sql.DB, fsys fs.FS) *MigrationManager {
	return &MigrationManager{db: db, migrations: fsys}
}

// ApplyMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction.
func (m *MigrationManager) ApplyMigrations() (int, error) {
	if err := m.createMigrationTable(); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return 0, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	count := 0
	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return count, fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		count++
	}
	return count, nil
}

// ValidateSchema ensures the tables and indexes the store relies on exist
func (m *MigrationManager) ValidateSchema() error {
	for _, table := range []string{"schema_migrations", "connections"} {
		exists, err := m.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	for _, index := range []string{"idx_connections_opened_at", "idx_connections_open"} {
		exists, err := m.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// LoadMigrations returns the migrations sorted by version.
// "001_connections.sql" has version "001" and description "connections".
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.migrations, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.migrations, entry.Name())
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(entry.Name(), ".sql")
		version, description, _ := strings.Cut(name, "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// AppliedVersions returns the set of recorded migration versions
func (m *MigrationManager) AppliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MigrationManager) objectExists(kind, name string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
