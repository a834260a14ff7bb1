package store

import (
	"context"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	apply   func(s *Store) error
}

var migrations = []migration{
	{1, (*Store).migrateV1},
	{2, (*Store).migrateV2},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(s); err != nil {
			return fmt.Errorf("failed to execute migration v%d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		s.logger.Info().Int("version", m.version).Msg("applied migration")
	}

	// Older databases may have lost the row; the default is recreated on
	// every open.
	return s.seedSettings(context.Background())
}

func (s *Store) schemaVersion() (int, error) {
	var raw string
	err := s.db.Get(&raw, `SELECT COALESCE(MAX(value), '0') FROM meta WHERE key = 'schema_version'`)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return v, nil
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id                 TEXT PRIMARY KEY,
		content            TEXT NOT NULL DEFAULT '',
		created_at         INTEGER NOT NULL,
		audio_key          TEXT,
		audio_duration_sec INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);

	CREATE TABLE IF NOT EXISTS deadman_settings (
		id               INTEGER PRIMARY KEY CHECK (id = 1),
		check_in_hours   INTEGER NOT NULL DEFAULT 720,
		warning_hours    INTEGER NOT NULL DEFAULT 168,
		last_check_in_ts INTEGER NOT NULL,
		owner_email      TEXT NOT NULL DEFAULT '',
		notify_emails    TEXT NOT NULL DEFAULT '',
		last_notified_ts INTEGER
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// settingsColumns are columns added to deadman_settings after its first
// release. Databases created by older versions lack some of them.
var settingsColumns = []struct{ name, ddl string }{
	{"owner_email", "owner_email TEXT NOT NULL DEFAULT ''"},
	{"notify_emails", "notify_emails TEXT NOT NULL DEFAULT ''"},
	{"last_notified_stage", "last_notified_stage INTEGER NOT NULL DEFAULT 0"},
	{"last_notified_ts", "last_notified_ts INTEGER"},
}

// migrateV2 adds any missing settings columns, including the escalation
// watermark.
func (s *Store) migrateV2() error {
	for _, col := range settingsColumns {
		exists, err := s.columnExists("deadman_settings", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(`ALTER TABLE deadman_settings ADD COLUMN ` + col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		s.logger.Info().Str("column", col.name).Msg("added settings column")
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	return n > 0, nil
}
