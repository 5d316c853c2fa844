package store

import (
	"fmt"

	"github.com/google/uuid"
)

const currentSchemaVersion = 4

// Versions at or above this were written by an incompatible format.
const incompatibleSchemaVersion = 100

// runMigrations creates the base schema on a fresh file and applies any
// pending migrations. The version lives in PRAGMA user_version.
func (d *Database) runMigrations() error {
	version, err := d.getSchemaVersion()
	if err != nil {
		return err
	}
	if version >= incompatibleSchemaVersion {
		return fmt.Errorf("%w: %d", ErrFutureSchema, version)
	}

	steps := []struct {
		version int
		apply   func() error
	}{
		{1, d.createBaseSchema},
		{2, d.migrateToV2},
		{3, d.migrateToV3},
		{4, d.migrateToV4},
	}
	for _, step := range steps {
		if version >= step.version {
			continue
		}
		if err := d.applyMigration(step.version, step.apply); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", step.version, err)
		}
		version = step.version
	}
	return nil
}

// getSchemaVersion returns the stored schema version, 0 for a new file.
func (d *Database) getSchemaVersion() (int, error) {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (d *Database) setSchemaVersion(version int) error {
	// PRAGMA does not accept bound parameters.
	_, err := d.q().Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

func (d *Database) applyMigration(version int, apply func() error) error {
	return d.InTransaction(func() error {
		if err := apply(); err != nil {
			return err
		}
		return d.setSchemaVersion(version)
	})
}

func (d *Database) execAll(statements []string) error {
	for _, stmt := range statements {
		if _, err := d.q().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// createBaseSchema creates the v1 tables. AUTOINCREMENT on revs.sequence
// guarantees sequences are never reused.
func (d *Database) createBaseSchema() error {
	return d.execAll([]string{
		`CREATE TABLE IF NOT EXISTS docs (
			doc_id INTEGER PRIMARY KEY,
			docid TEXT UNIQUE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS docs_docid ON docs(docid)`,

		`CREATE TABLE IF NOT EXISTS revs (
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id INTEGER NOT NULL REFERENCES docs(doc_id) ON DELETE CASCADE,
			revid TEXT NOT NULL,
			parent INTEGER REFERENCES revs(sequence) ON DELETE SET NULL,
			current BOOLEAN,
			deleted BOOLEAN DEFAULT 0,
			json BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS revs_by_id ON revs(revid, doc_id)`,
		`CREATE INDEX IF NOT EXISTS revs_current ON revs(doc_id, current)`,
		`CREATE INDEX IF NOT EXISTS revs_parent ON revs(parent)`,

		`CREATE TABLE IF NOT EXISTS attachments (
			sequence INTEGER NOT NULL REFERENCES revs(sequence) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			key TEXT NOT NULL,
			type TEXT,
			length INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS attachments_by_sequence ON attachments(sequence, filename)`,

		`CREATE TABLE IF NOT EXISTS replicators (
			remote TEXT NOT NULL,
			push BOOLEAN,
			last_sequence TEXT,
			UNIQUE (remote, push)
		)`,
	})
}

// migrateToV2 adds attachments.revpos.
func (d *Database) migrateToV2() error {
	if d.columnExists("attachments", "revpos") {
		return nil
	}
	_, err := d.q().Exec(`ALTER TABLE attachments ADD COLUMN revpos INTEGER DEFAULT 0`)
	return err
}

// migrateToV3 adds non-replicated local documents.
func (d *Database) migrateToV3() error {
	return d.execAll([]string{
		`CREATE TABLE IF NOT EXISTS localdocs (
			docid TEXT UNIQUE NOT NULL,
			revid TEXT NOT NULL,
			json BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS localdocs_by_docid ON localdocs(docid)`,
	})
}

// migrateToV4 adds the info table holding the database UUIDs.
func (d *Database) migrateToV4() error {
	if err := d.execAll([]string{
		`CREATE TABLE IF NOT EXISTS info (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}); err != nil {
		return err
	}
	for _, key := range []string{infoPrivateUUID, infoPublicUUID} {
		if _, err := d.q().Exec(
			"INSERT OR IGNORE INTO info (key, value) VALUES (?, ?)", key, uuid.NewString(),
		); err != nil {
			return err
		}
	}
	return nil
}

// columnExists checks if a column exists in a table
func (d *Database) columnExists(table, column string) bool {
	var count int
	err := d.q().QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&count)
	return err == nil && count > 0
}
