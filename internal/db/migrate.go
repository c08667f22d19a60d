// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migration is a pending schema change compiled into the binary. Shipping
// migrations in code keeps the core usable as a library without a migrations
// directory on disk.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		sql: `
		CREATE TABLE local_records (
			local_id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL CHECK(entity_type IN ('checkin', 'vehicle', 'profile')),
			server_id TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			state TEXT NOT NULL CHECK(state IN ('local', 'pending', 'synced')),
			sync_error TEXT NOT NULL DEFAULT '',
			created_at_local INTEGER NOT NULL,
			updated_at_local INTEGER NOT NULL
		);

		CREATE INDEX idx_local_records_entity ON local_records(entity_type);
		CREATE INDEX idx_local_records_state ON local_records(state);

		CREATE TABLE sync_queue (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			local_id TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('create', 'update', 'delete')),
			payload BLOB NOT NULL,
			priority TEXT NOT NULL CHECK(priority IN ('high', 'medium', 'low')),
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			next_retry_at INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('pending', 'in_progress', 'failed')),
			last_error TEXT NOT NULL DEFAULT '',
			enqueued_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX idx_sync_queue_status ON sync_queue(status);
		CREATE INDEX idx_sync_queue_target ON sync_queue(entity_type, local_id, action);

		CREATE TABLE conflict_log (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			local_id TEXT NOT NULL,
			local_timestamp INTEGER NOT NULL,
			remote_timestamp INTEGER NOT NULL,
			winner TEXT NOT NULL CHECK(winner IN ('local', 'remote')),
			detected_at INTEGER NOT NULL
		);
		`,
	},
	{
		version:     2,
		description: "check-in session view",
		sql: `
		CREATE VIEW checkin_sessions AS
		SELECT
			json_extract(CAST(payload AS TEXT), '$.session_id') AS session_id,
			json_extract(CAST(payload AS TEXT), '$.user_id')    AS user_id,
			json_extract(CAST(payload AS TEXT), '$.vehicle_id') AS vehicle_id,
			json_extract(CAST(payload AS TEXT), '$.work_date')  AS work_date,
			json_extract(CAST(payload AS TEXT), '$.type')       AS checkin_type,
			local_id,
			created_at_local
		FROM local_records
		WHERE entity_type = 'checkin';
		`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in version order. Each migration runs in
// its own transaction; an already-applied version is verified against its
// recorded checksum and skipped.
func (m *Migrator) Up() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedByVersion := make(map[int]Migration)
	for _, mig := range applied {
		appliedByVersion[mig.Version] = mig
	}

	for _, mig := range migrations {
		checksum := checksumSQL(mig.sql)

		if prev, ok := appliedByVersion[mig.version]; ok {
			if prev.Checksum != checksum {
				return fmt.Errorf("migration V%d checksum mismatch: schema drifted", mig.version)
			}
			continue
		}

		if err := m.apply(mig, checksum); err != nil {
			return fmt.Errorf("migration V%d (%s) failed: %w", mig.version, mig.description, err)
		}
	}

	return nil
}

// apply runs one migration and records it atomically.
func (m *Migrator) apply(mig migration, checksum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.sql); err != nil {
		return err
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		mig.version, time.Now().Unix(), mig.description, checksum,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// checksumSQL returns the hex SHA-256 of a migration body.
func checksumSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
