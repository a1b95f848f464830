package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_upload_batches_table",
		Up:      migration002AddUploadBatchesTable,
	},
	{
		Version: 3,
		Name:    "add_mutation_indexes",
		Up:      migration003AddMutationIndexes,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// migration001InitialSchema creates the core reconciliation tables. Amounts
// are stored as TEXT to keep decimal precision through the shopspring round
// trip.
func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS residents (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			payment_index INTEGER UNIQUE,
			block TEXT NOT NULL DEFAULT '',
			house_number TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY,
			resident_id INTEGER NOT NULL REFERENCES residents(id),
			amount TEXT NOT NULL,
			paid_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bank_mutations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date DATETIME NOT NULL,
			description TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			balance TEXT NOT NULL DEFAULT '0',
			tx_type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'OTHER',
			state TEXT NOT NULL DEFAULT 'UNMATCHED',
			omit_reason TEXT NOT NULL DEFAULT '',
			verified_at DATETIME,
			verified_by TEXT NOT NULL DEFAULT '',
			resident_id INTEGER REFERENCES residents(id),
			payment_id INTEGER REFERENCES payments(id),
			match_score REAL NOT NULL DEFAULT 0,
			match_strategy TEXT NOT NULL DEFAULT '',
			raw_data TEXT NOT NULL DEFAULT '',
			batch_id TEXT NOT NULL DEFAULT '',
			source_file TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS mutation_verifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mutation_id INTEGER NOT NULL REFERENCES bank_mutations(id),
			action TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			actor TEXT NOT NULL DEFAULT '',
			payment_id_before INTEGER,
			payment_id_after INTEGER,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS resident_aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resident_id INTEGER NOT NULL REFERENCES residents(id),
			alias TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 1,
			last_seen_at DATETIME NOT NULL,
			verified INTEGER NOT NULL DEFAULT 0,
			UNIQUE(resident_id, alias)
		)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func migration002AddUploadBatchesTable(tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS upload_batches (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL DEFAULT '',
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		imported INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	)`

	_, err := tx.Exec(query)
	return err
}

func migration003AddMutationIndexes(tx *sql.Tx) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_mutations_date ON bank_mutations(date)`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_state ON bank_mutations(state)`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_batch ON bank_mutations(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_verifications_mutation ON mutation_verifications(mutation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_resident ON payments(resident_id)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
