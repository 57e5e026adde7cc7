package platform

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// schemaVersion is the current target schema version. Bump when adding a
// migration to the migrations slice below.
const schemaVersion = 4

// migration is one forward-only, idempotent schema step. fn receives an open
// *sql.DB and must be safe to run on a database that may already have some or
// all of its effects applied (e.g. guard ALTER TABLE ADD COLUMN with a
// column-existence check — SQLite has no ADD COLUMN IF NOT EXISTS).
type migration struct {
	version     int
	description string
	fn          func(*sql.DB) error
}

var migrations = []migration{
	{1, "initial schema", migrateV1InitialSchema},
	{2, "security & lockout subsystem", migrateV2Security},
	{3, "notes logical-key unique index", migrateV3NotesUniqueIndex},
	{4, "frozen target rollover fields", migrateV4FrozenRollover},
}

// RunMigrations applies any pending migrations in order. Safe to call on
// every startup: only migrations newer than the stored schema version run.
// A migration failure aborts startup (§7: "migration failures are fatal").
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	current, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	logger.Info("schema version", "current", current, "target", schemaVersion)
	if current >= schemaVersion {
		return nil
	}

	for _, m := range migrations {
		if current >= m.version {
			continue
		}
		logger.Info("running migration", "version", m.version, "description", m.description)
		if err := m.fn(db); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.version, m.description, err)
		}
		if err := setSchemaVersion(db, m.version); err != nil {
			return fmt.Errorf("recording schema version v%d: %w", m.version, err)
		}
	}

	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO schema_version (id, version, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, version, time.Now().UTC().Format(time.RFC3339))
	return err
}

// columnExists reports whether a column is present on a table. SQLite has no
// ADD COLUMN IF NOT EXISTS, so idempotent migrations must check first.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func migrateV1InitialSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt TEXT NOT NULL,
			email_enc TEXT,
			password_enc TEXT,
			mfa_secret_enc TEXT,
			notes_key_enc TEXT
		);

		CREATE TABLE IF NOT EXISTS known_categories (
			category_id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			category_type TEXT NOT NULL,
			category_id TEXT NOT NULL,
			category_name TEXT NOT NULL,
			group_id TEXT,
			group_name TEXT,
			month_key TEXT NOT NULL,
			content_enc TEXT NOT NULL,
			salt TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_category ON notes(category_type, category_id);
		CREATE INDEX IF NOT EXISTS idx_notes_month_key ON notes(month_key);

		CREATE TABLE IF NOT EXISTS general_notes (
			month_key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			content_enc TEXT NOT NULL,
			salt TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archived_notes (
			id TEXT PRIMARY KEY,
			category_type TEXT NOT NULL,
			category_id TEXT NOT NULL,
			category_name TEXT NOT NULL,
			group_id TEXT,
			group_name TEXT,
			month_key TEXT NOT NULL,
			content_enc TEXT NOT NULL,
			salt TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			original_category_name TEXT NOT NULL,
			original_group_name TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_archived_notes_category ON archived_notes(category_type, category_id);

		CREATE TABLE IF NOT EXISTS checkbox_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			note_id TEXT REFERENCES notes(id) ON DELETE CASCADE,
			general_note_month_key TEXT,
			viewing_month TEXT NOT NULL,
			states_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_checkbox_note_viewing
			ON checkbox_states(note_id, viewing_month);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_checkbox_general_viewing
			ON checkbox_states(general_note_month_key, viewing_month);

		CREATE TABLE IF NOT EXISTS recurring_categories (
			recurring_id TEXT PRIMARY KEY,
			upstream_category_id TEXT NOT NULL,
			target_amount REAL NOT NULL,
			frequency_months REAL NOT NULL,
			rollover_amount REAL NOT NULL DEFAULT 0,
			next_due_date TEXT,
			frozen_monthly_target REAL,
			target_month TEXT,
			frozen_amount REAL,
			frozen_frequency_months REAL
		);

		CREATE TABLE IF NOT EXISTS refunds_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			replacement_tag_id TEXT,
			replace_tag_by_default INTEGER NOT NULL DEFAULT 0,
			aging_warning_days INTEGER NOT NULL DEFAULT 30,
			show_badge INTEGER NOT NULL DEFAULT 1,
			hide_matched_transactions INTEGER NOT NULL DEFAULT 0,
			hide_expected_transactions INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS refunds_saved_views (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tag_ids TEXT NOT NULL,
			category_ids TEXT,
			sort_order INTEGER NOT NULL DEFAULT 0,
			exclude_from_all INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS refunds_matches (
			id TEXT PRIMARY KEY,
			original_transaction_id TEXT NOT NULL UNIQUE,
			refund_transaction_id TEXT,
			refund_amount REAL,
			refund_merchant TEXT,
			refund_date TEXT,
			refund_account TEXT,
			expected_refund INTEGER NOT NULL DEFAULT 0,
			expected_date TEXT,
			expected_account TEXT,
			expected_account_id TEXT,
			expected_note TEXT,
			expected_amount REAL,
			skipped INTEGER NOT NULL DEFAULT 0,
			transaction_data TEXT,
			created_at TEXT NOT NULL
		);
	`)
	return err
}

func migrateV2Security(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS security_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			success INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			ip_address TEXT,
			country TEXT,
			city TEXT,
			details TEXT,
			user_agent TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_security_events_success ON security_events(success);

		CREATE TABLE IF NOT EXISTS ip_geolocation_cache (
			ip_address TEXT PRIMARY KEY,
			country TEXT,
			city TEXT,
			cached_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS security_preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ip_lockouts (
			ip_address TEXT PRIMARY KEY,
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			locked_until TEXT,
			last_attempt TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ip_lockouts_locked_until ON ip_lockouts(locked_until);
	`)
	return err
}

// migrateV3NotesUniqueIndex resolves the Open Question in spec.md §9: the
// logical key (category_type, category_id, month_key) was only enforced by
// upsert logic, leaving a race where a concurrent insert could produce two
// notes for the same key. A unique index closes it. Idempotent: the
// statements use IF NOT EXISTS and duplicate rows (none expected in a fresh
// database) would make this migration fail loudly rather than silently
// corrupt — acceptable since migration failures are fatal (§7).
func migrateV3NotesUniqueIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_logical_key
			ON notes(category_type, category_id, month_key);
	`)
	return err
}

// migrateV4FrozenRollover adds the rollover-amount and next-due-date fields
// to the frozen-target fingerprint, guarded by columnExists since SQLite has
// no ADD COLUMN IF NOT EXISTS (grounded directly in the inline-migration
// pattern this backend's forebear used for the same kind of idempotent,
// additive schema change).
func migrateV4FrozenRollover(db *sql.DB) error {
	hasRollover, err := columnExists(db, "recurring_categories", "frozen_rollover_amount")
	if err != nil {
		return err
	}
	if !hasRollover {
		if _, err := db.Exec(`ALTER TABLE recurring_categories ADD COLUMN frozen_rollover_amount REAL`); err != nil {
			return err
		}
	}

	hasDueDate, err := columnExists(db, "recurring_categories", "frozen_next_due_date")
	if err != nil {
		return err
	}
	if !hasDueDate {
		if _, err := db.Exec(`ALTER TABLE recurring_categories ADD COLUMN frozen_next_due_date TEXT`); err != nil {
			return err
		}
	}

	return nil
}
