package platform

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens the embedded SQLite database at path and applies the pragmas
// this backend relies on: WAL journaling (so request handlers reading the
// database don't block the scheduler's background writes), foreign keys
// (Notes CASCADE-delete their CheckboxStates, §3), and a busy timeout so a
// writer momentarily contending with another connection retries instead of
// failing immediately.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has effectively one writer; a small pool avoids SQLITE_BUSY
	// storms under concurrent request handlers while still allowing
	// concurrent readers under WAL.
	db.SetMaxOpenConns(8)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
