package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000000"

// InitDB opens the SQLite database at path and creates the attempt ledger and
// scheduler watermark tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// One writer; the process is single threaded apart from the ops API.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY,
			run_id TEXT,
			session_index INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			status_code INTEGER,
			reason TEXT,
			bytes INTEGER,
			attempted_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS attempts_session_idx ON attempts (session_index, file_name);
		CREATE TABLE IF NOT EXISTS scheduler_runs (
			name TEXT PRIMARY KEY,
			day TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			downloaded INTEGER,
			exhausted INTEGER
		)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}
