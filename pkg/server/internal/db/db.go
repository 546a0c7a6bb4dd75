package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SnapshotRow is the latest persisted snapshot of a live session.
type SnapshotRow struct {
	Code      string
	Snapshot  []byte
	Status    string
	Reason    string
	UpdatedAt time.Time
}

// ArchiveRow is a finished game kept for history.
type ArchiveRow struct {
	ID       string
	Code     string
	Snapshot []byte
	EndedAt  time.Time
}

// DB represents the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary database tables
func createTables(db *sql.DB) error {
	// Latest snapshot per live session, replaced on every save
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_snapshots (
			code TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Finished games, one row per game
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS session_archive (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			ended_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// UpsertSnapshot replaces the stored snapshot for a session code.
func (db *DB) UpsertSnapshot(row *SnapshotRow) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO session_snapshots (code, snapshot, status, reason, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, row.Code, string(row.Snapshot), row.Status, row.Reason, row.UpdatedAt)
	return err
}

// LoadSnapshot returns the stored snapshot for a session code.
func (db *DB) LoadSnapshot(code string) (*SnapshotRow, error) {
	var row SnapshotRow
	var snapshot string
	err := db.QueryRow(`
		SELECT code, snapshot, status, reason, updated_at
		FROM session_snapshots WHERE code = ?
	`, code).Scan(&row.Code, &snapshot, &row.Status, &row.Reason, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot not found for %s", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %v", err)
	}
	row.Snapshot = []byte(snapshot)
	return &row, nil
}

// DeleteSnapshot removes the stored snapshot for a session code.
func (db *DB) DeleteSnapshot(code string) error {
	_, err := db.Exec("DELETE FROM session_snapshots WHERE code = ?", code)
	return err
}

// InsertArchive stores a finished game.
func (db *DB) InsertArchive(row *ArchiveRow) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO session_archive (id, code, snapshot, ended_at)
		VALUES (?, ?, ?, ?)
	`, row.ID, row.Code, string(row.Snapshot), row.EndedAt)
	return err
}

// ListArchivedCodes returns the codes of all archived games, newest first.
func (db *DB) ListArchivedCodes() ([]string, error) {
	rows, err := db.Query("SELECT code FROM session_archive ORDER BY ended_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
