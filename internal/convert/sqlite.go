package convert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"movesense-agent/internal/sbem"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS logs (
	name        TEXT PRIMARY KEY,
	imported_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	log_name TEXT    NOT NULL,
	idx      INTEGER NOT NULL,
	kind     TEXT    NOT NULL,
	data     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS records_log_name ON records(log_name);
`

// SQLiteSink stores all converted logs in one database file. Records keep
// their decoded structure as a JSON column so the schema survives new record
// kinds.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("convert: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("convert: database ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("convert: creating schema: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, name string, res *sbem.Result) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("convert: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO logs (name, imported_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", fmt.Errorf("convert: inserting log %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (log_name, idx, kind, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("convert: preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range res.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("convert: encoding record %d of %s: %w", i, name, err)
		}
		if _, err := stmt.ExecContext(ctx, name, i, string(rec.Kind()), string(data)); err != nil {
			return "", fmt.Errorf("convert: inserting record %d of %s: %w", i, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("convert: committing %s: %w", name, err)
	}
	return s.path, nil
}

func (s *SQLiteSink) Standalone() bool { return false }

func (s *SQLiteSink) Close() error { return s.db.Close() }
