package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

const schema = `CREATE TABLE IF NOT EXISTS ledger (
	date TEXT PRIMARY KEY,
	fatality_count INTEGER NOT NULL CHECK (fatality_count >= 0)
)`

// SQLiteStore keeps the ledger in a SQLite table with the same two columns
// as the CSV file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load reads every row in date order. An empty table is an empty ledger.
func (s *SQLiteStore) Load(ctx context.Context) (Ledger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, fatality_count FROM ledger ORDER BY date`)
	if err != nil {
		return Ledger{}, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			raw   string
			count int64
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return Ledger{}, fmt.Errorf("scan ledger: %w", err)
		}
		date, err := snapshot.ParseDate(raw)
		if err != nil {
			return Ledger{}, fmt.Errorf("%w: date %q: %v", ErrCorrupt, raw, err)
		}
		entries = append(entries, Entry{Date: date, FatalityCount: count})
	}
	if err := rows.Err(); err != nil {
		return Ledger{}, fmt.Errorf("read ledger: %w", err)
	}
	return validate(entries)
}

// Save inserts the entries not yet stored inside one transaction. Existing
// rows are never updated.
func (s *SQLiteStore) Save(ctx context.Context, l Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ledger (date, fatality_count) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range l.Entries {
		if _, err := stmt.ExecContext(ctx, snapshot.FormatDate(e.Date), e.FatalityCount); err != nil {
			return fmt.Errorf("insert %s: %w", snapshot.FormatDate(e.Date), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
