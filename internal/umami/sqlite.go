package umami

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteSink writes events into a staging SQLite database with a single
// website_event table mirroring the CSV schema. Each WriteEvents batch runs
// in one transaction, so a converted hour lands atomically.
type SQLiteSink struct {
	db     *sql.DB
	insert string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS website_event (
	website_id      TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	visit_id        TEXT NOT NULL,
	event_id        TEXT PRIMARY KEY,
	hostname        TEXT,
	browser         TEXT,
	os              TEXT,
	device          TEXT,
	screen          TEXT,
	language        TEXT,
	country         TEXT,
	region          TEXT,
	city            TEXT,
	url_path        TEXT,
	url_query       TEXT,
	utm_source      TEXT,
	utm_medium      TEXT,
	utm_campaign    TEXT,
	utm_content     TEXT,
	utm_term        TEXT,
	referrer_path   TEXT,
	referrer_query  TEXT,
	referrer_domain TEXT,
	page_title      TEXT,
	gclid           TEXT,
	fbclid          TEXT,
	msclkid         TEXT,
	ttclid          TEXT,
	li_fat_id       TEXT,
	twclid          TEXT,
	event_type      INTEGER NOT NULL,
	event_name      TEXT,
	tag             TEXT,
	distinct_id     TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_website_event_created_at
	ON website_event (created_at);
`

// NewSQLiteSink opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening staging database: %w", err)
	}
	// Single writer; SQLite serializes anyway and this avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(Header)), ",")
	insert := fmt.Sprintf("INSERT INTO website_event (%s) VALUES (%s)",
		strings.Join(Header, ", "), placeholders)
	return &SQLiteSink{db: db, insert: insert}, nil
}

// WriteEvents inserts the batch inside one transaction.
func (s *SQLiteSink) WriteEvents(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	stmt, err := tx.Prepare(s.insert)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		record := ev.Record()
		args := make([]any, len(record))
		for i, field := range record {
			if field == "" {
				args[i] = nil
			} else {
				args[i] = field
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting event %s: %w", ev.EventID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
