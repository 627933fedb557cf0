// Package blockstore provides SQLite-backed persistence for notebook
// blocks: ordered, addressable units of document content.
package blockstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notebooks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blocks (
	notebook_id TEXT NOT NULL,
	id          TEXT NOT NULL,
	type        TEXT NOT NULL,
	ordinal     INTEGER NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (notebook_id, id)
);

CREATE INDEX IF NOT EXISTS idx_blocks_ordinal ON blocks(notebook_id, ordinal);
`

// DB wraps a sql.DB with block-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("blockstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("blockstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("blockstore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
