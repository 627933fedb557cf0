package blockstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/models"
)

// NotebookRow represents a row in the notebooks table.
type NotebookRow struct {
	ID          string
	Title       string
	Fingerprint string
	UpdatedAt   time.Time
}

// ListNotebooks returns all notebooks ordered by last update, newest first.
func (db *DB) ListNotebooks() ([]NotebookRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, title, fingerprint, updated_at
		FROM notebooks
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("blockstore: list notebooks: %w", err)
	}
	defer rows.Close()

	var out []NotebookRow
	for rows.Next() {
		var r NotebookRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Fingerprint, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("blockstore: scan notebook: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetNotebook returns one notebook row, or apperr.ErrNotFound.
func (db *DB) GetNotebook(id string) (*NotebookRow, error) {
	var r NotebookRow
	err := db.conn.QueryRow(`
		SELECT id, title, fingerprint, updated_at FROM notebooks WHERE id = ?
	`, id).Scan(&r.ID, &r.Title, &r.Fingerprint, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blockstore: get notebook: %w", err)
	}
	return &r, nil
}

// UpsertNotebook inserts or updates a notebook row.
func (db *DB) UpsertNotebook(r NotebookRow) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO notebooks (id, title, fingerprint, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			updated_at = excluded.updated_at
	`, r.ID, r.Title, r.Fingerprint, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("blockstore: upsert notebook: %w", err)
	}
	return nil
}

// DeleteNotebook removes a notebook and all of its blocks in one transaction.
func (db *DB) DeleteNotebook(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("blockstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM blocks WHERE notebook_id = ?`, id); err != nil {
		return fmt.Errorf("blockstore: delete blocks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM notebooks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("blockstore: delete notebook: %w", err)
	}
	return tx.Commit()
}

// Fingerprint returns the last persisted fingerprint for a notebook,
// or "" when the notebook is unknown.
func (db *DB) Fingerprint(notebookID string) (string, error) {
	var fp string
	err := db.conn.QueryRow(`SELECT fingerprint FROM notebooks WHERE id = ?`, notebookID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("blockstore: get fingerprint: %w", err)
	}
	return fp, nil
}

// Blocks returns all blocks of a notebook in ordinal order.
func (db *DB) Blocks(notebookID string) ([]models.Block, error) {
	rows, err := db.conn.Query(`
		SELECT id, type, ordinal, content
		FROM blocks
		WHERE notebook_id = ?
		ORDER BY ordinal ASC
	`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("blockstore: list blocks: %w", err)
	}
	defer rows.Close()

	var out []models.Block
	for rows.Next() {
		b := models.Block{NotebookID: notebookID}
		var typ string
		if err := rows.Scan(&b.ID, &typ, &b.Ordinal, &b.Content); err != nil {
			return nil, fmt.Errorf("blockstore: scan block: %w", err)
		}
		b.Type = models.NodeType(typ)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ApplyBatch upserts and deletes blocks and advances the notebook
// fingerprint within a single transaction, so a persist is all-or-nothing.
func (db *DB) ApplyBatch(notebookID string, upserts []models.Block, deletes []string, fp string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("blockstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if len(deletes) > 0 {
		del, err := tx.Prepare(`DELETE FROM blocks WHERE notebook_id = ? AND id = ?`)
		if err != nil {
			return fmt.Errorf("blockstore: prepare delete: %w", err)
		}
		for _, id := range deletes {
			if _, err := del.Exec(notebookID, id); err != nil {
				return fmt.Errorf("blockstore: delete block %s: %w", id, err)
			}
		}
	}

	if len(upserts) > 0 {
		ups, err := tx.Prepare(`
			INSERT INTO blocks (notebook_id, id, type, ordinal, content)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(notebook_id, id) DO UPDATE SET
				type    = excluded.type,
				ordinal = excluded.ordinal,
				content = excluded.content
		`)
		if err != nil {
			return fmt.Errorf("blockstore: prepare upsert: %w", err)
		}
		for _, b := range upserts {
			if _, err := ups.Exec(notebookID, b.ID, string(b.Type), b.Ordinal, b.Content); err != nil {
				return fmt.Errorf("blockstore: upsert block %s: %w", b.ID, err)
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO notebooks (id, fingerprint, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			updated_at  = excluded.updated_at
	`, notebookID, fp, time.Now()); err != nil {
		return fmt.Errorf("blockstore: advance fingerprint: %w", err)
	}

	return tx.Commit()
}
