package blockstore

import "github.com/avorein/quire/internal/models"

// Store defines the interface for block persistence operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type Store interface {
	ListNotebooks() ([]NotebookRow, error)
	GetNotebook(id string) (*NotebookRow, error)
	UpsertNotebook(r NotebookRow) error
	DeleteNotebook(id string) error
	Fingerprint(notebookID string) (string, error)
	Blocks(notebookID string) ([]models.Block, error)
	ApplyBatch(notebookID string, upserts []models.Block, deletes []string, fp string) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
