package api

import (
	"time"

	"github.com/avorein/quire/internal/models"
	"github.com/avorein/quire/internal/syncengine"
)

// notebookItem is one entry in the notebook list response.
type notebookItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// createNotebookRequest is the POST /notebooks payload.
type createNotebookRequest struct {
	Title string `json:"title"`
}

// documentResponse is the loaded document returned by GET /notebooks/{id}.
type documentResponse struct {
	NotebookID string        `json:"notebook_id"`
	Nodes      []models.Node `json:"nodes"`
}

// changeRequest is the "document changed" notification payload: the new
// snapshot plus the shape of the low-level transaction that produced it.
type changeRequest struct {
	Snapshot models.Document `json:"snapshot"`
	Position int             `json:"position"`
	Inserted int             `json:"inserted"`
	Deleted  int             `json:"deleted"`
}

func (c *changeRequest) change() syncengine.Change {
	return syncengine.Change{Position: c.Position, Inserted: c.Inserted, Deleted: c.Deleted}
}

// sharedSessionRequest is the PUT /notebooks/{id}/session/shared payload.
type sharedSessionRequest struct {
	Enabled bool   `json:"enabled"`
	Server  string `json:"server,omitempty"`
	Kernel  string `json:"kernel,omitempty"`
}

// resetSessionRequest names the binding key to tear down.
type resetSessionRequest struct {
	Key string `json:"key"`
}
