// Package cells tracks every executable code cell discovered in a live
// document, keyed by the cell's stable block id.
package cells

import (
	"fmt"
	"sync"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/models"
)

// Registry reconciles code-cell records against document snapshots.
// Identity is the block id: a cell survives edits to its source and is
// only invalidated when its block is deleted. The registry holds session
// ids as plain strings; sessions are owned elsewhere.
type Registry struct {
	mu    sync.Mutex
	cells map[string]*models.CodeCell
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cells: map[string]*models.CodeCell{}}
}

// fromNode maps one code node onto a cell record, preserving runtime
// state (session binding, last output) on an existing record.
func (r *Registry) fromNode(n *models.Node, ordinal int) *models.CodeCell {
	c, ok := r.cells[n.ID]
	if !ok {
		c = &models.CodeCell{ID: n.ID}
		r.cells[n.ID] = c
	}
	c.Source = n.Text
	c.Language = n.Attr(models.AttrLanguage)
	c.Ordinal = ordinal
	c.Server = n.Attr(models.AttrServer)
	c.Kernel = n.Attr(models.AttrKernel)
	return c
}

// copyOf snapshots one record so callers never share the guarded state.
func copyOf(c *models.CodeCell) *models.CodeCell {
	cp := *c
	return &cp
}

// Discover walks the snapshot eagerly and reconciles the registry with
// every executable-code node, in document order. Cells whose blocks are
// gone are dropped; their ids are returned as removed so callers can
// release session bindings.
func (r *Registry) Discover(snapshot *models.Document) (found []*models.CodeCell, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]struct{}{}
	for i, n := range snapshot.CodeNodes() {
		seen[n.ID] = struct{}{}
		found = append(found, copyOf(r.fromNode(n, i)))
	}
	for id := range r.cells {
		if _, ok := seen[id]; !ok {
			removed = append(removed, id)
			delete(r.cells, id)
		}
	}
	return found, removed
}

// RegisterOnInteraction is the lazy variant used for large documents: it
// registers exactly the cell the user is about to run, without a full
// document walk. Eager and lazy registration converge to the same state
// for the registered cell.
func (r *Registry) RegisterOnInteraction(snapshot *models.Document, cellID string) (*models.CodeCell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, n := range snapshot.CodeNodes() {
		if n.ID == cellID {
			return copyOf(r.fromNode(n, i)), nil
		}
	}
	if n := snapshot.Node(cellID); n != nil {
		return nil, fmt.Errorf("cells: node %s is %s, not executable", cellID, n.Type)
	}
	return nil, apperr.ErrNotFound
}

// Get returns a copy of a registered cell, or apperr.ErrNotFound.
func (r *Registry) Get(cellID string) (*models.CodeCell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cells[cellID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyOf(c), nil
}

// UpdateResult records an execution outcome onto a cell record. Writes
// go through the registry lock so a concurrent Discover never races a
// completing execution.
func (r *Registry) UpdateResult(cellID, sessionID, lastOut, lastErr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cells[cellID]; ok {
		c.SessionID = sessionID
		c.LastOut = lastOut
		c.LastErr = lastErr
	}
}

// Remove drops a cell record, used when its block is deleted outside a
// full discovery pass.
func (r *Registry) Remove(cellID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cells, cellID)
}

// All returns copies of the registered cells in unspecified order;
// callers that need document order should use Discover's result.
func (r *Registry) All() []*models.CodeCell {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.CodeCell, 0, len(r.cells))
	for _, c := range r.cells {
		out = append(out, copyOf(c))
	}
	return out
}

// Len returns the number of registered cells.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}
