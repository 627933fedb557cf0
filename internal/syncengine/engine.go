// Package syncengine keeps the live document consistent with the
// persisted block store: it classifies changes, buffers them in an edit
// queue, and drains the queue into fingerprint-gated batch writes.
package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avorein/quire/internal/blockstore"
	"github.com/avorein/quire/internal/clock"
	"github.com/avorein/quire/internal/editqueue"
	"github.com/avorein/quire/internal/fingerprint"
	"github.com/avorein/quire/internal/models"
)

// SaveStatus is the user-visible persistence signal.
type SaveStatus string

const (
	StatusSaving SaveStatus = "saving"
	StatusSaved  SaveStatus = "saved"
	StatusError  SaveStatus = "error"
)

// StatusFunc receives save-status transitions for the presentation layer.
type StatusFunc func(notebookID string, status SaveStatus)

// Config tunes the debounce/queue policy.
type Config struct {
	Debounce  time.Duration
	MaxQueue  int
	Retention time.Duration
}

// Engine is the per-notebook block sync engine. Persistence is always
// asynchronous relative to the keystroke that triggered it, and at most
// one persist is in flight at a time.
type Engine struct {
	notebookID string
	store      blockstore.Store
	clk        clock.Clock
	logger     *slog.Logger
	debounce   time.Duration
	onStatus   StatusFunc

	queue *editqueue.Queue

	mu         sync.Mutex
	latest     *models.Document
	lastFP     string
	persisted  map[string]models.Block
	persisting bool
	timer      clock.Timer
}

// New creates an engine for one notebook.
func New(notebookID string, store blockstore.Store, clk clock.Clock, cfg Config, onStatus StatusFunc, logger *slog.Logger) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 750 * time.Millisecond
	}
	e := &Engine{
		notebookID: notebookID,
		store:      store,
		clk:        clk,
		logger:     logger,
		debounce:   cfg.Debounce,
		onStatus:   onStatus,
		persisted:  map[string]models.Block{},
	}
	e.queue = editqueue.New(clk, cfg.MaxQueue, cfg.Retention, func() {
		// Queue overflow: drain immediately instead of growing unbounded.
		e.drain()
	})
	return e
}

// Load reads the ordered blocks of the notebook and reconstructs a
// document snapshot. When live already has substantive content the load
// is refused and live is returned unchanged, so a slow load can never
// clobber in-progress edits after a fast reload.
func (e *Engine) Load(ctx context.Context, live *models.Document) (*models.Document, error) {
	if live != nil && live.HasRealContent() {
		e.logger.Debug("syncengine: load skipped, live document has content",
			slog.String("notebook", e.notebookID))
		return live, nil
	}

	blocks, err := e.store.Blocks(e.notebookID)
	if err != nil {
		return nil, err
	}
	doc := &models.Document{NotebookID: e.notebookID, Nodes: make([]models.Node, 0, len(blocks))}
	for _, b := range blocks {
		n, decErr := decodeBlock(b)
		if decErr != nil {
			// A single corrupt block degrades to an empty node of the
			// same type rather than failing the whole load.
			e.logger.Warn("syncengine: corrupt block",
				slog.String("block", b.ID),
				slog.String("error", decErr.Error()))
			n = models.Node{ID: b.ID, Type: b.Type}
		}
		doc.Nodes = append(doc.Nodes, n)
	}

	persisted := make(map[string]models.Block, len(blocks))
	for _, b := range blocks {
		persisted[b.ID] = b
	}

	e.mu.Lock()
	e.latest = doc
	e.lastFP = fingerprint.Snapshot(doc)
	e.persisted = persisted
	e.mu.Unlock()
	return doc.Clone(), nil
}

// Change describes the shape of one low-level document transaction.
type Change struct {
	Position int
	Inserted int
	Deleted  int
}

// Classify maps a change shape onto an edit-operation kind: pure
// insertions insert, pure removals delete, everything else updates.
func Classify(ch Change) models.OpKind {
	switch {
	case ch.Inserted > 0 && ch.Deleted == 0:
		return models.OpInsert
	case ch.Deleted > 0 && ch.Inserted == 0:
		return models.OpDelete
	default:
		return models.OpUpdate
	}
}

// DocumentChanged records a new snapshot and buffers the corresponding
// edit operation; the drain is scheduled on the debounce timer.
func (e *Engine) DocumentChanged(snapshot *models.Document, ch Change) {
	snap := snapshot.Clone()

	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()

	e.queue.Enqueue(models.EditOperation{
		Kind:      Classify(ch),
		Position:  ch.Position,
		Snapshot:  snap,
		Timestamp: e.clk.Now(),
	})
	e.scheduleDrain()
}

// UpdateBlockAttrs writes attributes onto one node of the latest
// snapshot and feeds the change back through the regular queue path.
// This is the write-back route for execution results.
func (e *Engine) UpdateBlockAttrs(blockID string, attrs map[string]string) bool {
	e.mu.Lock()
	if e.latest == nil {
		e.mu.Unlock()
		return false
	}
	snap := e.latest.Clone()
	e.mu.Unlock()

	n := snap.Node(blockID)
	if n == nil {
		return false
	}
	for k, v := range attrs {
		n.SetAttr(k, v)
	}
	e.DocumentChanged(snap, Change{Position: 0, Inserted: 0, Deleted: 0})
	return true
}

// FocusLost triggers an immediate drain, one of the four drain triggers.
func (e *Engine) FocusLost() {
	e.drain()
}

// Flush drains synchronously: explicit manual flush before navigating
// away or closing the notebook. Pending debounce timers are cancelled.
// If a persist is already in flight, Flush waits for it and drains again.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()

	for {
		err := e.drainErr()
		if !errors.Is(err, errPersistInFlight) {
			return err
		}
		wait := make(chan struct{})
		t := e.clk.AfterFunc(10*time.Millisecond, func() { close(wait) })
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-wait:
		}
	}
}

// QueueLen reports the number of buffered operations.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// scheduleDrain arms (or re-arms) the debounce timer.
func (e *Engine) scheduleDrain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer == nil {
		e.timer = e.clk.AfterFunc(e.debounce, e.drain)
		return
	}
	e.timer.Reset(e.debounce)
}

// errPersistInFlight marks a drain that found the previous persist still
// pending. The operations stay queued; the cycle re-arms quietly.
var errPersistInFlight = errors.New("persist in flight")

// drain applies all pending operations against the latest snapshot.
// Re-entrant calls are absorbed by the queue guard.
func (e *Engine) drain() {
	err := e.drainErr()
	if err == nil {
		return
	}
	if !errors.Is(err, errPersistInFlight) {
		e.logger.Warn("syncengine: persist failed, will retry",
			slog.String("notebook", e.notebookID),
			slog.String("error", err.Error()))
	}
	// Failed operations stay queued; re-arm the debounce cycle so the
	// retry happens even without further edits.
	e.scheduleDrain()
}

func (e *Engine) drainErr() error {
	applied, err := e.queue.Drain(func(ops []models.EditOperation) error {
		// Operations apply last-writer-wins against the latest
		// snapshot, not the snapshots captured at enqueue time.
		e.mu.Lock()
		snap := e.latest
		e.mu.Unlock()
		if snap == nil {
			return nil
		}
		return e.persist(snap)
	})
	if err != nil {
		return err
	}
	if applied > 0 {
		e.logger.Debug("syncengine: drained",
			slog.String("notebook", e.notebookID),
			slog.Int("ops", applied))
		return nil
	}

	// The queue can be empty while the snapshot is still ahead of the
	// store: an edit absorbed during an in-flight persist advances latest
	// but its operation is consumed by that earlier drain. Persist the
	// snapshot directly; the fingerprint gate makes this a no-op when the
	// store is already current.
	e.mu.Lock()
	snap := e.latest
	e.mu.Unlock()
	if snap == nil {
		return nil
	}
	return e.persist(snap)
}

// Persist writes the snapshot's block set if its fingerprint differs
// from the last persisted one. Safe to call directly; the engine's
// internal paths already route through it.
func (e *Engine) Persist(_ context.Context, snapshot *models.Document) error {
	return e.persist(snapshot)
}

func (e *Engine) persist(snapshot *models.Document) error {
	fp := fingerprint.Snapshot(snapshot)

	e.mu.Lock()
	if fp == e.lastFP {
		e.mu.Unlock()
		return nil
	}
	if e.persisting {
		// Persistence for a notebook is serialized: a new attempt does
		// not start until the previous one's result is known.
		e.mu.Unlock()
		return errPersistInFlight
	}
	e.persisting = true
	previous := e.persisted
	e.mu.Unlock()

	e.status(StatusSaving)

	blocks, err := blocksFrom(snapshot)
	if err != nil {
		e.finishPersist("", nil, err)
		return err
	}

	// Diff against the last persisted set: changed or new blocks are
	// upserted, vanished ones deleted.
	next := make(map[string]models.Block, len(blocks))
	var upserts []models.Block
	for _, b := range blocks {
		next[b.ID] = b
		prev, ok := previous[b.ID]
		if !ok || prev.Content != b.Content || prev.Ordinal != b.Ordinal || prev.Type != b.Type {
			upserts = append(upserts, b)
		}
	}
	var deletes []string
	for id := range previous {
		if _, ok := next[id]; !ok {
			deletes = append(deletes, id)
		}
	}

	if err := e.store.ApplyBatch(e.notebookID, upserts, deletes, fp); err != nil {
		e.finishPersist("", nil, err)
		return err
	}

	e.finishPersist(fp, next, nil)
	e.logger.Debug("syncengine: persisted",
		slog.String("notebook", e.notebookID),
		slog.Int("upserts", len(upserts)),
		slog.Int("deletes", len(deletes)))
	return nil
}

// finishPersist releases the persist guard and, on success, advances the
// fingerprint. On failure the fingerprint stays put so the next cycle
// retries the same content.
func (e *Engine) finishPersist(fp string, next map[string]models.Block, err error) {
	e.mu.Lock()
	e.persisting = false
	if err == nil {
		e.lastFP = fp
		e.persisted = next
	}
	e.mu.Unlock()

	if err != nil {
		e.status(StatusError)
		return
	}
	e.status(StatusSaved)
}

func (e *Engine) status(s SaveStatus) {
	if e.onStatus != nil {
		e.onStatus(e.notebookID, s)
	}
}

// Latest returns the engine's view of the newest snapshot, or nil before
// the first load or change.
func (e *Engine) Latest() *models.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return nil
	}
	return e.latest.Clone()
}
