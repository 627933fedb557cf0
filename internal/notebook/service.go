// Package notebook ties the sync, cell and execution services together
// into one explicit context per open notebook, replacing ambient global
// state with constructed service objects.
package notebook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/blockstore"
	"github.com/avorein/quire/internal/cells"
	"github.com/avorein/quire/internal/clock"
	"github.com/avorein/quire/internal/execution"
	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/models"
	"github.com/avorein/quire/internal/session"
	"github.com/avorein/quire/internal/syncengine"
)

// Config bundles the tunables of one open notebook's services.
type Config struct {
	Sync           syncengine.Config
	SessionRetries int
	SessionBackoff time.Duration
	ResultInterval time.Duration
}

// Notebook is the explicit per-open-document context: sync engine, cell
// registry, session manager and dispatcher, constructed together and
// torn down together.
type Notebook struct {
	ID string

	engine     *syncengine.Engine
	registry   *cells.Registry
	sessions   *session.Manager
	dispatcher *execution.Dispatcher
	logger     *slog.Logger
}

// Document returns the latest snapshot known to the sync engine.
func (n *Notebook) Document() *models.Document {
	return n.engine.Latest()
}

// Changed feeds a "document changed" notification from the editing
// surface: the registry is reconciled, stale session bindings released,
// and the change queued for persistence.
func (n *Notebook) Changed(snapshot *models.Document, ch syncengine.Change) {
	_, removed := n.registry.Discover(snapshot)
	for _, id := range removed {
		n.sessions.Unbind(id)
	}
	n.engine.DocumentChanged(snapshot, ch)
}

// RunCell registers (or refreshes) the cell lazily from the latest
// snapshot and dispatches its source for execution.
func (n *Notebook) RunCell(ctx context.Context, cellID string) (*execution.Result, error) {
	snap := n.engine.Latest()
	if snap == nil {
		return nil, apperr.ErrNotFound
	}
	if _, err := n.registry.RegisterOnInteraction(snap, cellID); err != nil {
		return nil, err
	}
	return n.dispatcher.Execute(ctx, cellID)
}

// SetShared toggles shared-session mode, optionally rebinding the shared
// target first.
func (n *Notebook) SetShared(ctx context.Context, on bool, server, kernelName string) error {
	if server != "" && kernelName != "" {
		n.sessions.SetSharedBinding(server, kernelName)
	}
	return n.sessions.SetShared(ctx, on)
}

// ResetSession tears down one session binding.
func (n *Notebook) ResetSession(key string) {
	n.sessions.Reset(key)
}

// Sessions exposes the session manager for inspection surfaces.
func (n *Notebook) Sessions() *session.Manager { return n.sessions }

// FocusLost triggers an immediate queue drain.
func (n *Notebook) FocusLost() { n.engine.FocusLost() }

// Flush drains and persists synchronously.
func (n *Notebook) Flush(ctx context.Context) error {
	return n.engine.Flush(ctx)
}

// Service manages open notebooks and notebook CRUD against the store.
type Service struct {
	store     blockstore.Store
	servers   *kernel.Registry
	transport kernel.Transport
	clk       clock.Clock
	cfg       Config
	logger    *slog.Logger

	onSave syncengine.StatusFunc
	onCell execution.StatusFunc

	mu   sync.Mutex
	open map[string]*Notebook
}

// NewService creates the notebook service. onSave and onCell may be nil.
func NewService(store blockstore.Store, servers *kernel.Registry, transport kernel.Transport, clk clock.Clock, cfg Config, onSave syncengine.StatusFunc, onCell execution.StatusFunc, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		servers:   servers,
		transport: transport,
		clk:       clk,
		cfg:       cfg,
		logger:    logger,
		onSave:    onSave,
		onCell:    onCell,
		open:      map[string]*Notebook{},
	}
}

// List returns all notebooks in the store.
func (s *Service) List() ([]blockstore.NotebookRow, error) {
	return s.store.ListNotebooks()
}

// Create makes a new empty notebook and returns its row.
func (s *Service) Create(title string) (*blockstore.NotebookRow, error) {
	row := blockstore.NotebookRow{ID: uuid.NewString(), Title: title}
	if err := s.store.UpsertNotebook(row); err != nil {
		return nil, err
	}
	return &row, nil
}

// Delete closes the notebook if open and removes it with all its blocks.
func (s *Service) Delete(ctx context.Context, id string) error {
	_ = s.Close(ctx, id)
	return s.store.DeleteNotebook(id)
}

// Open loads a notebook into a fresh per-document context. Opening an
// already open notebook returns the existing context.
func (s *Service) Open(ctx context.Context, id string) (*Notebook, error) {
	s.mu.Lock()
	if n, ok := s.open[id]; ok {
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	if _, err := s.store.GetNotebook(id); err != nil {
		return nil, err
	}

	engine := syncengine.New(id, s.store, s.clk, s.cfg.Sync, s.onSave, s.logger)
	registry := cells.NewRegistry()
	sessions := session.NewManager(id, s.servers, s.transport, s.cfg.SessionRetries, s.cfg.SessionBackoff, s.logger)
	dispatcher := execution.NewDispatcher(id, registry, sessions, s.transport, engine, s.clk, s.cfg.ResultInterval, s.onCell, s.logger)

	doc, err := engine.Load(ctx, nil)
	if err != nil {
		return nil, err
	}
	registry.Discover(doc)

	n := &Notebook{
		ID:         id,
		engine:     engine,
		registry:   registry,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     s.logger,
	}

	s.mu.Lock()
	if existing, ok := s.open[id]; ok {
		// Lost the open race; the winner's context stands.
		s.mu.Unlock()
		sessions.Close()
		return existing, nil
	}
	s.open[id] = n
	s.mu.Unlock()

	s.logger.Info("notebook: opened", slog.String("id", id), slog.Int("blocks", len(doc.Nodes)))
	return n, nil
}

// Get returns an open notebook context, or apperr.ErrNotFound.
func (s *Service) Get(id string) (*Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.open[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return n, nil
}

// Close flushes unapplied edits synchronously and releases the
// notebook's kernel sessions. In-flight executions may still complete;
// their results are dropped once the context is gone.
func (s *Service) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.open[id]
	if ok {
		delete(s.open, id)
	}
	s.mu.Unlock()
	if !ok {
		return apperr.ErrNotFound
	}

	err := n.Flush(ctx)
	n.sessions.Close()
	if err != nil {
		s.logger.Warn("notebook: final flush failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("notebook: closed", slog.String("id", id))
	return nil
}

// CloseAll closes every open notebook, used at shutdown.
func (s *Service) CloseAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Close(ctx, id); err != nil {
			s.logger.Warn("notebook: close failed",
				slog.String("id", id),
				slog.String("error", err.Error()))
		}
	}
}
