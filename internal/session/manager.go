// Package session owns the lifecycle of kernel sessions for one open
// notebook: creation, reuse, shared/manual mode, and teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/models"
)

// State is the lifecycle state of one session binding.
type State string

const (
	StateNone     State = "none"
	StateCreating State = "creating"
	StateReady    State = "ready"
	StateError    State = "error"
)

// Handle is a live reference to a remote kernel session.
type Handle struct {
	Key      string        `json:"key"`
	Server   kernel.Server `json:"server"`
	Kernel   string        `json:"kernel"`
	RemoteID string        `json:"remote_id"`
}

type session struct {
	state   State
	handle  *Handle
	lastErr error
	cells   map[string]struct{}
}

// Manager resolves code cells to kernel sessions. In shared mode every
// cell binds to one session for the whole notebook; in manual mode
// sessions are keyed by (server, kernel), so cells with the same binding
// share a session without creating duplicates.
type Manager struct {
	notebookID string
	servers    *kernel.Registry
	transport  kernel.Transport
	logger     *slog.Logger

	maxRetries int
	backoff    time.Duration

	mu           sync.Mutex
	shared       bool
	sharedServer string
	sharedKernel string
	sessions     map[string]*session

	group singleflight.Group
}

// NewManager creates a session manager for one notebook.
func NewManager(notebookID string, servers *kernel.Registry, transport kernel.Transport, maxRetries int, backoff time.Duration, logger *slog.Logger) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Manager{
		notebookID: notebookID,
		servers:    servers,
		transport:  transport,
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    backoff,
		sessions:   map[string]*session{},
	}
}

const sharedKey = "shared"

func manualKey(server, kernelName string) string {
	return "manual:" + server + "/" + kernelName
}

// Shared reports whether the notebook is in shared-session mode.
func (m *Manager) Shared() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shared
}

// SetSharedBinding sets the server+kernel used by the shared session.
func (m *Manager) SetSharedBinding(server, kernelName string) {
	m.mu.Lock()
	m.sharedServer = server
	m.sharedKernel = kernelName
	m.mu.Unlock()
}

// binding computes the session key and target for a cell under the
// current mode. Returns apperr.ErrNotConfigured when the cell (or the
// shared binding) names no server; no network is touched in that case.
func (m *Manager) binding(cell *models.CodeCell) (key, server, kernelName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shared {
		if m.sharedServer == "" || m.sharedKernel == "" {
			return "", "", "", apperr.ErrNotConfigured
		}
		return sharedKey, m.sharedServer, m.sharedKernel, nil
	}
	if !cell.Configured() {
		return "", "", "", apperr.ErrNotConfigured
	}
	return manualKey(cell.Server, cell.Kernel), cell.Server, cell.Kernel, nil
}

// Resolve returns a ready session handle for the cell, creating one if
// needed. Creation is deduplicated per binding key: concurrent callers
// await the in-flight creation instead of starting a second one.
func (m *Manager) Resolve(ctx context.Context, cell *models.CodeCell) (*Handle, error) {
	key, serverName, kernelName, err := m.binding(cell)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok && s.state == StateReady {
		s.cells[cell.ID] = struct{}{}
		h := s.handle
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.create(ctx, key, serverName, kernelName)
	})
	if err != nil {
		return nil, err
	}
	h := v.(*Handle)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.cells[cell.ID] = struct{}{}
	}
	m.mu.Unlock()
	return h, nil
}

// create dials the remote host with bounded retries and backoff.
// Runs at most once concurrently per key (singleflight).
func (m *Manager) create(ctx context.Context, key, serverName, kernelName string) (*Handle, error) {
	srv, err := m.servers.Get(serverName)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown server %q", apperr.ErrNotConfigured, serverName)
	}

	m.mu.Lock()
	m.sessions[key] = &session{state: StateCreating, cells: map[string]struct{}{}}
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				m.failCreate(key, ctx.Err())
				return nil, fmt.Errorf("%w: %v", apperr.ErrUnreachable, ctx.Err())
			case <-time.After(m.backoff * time.Duration(attempt)):
			}
		}
		remoteID, connErr := m.transport.Connect(ctx, srv, kernelName)
		if connErr == nil {
			h := &Handle{Key: key, Server: srv, Kernel: kernelName, RemoteID: remoteID}
			m.mu.Lock()
			s := m.sessions[key]
			s.state = StateReady
			s.handle = h
			s.lastErr = nil
			m.mu.Unlock()
			m.logger.Info("session: ready",
				slog.String("notebook", m.notebookID),
				slog.String("key", key),
				slog.String("remote_id", remoteID))
			return h, nil
		}
		lastErr = connErr
		m.logger.Warn("session: connect failed",
			slog.String("key", key),
			slog.Int("attempt", attempt+1),
			slog.String("error", connErr.Error()))
	}

	m.failCreate(key, lastErr)
	return nil, fmt.Errorf("%w: %v", apperr.ErrUnreachable, lastErr)
}

// failCreate records a failed creation: Creating → Error.
func (m *Manager) failCreate(key string, cause error) {
	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.state = StateError
		s.lastErr = cause
	}
	m.mu.Unlock()
}

// StateOf returns the state of a binding key, StateNone when unknown.
func (m *Manager) StateOf(key string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s.state
	}
	return StateNone
}

// SetShared toggles shared-session mode. Toggling on migrates all
// currently bound cells to one new shared session atomically: the shared
// session is created first, and only on success are the old per-cell
// sessions released. On failure nothing changes and the previous binding
// set stays intact.
func (m *Manager) SetShared(ctx context.Context, on bool) error {
	m.mu.Lock()
	if m.shared == on {
		m.mu.Unlock()
		return nil
	}
	if !on {
		// Leaving shared mode: release the shared session; cells fall
		// back to their own manual bindings on next execution.
		old := m.sessions[sharedKey]
		delete(m.sessions, sharedKey)
		m.shared = false
		m.mu.Unlock()
		if old != nil && old.handle != nil {
			m.release(old.handle)
		}
		return nil
	}
	server, kernelName := m.sharedServer, m.sharedKernel
	if server == "" || kernelName == "" {
		m.mu.Unlock()
		return apperr.ErrNotConfigured
	}
	// Snapshot the manual sessions to migrate.
	previous := make(map[string]*session, len(m.sessions))
	var boundCells []string
	for k, s := range m.sessions {
		previous[k] = s
		for id := range s.cells {
			boundCells = append(boundCells, id)
		}
	}
	m.mu.Unlock()

	h, err := m.create(ctx, sharedKey, server, kernelName)
	if err != nil {
		// Restore: creation left an error record under sharedKey.
		m.mu.Lock()
		delete(m.sessions, sharedKey)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	shared := m.sessions[sharedKey]
	for _, id := range boundCells {
		shared.cells[id] = struct{}{}
	}
	var released []*Handle
	for k, s := range previous {
		if k == sharedKey {
			continue
		}
		delete(m.sessions, k)
		if s.handle != nil {
			released = append(released, s.handle)
		}
	}
	m.shared = true
	m.mu.Unlock()

	for _, old := range released {
		m.release(old)
	}
	m.logger.Info("session: shared mode on",
		slog.String("notebook", m.notebookID),
		slog.Int("migrated_cells", len(boundCells)),
		slog.Int("released_sessions", len(released)),
		slog.String("remote_id", h.RemoteID))
	return nil
}

// Reset tears down the session for a binding key: Ready → NoSession.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if ok && s.handle != nil {
		m.release(s.handle)
	}
}

// MarkDisconnected records a detected disconnect without contacting the
// remote host. The next Resolve recreates the session.
func (m *Manager) MarkDisconnected(key string) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

// Unbind removes a cell from whatever session it is bound to, used when
// the cell's block is deleted.
func (m *Manager) Unbind(cellID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		delete(s.cells, cellID)
	}
}

// Handles returns the ready handles currently held, for inspection.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Handle
	for _, s := range m.sessions {
		if s.state == StateReady && s.handle != nil {
			out = append(out, s.handle)
		}
	}
	return out
}

// Close releases every live session. Called when the notebook closes so
// remote kernel resources are not leaked.
func (m *Manager) Close() {
	m.mu.Lock()
	var handles []*Handle
	for _, s := range m.sessions {
		if s.handle != nil {
			handles = append(handles, s.handle)
		}
	}
	m.sessions = map[string]*session{}
	m.mu.Unlock()

	for _, h := range handles {
		m.release(h)
	}
}

// release shuts down a remote session, best effort.
func (m *Manager) release(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.transport.Shutdown(ctx, h.Server, h.RemoteID); err != nil {
		m.logger.Warn("session: shutdown failed",
			slog.String("key", h.Key),
			slog.String("error", err.Error()))
	}
}
