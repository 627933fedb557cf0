// Package execution dispatches code-cell runs to kernel sessions and
// routes sanitized results back into the document.
package execution

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avorein/quire/internal/cells"
	"github.com/avorein/quire/internal/clock"
	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/models"
	"github.com/avorein/quire/internal/sanitize"
	"github.com/avorein/quire/internal/session"
	"github.com/avorein/quire/internal/syncengine"
)

// CellStatus is the per-cell execution signal for the presentation layer.
type CellStatus string

const (
	StatusIdle    CellStatus = "idle"
	StatusRunning CellStatus = "running"
	StatusSuccess CellStatus = "success"
	StatusFailed  CellStatus = "error"
)

// StatusFunc receives cell status transitions.
type StatusFunc func(notebookID, cellID string, status CellStatus)

// Result is the accumulated outcome of one execution.
type Result struct {
	CellID   string `json:"cell_id"`
	Seq      uint64 `json:"seq"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Rich     string `json:"rich,omitempty"`
	Output   string `json:"output"`
	Degraded bool   `json:"degraded"`
	Err      string `json:"error,omitempty"`
}

// OK reports whether the execution completed without a kernel error.
func (r *Result) OK() bool { return r.Err == "" }

// pendingWrite is a coalesced result waiting out the throttle interval.
type pendingWrite struct {
	seq   uint64
	attrs map[string]string
}

// Dispatcher runs cells against resolved sessions. Result write-back is
// throttled per cell (coalescing, never losing the latest result) and
// guarded by a monotonic sequence number so a stale in-flight write can
// never overwrite a newer one.
type Dispatcher struct {
	notebookID  string
	registry    *cells.Registry
	sessions    *session.Manager
	transport   kernel.Transport
	engine      *syncengine.Engine
	clk         clock.Clock
	logger      *slog.Logger
	minInterval time.Duration
	onStatus    StatusFunc

	mu          sync.Mutex
	nextSeq     map[string]uint64
	appliedSeq  map[string]uint64
	lastWrite   map[string]time.Time
	pending     map[string]*pendingWrite
	flushTimers map[string]clock.Timer
}

// NewDispatcher creates a dispatcher for one notebook.
func NewDispatcher(notebookID string, registry *cells.Registry, sessions *session.Manager, transport kernel.Transport, engine *syncengine.Engine, clk clock.Clock, minInterval time.Duration, onStatus StatusFunc, logger *slog.Logger) *Dispatcher {
	if minInterval <= 0 {
		minInterval = 250 * time.Millisecond
	}
	return &Dispatcher{
		notebookID:  notebookID,
		registry:    registry,
		sessions:    sessions,
		transport:   transport,
		engine:      engine,
		clk:         clk,
		logger:      logger,
		minInterval: minInterval,
		onStatus:    onStatus,
		nextSeq:     map[string]uint64{},
		appliedSeq:  map[string]uint64{},
		lastWrite:   map[string]time.Time{},
		pending:     map[string]*pendingWrite{},
		flushTimers: map[string]clock.Timer{},
	}
}

// Execute runs a registered cell. Session resolution failures come back
// as wrapped apperr sentinels without any remote host being contacted;
// kernel-side failures are reported inside the Result, not as an error.
func (d *Dispatcher) Execute(ctx context.Context, cellID string) (*Result, error) {
	cell, err := d.registry.Get(cellID)
	if err != nil {
		return nil, err
	}

	handle, err := d.sessions.Resolve(ctx, cell)
	if err != nil {
		d.status(cellID, StatusFailed)
		return nil, err
	}

	d.status(cellID, StatusRunning)

	seq := d.claimSeq(cellID)
	res := &Result{CellID: cellID, Seq: seq}

	var stdout, stderr, rich strings.Builder
	execErr := d.transport.Execute(ctx, handle.Server, handle.RemoteID, cell.Source, func(c kernel.Chunk) {
		switch c.Stream {
		case "stderr":
			stderr.WriteString(c.Text)
		case "rich":
			rich.WriteString(c.Text)
		default:
			stdout.WriteString(c.Text)
		}
	})
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Rich = rich.String()
	if execErr != nil {
		res.Err = execErr.Error()
	}

	raw := res.Rich
	if raw == "" {
		raw = res.Stdout
		if res.Stderr != "" {
			if raw != "" {
				raw += "\n"
			}
			raw += res.Stderr
		}
	}
	res.Output, res.Degraded = sanitize.Embed(raw)

	d.registry.UpdateResult(cellID, handle.RemoteID, res.Output, res.Err)

	d.applyResult(cellID, seq, res)

	if res.OK() {
		d.status(cellID, StatusSuccess)
	} else {
		d.status(cellID, StatusFailed)
	}
	return res, nil
}

// claimSeq assigns the next monotonic sequence number for a cell.
func (d *Dispatcher) claimSeq(cellID string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSeq[cellID]++
	return d.nextSeq[cellID]
}

// applyResult routes a result into the document, dropping stale writes
// and throttling rapid repeats of the same cell.
func (d *Dispatcher) applyResult(cellID string, seq uint64, res *Result) {
	attrs := map[string]string{
		models.AttrOutput:   res.Output,
		models.AttrOutputOK: strconv.FormatBool(res.OK() && !res.Degraded),
	}

	d.mu.Lock()
	if seq < d.appliedSeq[cellID] {
		// An execution newer than this one already landed.
		d.mu.Unlock()
		d.logger.Debug("execution: dropped stale result",
			slog.String("cell", cellID),
			slog.Uint64("seq", seq))
		return
	}

	now := d.clk.Now()
	if since := now.Sub(d.lastWrite[cellID]); since < d.minInterval {
		// Coalesce: remember the newest result and flush it when the
		// interval elapses. The latest result always eventually lands,
		// and an older execution finishing late never displaces it.
		if p := d.pending[cellID]; p == nil || seq > p.seq {
			d.pending[cellID] = &pendingWrite{seq: seq, attrs: attrs}
		}
		if _, armed := d.flushTimers[cellID]; !armed {
			d.flushTimers[cellID] = d.clk.AfterFunc(d.minInterval-since, func() {
				d.flushPending(cellID)
			})
		}
		d.mu.Unlock()
		return
	}

	d.appliedSeq[cellID] = seq
	d.lastWrite[cellID] = now
	d.mu.Unlock()

	d.engine.UpdateBlockAttrs(cellID, attrs)
}

// flushPending writes the coalesced result for a cell after the
// throttle interval.
func (d *Dispatcher) flushPending(cellID string) {
	d.mu.Lock()
	p := d.pending[cellID]
	delete(d.pending, cellID)
	delete(d.flushTimers, cellID)
	if p == nil || p.seq < d.appliedSeq[cellID] {
		d.mu.Unlock()
		return
	}
	d.appliedSeq[cellID] = p.seq
	d.lastWrite[cellID] = d.clk.Now()
	d.mu.Unlock()

	d.engine.UpdateBlockAttrs(cellID, p.attrs)
}

func (d *Dispatcher) status(cellID string, s CellStatus) {
	if d.onStatus != nil {
		d.onStatus(d.notebookID, cellID, s)
	}
}
