package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/notebook"
)

// Handler exposes the notebook core over HTTP.
type Handler struct {
	svc     *notebook.Service
	servers *kernel.Registry
	trans   kernel.Transport
}

// NewHandler creates an API handler.
func NewHandler(svc *notebook.Service, servers *kernel.Registry, trans kernel.Transport) *Handler {
	return &Handler{svc: svc, servers: servers, trans: trans}
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrNotConfigured):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("no session configured"))
	case errors.Is(err, apperr.ErrUnreachable):
		writeJSON(w, http.StatusBadGateway, errorBody("session unreachable"))
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
	}
}

// ListNotebooks handles GET /notebooks.
func (h *Handler) ListNotebooks(w http.ResponseWriter, _ *http.Request) {
	rows, err := h.svc.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	items := make([]notebookItem, len(rows))
	for i, r := range rows {
		items[i] = notebookItem{ID: r.ID, Title: r.Title, UpdatedAt: r.UpdatedAt}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateNotebook handles POST /notebooks.
func (h *Handler) CreateNotebook(w http.ResponseWriter, r *http.Request) {
	var req createNotebookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	row, err := h.svc.Create(req.Title)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, notebookItem{ID: row.ID, Title: row.Title, UpdatedAt: row.UpdatedAt})
}

// GetNotebook handles GET /notebooks/{id}: opens the notebook (if not
// already open) and returns the loaded document.
func (h *Handler) GetNotebook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.Open(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	doc := n.Document()
	resp := documentResponse{NotebookID: id}
	if doc != nil {
		resp.Nodes = doc.Nodes
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteNotebook handles DELETE /notebooks/{id}.
func (h *Handler) DeleteNotebook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseNotebook handles POST /notebooks/{id}/close: final flush plus
// session teardown.
func (h *Handler) CloseNotebook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DocumentChanged handles POST /notebooks/{id}/changes.
func (h *Handler) DocumentChanged(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	req.Snapshot.NotebookID = n.ID
	n.Changed(&req.Snapshot, req.change())
	w.WriteHeader(http.StatusAccepted)
}

// Flush handles POST /notebooks/{id}/flush (focus loss, navigate away).
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := n.Flush(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunCell handles POST /notebooks/{id}/cells/{cellID}/run.
func (h *Handler) RunCell(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	res, err := n.RunCell(r.Context(), chi.URLParam(r, "cellID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetSharedSession handles PUT /notebooks/{id}/session/shared.
func (h *Handler) SetSharedSession(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var req sharedSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	if err := n.SetShared(r.Context(), req.Enabled, req.Server, req.Kernel); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shared": n.Sessions().Shared()})
}

// ResetSession handles POST /notebooks/{id}/session/reset.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var req resetSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	n.ResetSession(req.Key)
	w.WriteHeader(http.StatusNoContent)
}

// ListServers handles GET /servers.
func (h *Handler) ListServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.servers.List())
}

// TestServer handles POST /servers/{name}/test.
func (h *Handler) TestServer(w http.ResponseWriter, r *http.Request) {
	srv, err := h.servers.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.trans.TestConnection(r.Context(), srv))
}

// ListKernels handles GET /servers/{name}/kernels.
func (h *Handler) ListKernels(w http.ResponseWriter, r *http.Request) {
	srv, err := h.servers.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	specs, err := h.trans.ListKernels(r.Context(), srv)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, specs)
}
