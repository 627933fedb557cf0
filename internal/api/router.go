package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/notebook"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *notebook.Service, servers *kernel.Registry, trans kernel.Transport, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, servers, trans)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notebooks.
	r.Get("/notebooks", h.ListNotebooks)
	r.Post("/notebooks", h.CreateNotebook)
	r.Get("/notebooks/{id}", h.GetNotebook)
	r.Delete("/notebooks/{id}", h.DeleteNotebook)
	r.Post("/notebooks/{id}/close", h.CloseNotebook)

	// Sync.
	r.Post("/notebooks/{id}/changes", h.DocumentChanged)
	r.Post("/notebooks/{id}/flush", h.Flush)

	// Execution.
	r.Post("/notebooks/{id}/cells/{cellID}/run", h.RunCell)
	r.Put("/notebooks/{id}/session/shared", h.SetSharedSession)
	r.Post("/notebooks/{id}/session/reset", h.ResetSession)

	// Kernel servers.
	r.Get("/servers", h.ListServers)
	r.Post("/servers/{name}/test", h.TestServer)
	r.Get("/servers/{name}/kernels", h.ListKernels)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
