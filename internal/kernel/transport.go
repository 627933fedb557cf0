package kernel

import "context"

// Transport is the opaque wire protocol to a remote kernel host.
// Reconnection and backoff policy belong to the session layer, not here.
type Transport interface {
	// Connect starts a kernel session on srv and returns its remote id.
	Connect(ctx context.Context, srv Server, kernelName string) (string, error)
	// Execute submits code to a session and streams output chunks to
	// onChunk until the remote side reports completion or failure.
	Execute(ctx context.Context, srv Server, sessionID, code string, onChunk func(Chunk)) error
	// ListKernels returns the kernel specs available on srv.
	ListKernels(ctx context.Context, srv Server) ([]Spec, error)
	// TestConnection probes srv without creating a session.
	TestConnection(ctx context.Context, srv Server) ConnStatus
	// Shutdown releases a remote session. Best effort.
	Shutdown(ctx context.Context, srv Server, sessionID string) error
}
