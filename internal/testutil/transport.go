package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/avorein/quire/internal/kernel"
)

// FakeTransport is an in-memory kernel.Transport for tests. Zero value
// connects instantly and echoes executed code to stdout.
type FakeTransport struct {
	// ConnectErr, when non-nil, fails every Connect attempt.
	ConnectErr error
	// Chunks are streamed to Execute callers instead of the echo.
	Chunks []kernel.Chunk
	// ExecuteErr fails Execute after streaming Chunks.
	ExecuteErr error
	// ExecuteHook, when non-nil, runs inside Execute before streaming.
	ExecuteHook func(code string)

	connects  atomic.Int64
	executes  atomic.Int64
	shutdowns atomic.Int64

	mu       sync.Mutex
	executed []string
	released []string
}

var _ kernel.Transport = (*FakeTransport)(nil)

// Connects returns the number of Connect calls seen.
func (f *FakeTransport) Connects() int { return int(f.connects.Load()) }

// Executes returns the number of Execute calls seen.
func (f *FakeTransport) Executes() int { return int(f.executes.Load()) }

// Shutdowns returns the number of Shutdown calls seen.
func (f *FakeTransport) Shutdowns() int { return int(f.shutdowns.Load()) }

// Executed returns the codes submitted so far.
func (f *FakeTransport) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// Released returns the session ids shut down so far.
func (f *FakeTransport) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *FakeTransport) Connect(_ context.Context, _ kernel.Server, kernelName string) (string, error) {
	n := f.connects.Add(1)
	if f.ConnectErr != nil {
		return "", f.ConnectErr
	}
	return fmt.Sprintf("sess-%s-%d", kernelName, n), nil
}

func (f *FakeTransport) Execute(_ context.Context, _ kernel.Server, _ string, code string, onChunk func(kernel.Chunk)) error {
	f.executes.Add(1)
	f.mu.Lock()
	f.executed = append(f.executed, code)
	f.mu.Unlock()

	if f.ExecuteHook != nil {
		f.ExecuteHook(code)
	}
	if onChunk != nil {
		if f.Chunks != nil {
			for _, c := range f.Chunks {
				onChunk(c)
			}
		} else {
			onChunk(kernel.Chunk{Stream: "stdout", Text: code})
		}
	}
	return f.ExecuteErr
}

func (f *FakeTransport) ListKernels(_ context.Context, _ kernel.Server) ([]kernel.Spec, error) {
	return []kernel.Spec{{Name: "python3", DisplayName: "Python 3", Language: "python"}}, nil
}

func (f *FakeTransport) TestConnection(_ context.Context, _ kernel.Server) kernel.ConnStatus {
	if f.ConnectErr != nil {
		return kernel.ConnStatus{Success: false, Message: f.ConnectErr.Error()}
	}
	return kernel.ConnStatus{Success: true, Message: "ok"}
}

func (f *FakeTransport) Shutdown(_ context.Context, _ kernel.Server, sessionID string) error {
	f.shutdowns.Add(1)
	f.mu.Lock()
	f.released = append(f.released, sessionID)
	f.mu.Unlock()
	return nil
}
