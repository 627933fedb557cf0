package kernel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avorein/quire/internal/apperr"
)

// discardLogger avoids importing testutil, which depends on this package.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeServers(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryLoadsServersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	writeServers(t, path, `servers:
  - name: local
    host: 127.0.0.1
    port: 8888
    token: secret
  - name: gpu
    host: gpu.internal
    port: 8888
`)
	r, err := NewRegistry(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 2 {
		t.Fatalf("servers = %d, want 2", len(r.List()))
	}
	s, err := r.Get("local")
	if err != nil {
		t.Fatal(err)
	}
	if s.Token != "secret" {
		t.Errorf("token = %q", s.Token)
	}
	if s.BaseURL() != "http://127.0.0.1:8888" {
		t.Errorf("base url = %q", s.BaseURL())
	}
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "absent.yaml"), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 0 {
		t.Errorf("servers = %d, want 0", len(r.List()))
	}
	if _, err := r.Get("anything"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestRegistrySkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	writeServers(t, path, `servers:
  - name: ""
    host: 127.0.0.1
    port: 8888
  - name: missing-host
    port: 8888
  - name: good
    host: 127.0.0.1
    port: 8888
`)
	r, err := NewRegistry(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("servers = %d, want only the valid one", len(r.List()))
	}
	if _, err := r.Get("good"); err != nil {
		t.Error(err)
	}
}

func TestRegistryReloadReplacesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	writeServers(t, path, "servers:\n  - name: old\n    host: 127.0.0.1\n    port: 8888\n")
	r, err := NewRegistry(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	writeServers(t, path, "servers:\n  - name: new\n    host: 127.0.0.1\n    port: 9999\n")
	if err := r.reload(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("old"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("stale server survived reload")
	}
	if _, err := r.Get("new"); err != nil {
		t.Error("new server missing after reload")
	}
}

func TestRegistryWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	writeServers(t, path, "servers: []\n")

	r, err := NewRegistry(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher a moment to install before touching the file.
	time.Sleep(100 * time.Millisecond)
	writeServers(t, path, "servers:\n  - name: hot\n    host: 127.0.0.1\n    port: 8888\n")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := r.Get("hot"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never picked up the change")
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
