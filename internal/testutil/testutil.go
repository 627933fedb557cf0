// Package testutil provides shared test helpers for setting up block
// stores, documents and fake kernel transports.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avorein/quire/internal/blockstore"
	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/models"
)

// TestStore creates a temporary SQLite block store that is automatically
// cleaned up.
func TestStore(t *testing.T) *blockstore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "quire-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := blockstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Servers writes a temporary servers.yaml with the given server names
// (all pointing at localhost) and loads it into a registry.
func Servers(t *testing.T, names ...string) *kernel.Registry {
	t.Helper()
	var b strings.Builder
	b.WriteString("servers:\n")
	for i, name := range names {
		fmt.Fprintf(&b, "  - name: %s\n    host: 127.0.0.1\n    port: %d\n", name, 9000+i)
	}
	path := filepath.Join(t.TempDir(), "servers.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := kernel.NewRegistry(path, Logger())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// Logger returns a silent slog logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Doc builds a document snapshot from nodes.
func Doc(notebookID string, nodes ...models.Node) *models.Document {
	return &models.Document{NotebookID: notebookID, Nodes: nodes}
}

// Para builds a paragraph node.
func Para(id, text string) models.Node {
	return models.Node{ID: id, Type: models.NodeParagraph, Text: text}
}

// Code builds a code node bound to a server+kernel.
func Code(id, source, server, kernelName string) models.Node {
	n := models.Node{ID: id, Type: models.NodeCode, Text: source}
	n.SetAttr(models.AttrLanguage, "python")
	if server != "" {
		n.SetAttr(models.AttrServer, server)
	}
	if kernelName != "" {
		n.SetAttr(models.AttrKernel, kernelName)
	}
	return n
}
