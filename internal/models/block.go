package models

import "time"

// Block is the persisted, addressable unit of notebook content.
// Ordinals are unique and totally ordered within a notebook.
type Block struct {
	NotebookID string   `json:"notebook_id"`
	ID         string   `json:"id"`
	Type       NodeType `json:"type"`
	Ordinal    int      `json:"ordinal"`
	Content    string   `json:"content"`
}

// Code-node attribute keys shared between the live document and storage.
const (
	AttrLanguage = "language"
	AttrOutput   = "output"
	AttrOutputOK = "output_ok"
	AttrServer   = "server"
	AttrKernel   = "kernel"
)

// OpKind classifies one change to the document.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
	OpUpdate OpKind = "update"
)

// EditOperation records one pending change awaiting persistence. It is a
// transient, in-memory intent record and is never persisted itself.
type EditOperation struct {
	Kind      OpKind
	Position  int
	Snapshot  *Document
	Timestamp time.Time
	Applied   bool
}

// CodeCell is the runtime registration of one executable block.
type CodeCell struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Language  string `json:"language"`
	Ordinal   int    `json:"ordinal"`
	Server    string `json:"server,omitempty"`
	Kernel    string `json:"kernel,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	LastOut   string `json:"last_output,omitempty"`
	LastErr   string `json:"last_error,omitempty"`
}

// Configured reports whether the cell carries an explicit server+kernel
// binding for manual-mode resolution.
func (c *CodeCell) Configured() bool {
	return c.Server != "" && c.Kernel != ""
}
