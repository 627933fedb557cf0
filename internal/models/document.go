// Package models defines the domain types for Quire.
package models

import (
	"sort"
	"strings"
)

// NodeType is the closed set of node kinds a Document may contain.
type NodeType string

const (
	NodeParagraph NodeType = "paragraph"
	NodeHeading   NodeType = "heading"
	NodeCode      NodeType = "code"
	NodeTable     NodeType = "table"
	NodeDivider   NodeType = "divider"
)

// KnownNodeType reports whether t is one of the closed node kinds.
func KnownNodeType(t NodeType) bool {
	switch t {
	case NodeParagraph, NodeHeading, NodeCode, NodeTable, NodeDivider:
		return true
	}
	return false
}

// Ephemeral attribute keys: present on live nodes, excluded from
// persistence and fingerprinting.
const (
	AttrSelection = "selection"
	AttrMarks     = "marks"
)

// Node is one typed element of a Document tree. Attributes carry
// type-specific data (heading level, code language, execution output…).
type Node struct {
	ID    string            `json:"id"`
	Type  NodeType          `json:"type"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Attr returns the named attribute, or "" when absent.
func (n *Node) Attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// SetAttr sets an attribute, allocating the map on first use.
func (n *Node) SetAttr(key, value string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string, 1)
	}
	n.Attrs[key] = value
}

// PersistentAttrs returns the node's attributes with ephemeral keys
// stripped, in sorted key order.
func (n *Node) PersistentAttrs() []AttrKV {
	if len(n.Attrs) == 0 {
		return nil
	}
	out := make([]AttrKV, 0, len(n.Attrs))
	for k, v := range n.Attrs {
		if k == AttrSelection || k == AttrMarks {
			continue
		}
		out = append(out, AttrKV{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AttrKV is one attribute pair in canonical ordering.
type AttrKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Document is a snapshot of the live notebook tree. The editing surface
// owns the live document; everything in this core works on snapshots.
type Document struct {
	NotebookID string `json:"notebook_id"`
	Nodes      []Node `json:"nodes"`
}

// Clone returns a deep copy of the document snapshot.
func (d *Document) Clone() *Document {
	out := &Document{NotebookID: d.NotebookID, Nodes: make([]Node, len(d.Nodes))}
	for i, n := range d.Nodes {
		copied := n
		if n.Attrs != nil {
			copied.Attrs = make(map[string]string, len(n.Attrs))
			for k, v := range n.Attrs {
				copied.Attrs[k] = v
			}
		}
		out.Nodes[i] = copied
	}
	return out
}

// HasRealContent reports whether the document contains at least one
// non-empty node. Guards against a late-arriving load clobbering
// in-progress edits.
func (d *Document) HasRealContent() bool {
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if strings.TrimSpace(n.Text) != "" {
			return true
		}
		if n.Type == NodeCode && strings.TrimSpace(n.Attr(AttrOutput)) != "" {
			return true
		}
	}
	return false
}

// Node returns the node with the given id, or nil.
func (d *Document) Node(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// CodeNodes returns the executable-code nodes in document order.
func (d *Document) CodeNodes() []*Node {
	var out []*Node
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeCode {
			out = append(out, &d.Nodes[i])
		}
	}
	return out
}
