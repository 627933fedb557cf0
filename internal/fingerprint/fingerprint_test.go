package fingerprint

import (
	"testing"

	"github.com/avorein/quire/internal/models"
)

func doc(nodes ...models.Node) *models.Document {
	return &models.Document{NotebookID: "nb", Nodes: nodes}
}

func TestSnapshotDeterministic(t *testing.T) {
	d := doc(
		models.Node{ID: "a", Type: models.NodeHeading, Text: "Title"},
		models.Node{ID: "b", Type: models.NodeParagraph, Text: "Body"},
	)
	if Snapshot(d) != Snapshot(d.Clone()) {
		t.Error("equal content should produce equal fingerprints")
	}
}

func TestSnapshotIgnoresEphemeralAttrs(t *testing.T) {
	a := doc(models.Node{ID: "a", Type: models.NodeParagraph, Text: "hi"})
	b := a.Clone()
	b.Nodes[0].SetAttr(models.AttrSelection, "3:7")
	b.Nodes[0].SetAttr(models.AttrMarks, "bold")

	if Snapshot(a) != Snapshot(b) {
		t.Error("selection and marks must not affect the fingerprint")
	}
}

func TestSnapshotDetectsContentChange(t *testing.T) {
	a := doc(models.Node{ID: "a", Type: models.NodeParagraph, Text: "hi"})
	b := a.Clone()
	b.Nodes[0].Text = "hi!"
	if Snapshot(a) == Snapshot(b) {
		t.Error("text change must change the fingerprint")
	}

	c := a.Clone()
	c.Nodes[0].SetAttr(models.AttrOutput, "42")
	if Snapshot(a) == Snapshot(c) {
		t.Error("persistent attr change must change the fingerprint")
	}
}

func TestSnapshotDetectsReorder(t *testing.T) {
	a := doc(
		models.Node{ID: "a", Type: models.NodeParagraph, Text: "one"},
		models.Node{ID: "b", Type: models.NodeParagraph, Text: "two"},
	)
	b := doc(
		models.Node{ID: "b", Type: models.NodeParagraph, Text: "two"},
		models.Node{ID: "a", Type: models.NodeParagraph, Text: "one"},
	)
	if Snapshot(a) == Snapshot(b) {
		t.Error("node order must affect the fingerprint")
	}
}

func TestFieldBoundariesDoNotCollide(t *testing.T) {
	a := doc(models.Node{ID: "x", Type: models.NodeParagraph, Text: "ab"})
	b := doc(models.Node{ID: "xa", Type: models.NodeParagraph, Text: "b"})
	if Snapshot(a) == Snapshot(b) {
		t.Error("adjacent fields must not collide")
	}
}
