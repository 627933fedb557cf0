package cells

import (
	"errors"
	"testing"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/testutil"
)

func TestDiscoverFindsCodeNodesInOrder(t *testing.T) {
	doc := testutil.Doc("nb",
		testutil.Para("p1", "intro"),
		testutil.Code("c1", "a=1", "local", "python3"),
		testutil.Para("p2", "middle"),
		testutil.Code("c2", "a+1", "local", "python3"),
	)
	r := NewRegistry()

	found, removed := r.Discover(doc)
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none", removed)
	}
	if len(found) != 2 || found[0].ID != "c1" || found[1].ID != "c2" {
		t.Fatalf("found = %+v", found)
	}
	if found[0].Ordinal != 0 || found[1].Ordinal != 1 {
		t.Errorf("ordinals = %d,%d", found[0].Ordinal, found[1].Ordinal)
	}
	if found[0].Server != "local" || found[0].Kernel != "python3" {
		t.Errorf("binding not captured: %+v", found[0])
	}
}

func TestCellIdentitySurvivesSourceEdits(t *testing.T) {
	r := NewRegistry()
	r.Discover(testutil.Doc("nb", testutil.Code("c1", "a=1", "local", "python3")))
	r.UpdateResult("c1", "sess-1", "ok", "")

	r.Discover(testutil.Doc("nb", testutil.Code("c1", "a=2", "local", "python3")))

	c2, err := r.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c2.Source != "a=2" {
		t.Errorf("source not updated: %q", c2.Source)
	}
	if c2.SessionID != "sess-1" || c2.LastOut != "ok" {
		t.Errorf("runtime state lost across rediscovery: %+v", c2)
	}
}

func TestDiscoverDropsDeletedCells(t *testing.T) {
	r := NewRegistry()
	r.Discover(testutil.Doc("nb",
		testutil.Code("c1", "a=1", "", ""),
		testutil.Code("c2", "a=2", "", ""),
	))

	_, removed := r.Discover(testutil.Doc("nb", testutil.Code("c2", "a=2", "", "")))
	if len(removed) != 1 || removed[0] != "c1" {
		t.Fatalf("removed = %v, want [c1]", removed)
	}
	if _, err := r.Get("c1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted cell still registered")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestLazyRegistrationConvergesWithEager(t *testing.T) {
	doc := testutil.Doc("nb",
		testutil.Para("p", "text"),
		testutil.Code("c1", "a=1", "local", "python3"),
		testutil.Code("c2", "a+1", "gpu", "julia"),
	)

	lazy := NewRegistry()
	got, err := lazy.RegisterOnInteraction(doc, "c2")
	if err != nil {
		t.Fatal(err)
	}

	eager := NewRegistry()
	found, _ := eager.Discover(doc)
	want := found[1]

	if got.ID != want.ID || got.Source != want.Source || got.Ordinal != want.Ordinal ||
		got.Server != want.Server || got.Kernel != want.Kernel {
		t.Errorf("lazy %+v differs from eager %+v", got, want)
	}
	if lazy.Len() != 1 {
		t.Errorf("lazy registration must not register other cells, len = %d", lazy.Len())
	}
}

func TestRegisterOnInteractionRejectsNonCode(t *testing.T) {
	doc := testutil.Doc("nb", testutil.Para("p1", "prose"))
	r := NewRegistry()

	if _, err := r.RegisterOnInteraction(doc, "p1"); err == nil {
		t.Fatal("expected error for non-code node")
	}
	if _, err := r.RegisterOnInteraction(doc, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestUpdateResultRoutesThroughRegistry(t *testing.T) {
	r := NewRegistry()
	r.Discover(testutil.Doc("nb", testutil.Code("c1", "a=1", "", "")))

	// Get hands out a snapshot; mutating it must not touch the record.
	c, err := r.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	c.LastOut = "scribbled"
	fresh, _ := r.Get("c1")
	if fresh.LastOut != "" {
		t.Error("mutation leaked through Get's copy")
	}

	r.UpdateResult("c1", "sess-9", "42", "boom")
	got, _ := r.Get("c1")
	if got.SessionID != "sess-9" || got.LastOut != "42" || got.LastErr != "boom" {
		t.Errorf("record = %+v", got)
	}

	// Unknown ids are a no-op.
	r.UpdateResult("ghost", "s", "o", "e")
	if r.Len() != 1 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Discover(testutil.Doc("nb", testutil.Code("c1", "a=1", "", "")))
	r.Remove("c1")
	if _, err := r.Get("c1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("cell still present after Remove")
	}
}
