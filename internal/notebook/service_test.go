package notebook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avorein/quire/internal/apperr"
	"github.com/avorein/quire/internal/clock"
	"github.com/avorein/quire/internal/syncengine"
	"github.com/avorein/quire/internal/testutil"
)

func testService(t *testing.T) (*Service, *testutil.FakeTransport, *clock.Fake) {
	t.Helper()
	trans := &testutil.FakeTransport{}
	clk := clock.NewFake()
	svc := NewService(testutil.TestStore(t), testutil.Servers(t, "local"), trans, clk, Config{
		SessionRetries: 1,
		SessionBackoff: time.Millisecond,
	}, nil, nil, testutil.Logger())
	return svc, trans, clk
}

func TestCreateListDelete(t *testing.T) {
	svc, _, _ := testService(t)

	row, err := svc.Create("Experiments")
	if err != nil {
		t.Fatal(err)
	}
	if row.ID == "" || row.Title != "Experiments" {
		t.Fatalf("row = %+v", row)
	}

	rows, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("notebooks = %d, want 1", len(rows))
	}

	if err := svc.Delete(context.Background(), row.ID); err != nil {
		t.Fatal(err)
	}
	rows, _ = svc.List()
	if len(rows) != 0 {
		t.Errorf("notebooks = %d after delete", len(rows))
	}
}

func TestOpenUnknownNotebook(t *testing.T) {
	svc, _, _ := testService(t)
	if _, err := svc.Open(context.Background(), "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Open = %v, want ErrNotFound", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	svc, _, _ := testService(t)
	row, err := svc.Create("nb")
	if err != nil {
		t.Fatal(err)
	}

	n1, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n1 != n2 {
		t.Error("second Open must return the same context")
	}
}

func TestChangedThenCloseFlushes(t *testing.T) {
	svc, _, _ := testService(t)
	row, err := svc.Create("nb")
	if err != nil {
		t.Fatal(err)
	}
	n, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}

	doc := testutil.Doc(row.ID, testutil.Para("p1", "draft text"))
	n.Changed(doc, syncengine.Change{Inserted: 10})

	if err := svc.Close(context.Background(), row.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The content must survive a reopen: close-time flush persisted it.
	n2, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := n2.Document()
	if len(got.Nodes) != 1 || got.Nodes[0].Text != "draft text" {
		t.Errorf("reopened document = %+v", got.Nodes)
	}
}

func TestRunCellLazilyRegisters(t *testing.T) {
	svc, trans, _ := testService(t)
	row, err := svc.Create("nb")
	if err != nil {
		t.Fatal(err)
	}
	n, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The cell arrives via an edit, never via an eager full discovery.
	n.engine.DocumentChanged(testutil.Doc(row.ID,
		testutil.Code("c1", "print(1)", "local", "python3"),
	), syncengine.Change{Inserted: 1})

	res, err := n.RunCell(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() || res.Output == "" {
		t.Errorf("result = %+v", res)
	}
	if trans.Executes() != 1 {
		t.Errorf("executes = %d", trans.Executes())
	}
}

func TestRunCellUnknown(t *testing.T) {
	svc, _, _ := testService(t)
	row, _ := svc.Create("nb")
	n, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.RunCell(context.Background(), "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("RunCell = %v, want ErrNotFound", err)
	}
}

func TestChangedUnbindsDeletedCells(t *testing.T) {
	svc, trans, _ := testService(t)
	row, _ := svc.Create("nb")
	n, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}

	withCell := testutil.Doc(row.ID, testutil.Code("c1", "print(1)", "local", "python3"))
	n.Changed(withCell, syncengine.Change{Inserted: 1})
	if _, err := n.RunCell(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	// Deleting the block drops the cell and its session binding.
	n.Changed(testutil.Doc(row.ID, testutil.Para("p", "replaced")), syncengine.Change{Deleted: 1})
	if _, err := n.RunCell(context.Background(), "c1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("deleted cell still runnable: %v", err)
	}
	if trans.Executes() != 1 {
		t.Errorf("executes = %d, want 1", trans.Executes())
	}
}

func TestCloseReleasesKernelSessions(t *testing.T) {
	svc, trans, _ := testService(t)
	row, _ := svc.Create("nb")
	n, err := svc.Open(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}
	n.Changed(testutil.Doc(row.ID, testutil.Code("c1", "print(1)", "local", "python3")), syncengine.Change{Inserted: 1})
	if _, err := n.RunCell(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Close(context.Background(), row.ID); err != nil {
		t.Fatal(err)
	}
	if trans.Shutdowns() != 1 {
		t.Errorf("shutdowns = %d, want 1", trans.Shutdowns())
	}
	if _, err := svc.Get(row.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("notebook still open after Close")
	}
}

func TestCloseAll(t *testing.T) {
	svc, _, _ := testService(t)
	for _, title := range []string{"a", "b"} {
		row, _ := svc.Create(title)
		if _, err := svc.Open(context.Background(), row.ID); err != nil {
			t.Fatal(err)
		}
	}
	svc.CloseAll(context.Background())
	if len(svc.open) != 0 {
		t.Errorf("open = %d after CloseAll", len(svc.open))
	}
}
